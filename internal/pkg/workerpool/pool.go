package workerpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("worker pool is closed")
	ErrTimeout    = errors.New("task execution timeout")
)

// Config Worker Pool 配置
type Config struct {
	Workers     int           // worker 数量
	TaskTimeout time.Duration // 单个任务超时时间，0 表示不限制
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Workers:     4,
		TaskTimeout: 90 * time.Second,
	}
}

// Pool 基于 ants 的有界工作池，用于限制对存储后端的并发访问
type Pool struct {
	pool   *ants.Pool
	config *Config
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// New 创建工作池
func New(config *Config, logger *zap.Logger) (*Pool, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Workers < 1 {
		config.Workers = 1
	}

	antsPool, err := ants.NewPool(config.Workers,
		ants.WithPanicHandler(func(v interface{}) {
			logger.Error("worker pool task panicked", zap.Any("panic", v))
		}),
	)
	if err != nil {
		return nil, err
	}

	return &Pool{
		pool:   antsPool,
		config: config,
		logger: logger,
	}, nil
}

// Submit 提交任务，池满时阻塞直到有空闲 worker
func (p *Pool) Submit(task func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.mu.Unlock()

	return p.pool.Submit(task)
}

// SubmitWait 提交带超时的任务并等待其完成。
// 任务通过 ctx 感知超时；超时后 SubmitWait 返回 ErrTimeout，
// 但任务本身仍会运行到自行检测 ctx 为止。
func (p *Pool) SubmitWait(ctx context.Context, task func(ctx context.Context) error) error {
	if p.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.TaskTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	if err := p.Submit(func() {
		done <- task(ctx)
	}); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	}
}

// Running 返回当前正在执行任务的 worker 数
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Shutdown 关闭工作池，等待已提交任务完成
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.pool.Release()
}
