package recovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/timxs/storage-toolkit/internal/pkg/logger"
	"github.com/timxs/storage-toolkit/internal/status"
)

// InterruptedMessage 被重启打断的扫描统一落这条错误信息
const InterruptedMessage = "scan interrupted by restart"

// Recoverer 启动期的扫描状态恢复。
// 进程上次退出时若有扫描停留在 scanning，状态会永远卡住，
// 这里在启动稍作等待后把这类记录强制置为 error
type Recoverer struct {
	statusStore *status.Store
	delay       time.Duration
	logger      *logger.Logger
}

// New 创建恢复器
func New(statusStore *status.Store, delay time.Duration, log *logger.Logger) *Recoverer {
	return &Recoverer{
		statusStore: statusStore,
		delay:       delay,
		logger:      log.Named("recovery"),
	}
}

// Run 等待 delay 后检查两类扫描状态，恢复被打断的扫描。
// 设计上在独立 goroutine 中运行一次
func (r *Recoverer) Run(ctx context.Context) {
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return
	}

	for _, scanType := range []string{status.ScanTypeReference, status.ScanTypeDuplicate} {
		r.recover(ctx, scanType)
	}
}

func (r *Recoverer) recover(ctx context.Context, scanType string) {
	st, err := r.statusStore.Get(ctx, scanType)
	if err != nil {
		r.logger.Error("failed to inspect scan status on startup",
			zap.String("scan_type", scanType),
			zap.Error(err),
		)
		return
	}
	if st.Phase != status.PhaseScanning {
		return
	}

	r.logger.Warn("found interrupted scan, resetting to error",
		zap.String("scan_type", scanType),
		zap.Timep("start_time", st.StartTime),
	)
	// Fail 内部对写冲突做有限重试
	if err := r.statusStore.Fail(ctx, scanType, InterruptedMessage); err != nil {
		r.logger.Error("failed to reset interrupted scan",
			zap.String("scan_type", scanType),
			zap.Error(err),
		)
		return
	}
	r.logger.Info("interrupted scan reset", zap.String("scan_type", scanType))
}
