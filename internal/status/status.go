package status

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/timxs/storage-toolkit/internal/pkg/database"
	apperrors "github.com/timxs/storage-toolkit/internal/pkg/errors"
	"github.com/timxs/storage-toolkit/internal/pkg/logger"
)

// 扫描类型
const (
	ScanTypeReference = "reference"
	ScanTypeDuplicate = "duplicate"
)

// 扫描阶段
const (
	PhaseNone      = "none"
	PhaseScanning  = "scanning"
	PhaseCompleted = "completed"
	PhaseError     = "error"
)

// 引用扫描统计键
const (
	StatTotalAssets       = "totalAssets"
	StatReferencedCount   = "referencedCount"
	StatUnreferencedCount = "unreferencedCount"
	StatUnreferencedSize  = "unreferencedSize"
)

// 重复扫描统计键
const (
	StatGroupCount         = "duplicateGroupCount"
	StatDuplicateFileCount = "duplicateFileCount"
	StatSavableSize        = "savableSize"
)

// Status 扫描状态单例，每个扫描类型一条
type Status struct {
	ScanType     string
	Phase        string
	StartTime    *time.Time
	LastScanTime *time.Time
	ErrorMessage string
	Stats        map[string]int64
	Version      int64
}

// Stale 判断 scanning 状态是否已超过陈旧阈值
func (s *Status) Stale(timeout time.Duration, now time.Time) bool {
	if s.Phase != PhaseScanning {
		return false
	}
	if s.StartTime == nil {
		return true
	}
	return now.Sub(*s.StartTime) >= timeout
}

// InProgress 扫描准入条件：进行中且未陈旧时新扫描被拒绝
func (s *Status) InProgress(timeout time.Duration, now time.Time) bool {
	return s.Phase == PhaseScanning && !s.Stale(timeout, now)
}

// StatusPO 扫描状态数据库模型
type StatusPO struct {
	ID           string     `gorm:"type:uuid;primarykey"`
	ScanType     string     `gorm:"column:scan_type;size:50;not null;uniqueIndex:uidx_status_scan_type"`
	Phase        string     `gorm:"column:phase;size:50;not null;default:'none'"`
	StartTime    *time.Time `gorm:"column:start_time"`
	LastScanTime *time.Time `gorm:"column:last_scan_time"`
	ErrorMessage string     `gorm:"column:error_message;type:text"`
	Stats        string     `gorm:"column:stats;type:jsonb;not null;default:'{}'"`
	Version      int64      `gorm:"column:version;not null;default:0"`
}

func (StatusPO) TableName() string {
	return "scan_statuses"
}

// Store 扫描状态仓储。
// 更新走整条记录的乐观写（version 条件更新），
// 并发写冲突返回 ErrScanStateStale 由调用方决定是否重试
type Store struct {
	db     *database.DB
	logger *logger.Logger
}

// NewStore 创建扫描状态仓储
func NewStore(db *database.DB, log *logger.Logger) *Store {
	return &Store{db: db, logger: log.Named("status")}
}

// Get 读取指定类型的状态单例，不存在时落一条 none 记录
func (s *Store) Get(ctx context.Context, scanType string) (*Status, error) {
	var po StatusPO
	err := s.db.WithContext(ctx).GetDB().
		Where("scan_type = ?", scanType).
		First(&po).Error
	if err == nil {
		return toDomain(&po), nil
	}
	if !database.IsRecordNotFoundError(err) {
		return nil, fmt.Errorf("failed to get scan status: %w", err)
	}

	po = StatusPO{
		ID:       uuid.NewString(),
		ScanType: scanType,
		Phase:    PhaseNone,
		Stats:    "{}",
	}
	if err := s.db.WithContext(ctx).GetDB().Create(&po).Error; err != nil {
		// 并发初始化时另一个写入者可能先落库，重读一次
		var existing StatusPO
		if rerr := s.db.WithContext(ctx).GetDB().
			Where("scan_type = ?", scanType).
			First(&existing).Error; rerr == nil {
			return toDomain(&existing), nil
		}
		return nil, fmt.Errorf("failed to initialize scan status: %w", err)
	}
	return toDomain(&po), nil
}

// Update 乐观写回状态，version 不匹配返回冲突错误
func (s *Store) Update(ctx context.Context, st *Status) error {
	statsJSON, err := json.Marshal(st.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	result := s.db.WithContext(ctx).GetDB().
		Model(&StatusPO{}).
		Where("scan_type = ? AND version = ?", st.ScanType, st.Version).
		Updates(map[string]interface{}{
			"phase":          st.Phase,
			"start_time":     st.StartTime,
			"last_scan_time": st.LastScanTime,
			"error_message":  st.ErrorMessage,
			"stats":          string(statsJSON),
			"version":        st.Version + 1,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update scan status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.New(apperrors.ErrScanStateStale)
	}

	st.Version++
	return nil
}

// Begin 执行扫描准入：scanning 且未陈旧则拒绝，
// 否则原子地把状态置为 scanning 并返回更新后的状态。
// 乐观写冲突视作有人抢先启动，同样按进行中拒绝
func (s *Store) Begin(ctx context.Context, scanType string, timeout time.Duration) (*Status, error) {
	st, err := s.Get(ctx, scanType)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrScanPersistence)
	}

	now := time.Now()
	if st.InProgress(timeout, now) {
		return nil, apperrors.New(apperrors.ErrScanInProgress)
	}
	if st.Phase == PhaseScanning {
		s.logger.Warn("taking over a stale scan",
			zap.String("scan_type", scanType),
			zap.Timep("start_time", st.StartTime),
		)
	}

	st.Phase = PhaseScanning
	st.StartTime = &now
	st.ErrorMessage = ""
	if err := s.Update(ctx, st); err != nil {
		if apperrors.Is(err, apperrors.ErrScanStateStale) {
			return nil, apperrors.New(apperrors.ErrScanInProgress)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrScanPersistence)
	}
	return st, nil
}

// Complete 把状态置为 completed 并写入统计，冲突时有限重试
func (s *Store) Complete(ctx context.Context, scanType string, stats map[string]int64) error {
	return s.finish(ctx, scanType, func(st *Status) {
		now := time.Now()
		st.Phase = PhaseCompleted
		st.LastScanTime = &now
		st.ErrorMessage = ""
		st.Stats = stats
	})
}

// Fail 把状态置为 error 并记录失败原因，冲突时有限重试
func (s *Store) Fail(ctx context.Context, scanType string, message string) error {
	return s.finish(ctx, scanType, func(st *Status) {
		st.Phase = PhaseError
		st.ErrorMessage = message
	})
}

// Reset 清空状态回到 none，冲突时有限重试
func (s *Store) Reset(ctx context.Context, scanType string) error {
	return s.finish(ctx, scanType, func(st *Status) {
		st.Phase = PhaseNone
		st.StartTime = nil
		st.LastScanTime = nil
		st.ErrorMessage = ""
		st.Stats = map[string]int64{}
	})
}

const finishRetries = 3

func (s *Store) finish(ctx context.Context, scanType string, mutate func(st *Status)) error {
	var lastErr error
	for attempt := 0; attempt < finishRetries; attempt++ {
		st, err := s.Get(ctx, scanType)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrScanPersistence)
		}

		mutate(st)
		if st.Stats == nil {
			st.Stats = map[string]int64{}
		}

		err = s.Update(ctx, st)
		if err == nil {
			return nil
		}
		if !apperrors.Is(err, apperrors.ErrScanStateStale) {
			return apperrors.Wrap(err, apperrors.ErrScanPersistence)
		}

		lastErr = err
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	return apperrors.Wrap(lastErr, apperrors.ErrScanPersistence, "gave up after repeated write conflicts")
}

func toDomain(po *StatusPO) *Status {
	stats := map[string]int64{}
	if po.Stats != "" {
		// 坏数据按空统计处理
		_ = json.Unmarshal([]byte(po.Stats), &stats)
	}
	return &Status{
		ScanType:     po.ScanType,
		Phase:        po.Phase,
		StartTime:    po.StartTime,
		LastScanTime: po.LastScanTime,
		ErrorMessage: po.ErrorMessage,
		Stats:        stats,
		Version:      po.Version,
	}
}
