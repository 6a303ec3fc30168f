package biz

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	assetbiz "github.com/timxs/storage-toolkit/internal/asset/biz"
	contentbiz "github.com/timxs/storage-toolkit/internal/content/biz"
	apperrors "github.com/timxs/storage-toolkit/internal/pkg/errors"
	"github.com/timxs/storage-toolkit/internal/pkg/logger"
	"github.com/timxs/storage-toolkit/internal/settings"
	"github.com/timxs/storage-toolkit/internal/status"
)

// 引用记录列表的排序方式
const (
	SortByReferenceCount = "referenceCount"
	SortByLastScannedAt  = "lastScannedAt"
)

// Record 附件引用记录，每个被引用的附件一条。
// 附件的展示字段在扫描时冗余一份，便于列表检索
type Record struct {
	ID             string
	AssetID        string
	DisplayName    string
	MediaType      string
	Size           int64
	Permalink      string
	ReferenceCount int
	Sources        []contentbiz.Source
	LastScannedAt  time.Time
	PendingDelete  bool
}

// ListQuery 引用记录列表查询
type ListQuery struct {
	Keyword    string // 匹配附件名或访问链接
	SourceType string // 过滤包含某类来源的记录
	Sort       string // referenceCount（默认）/ lastScannedAt
	Page       int
	Size       int
}

// RecordRepo 引用记录仓储接口
type RecordRepo interface {
	MarkAllPendingDelete(ctx context.Context) error
	DeletePendingDelete(ctx context.Context) error
	CreateBatch(ctx context.Context, records []*Record) error
	List(ctx context.Context, query *ListQuery) ([]*Record, int64, error)
	GetByAssetID(ctx context.Context, assetID string) (*Record, error)
	Update(ctx context.Context, record *Record) error
	DeleteAll(ctx context.Context) error
}

// ScanStatusStore 扫描状态存取接口
type ScanStatusStore interface {
	Get(ctx context.Context, scanType string) (*status.Status, error)
	Begin(ctx context.Context, scanType string, timeout time.Duration) (*status.Status, error)
	Complete(ctx context.Context, scanType string, stats map[string]int64) error
	Fail(ctx context.Context, scanType string, message string) error
	Reset(ctx context.Context, scanType string) error
}

// SettingsLoader 读取扫描运行时设置
type SettingsLoader interface {
	Load(ctx context.Context) *settings.ScanSettings
}

// ReferenceUseCase 引用扫描用例
type ReferenceUseCase struct {
	recordRepo  RecordRepo
	assetUC     *assetbiz.AssetUseCase
	registry    *contentbiz.Registry
	statusStore ScanStatusStore
	settings    SettingsLoader
	externalURL string
	logger      *logger.Logger
}

// NewReferenceUseCase 创建引用扫描用例
func NewReferenceUseCase(
	recordRepo RecordRepo,
	assetUC *assetbiz.AssetUseCase,
	registry *contentbiz.Registry,
	statusStore ScanStatusStore,
	settingsStore SettingsLoader,
	externalURL string,
	log *logger.Logger,
) *ReferenceUseCase {
	return &ReferenceUseCase{
		recordRepo:  recordRepo,
		assetUC:     assetUC,
		registry:    registry,
		statusStore: statusStore,
		settings:    settingsStore,
		externalURL: externalURL,
		logger:      log.Named("reference"),
	}
}

// StartScan 发起引用扫描。进行中且未陈旧的扫描会被拒绝；
// 通过准入后立即返回 scanning 状态，重活异步执行
func (uc *ReferenceUseCase) StartScan(ctx context.Context) (*status.Status, error) {
	cfg := uc.settings.Load(ctx)

	st, err := uc.statusStore.Begin(ctx, status.ScanTypeReference, cfg.Timeout())
	if err != nil {
		return nil, err
	}

	uc.logger.Info("reference scan started")
	go uc.runScan(cfg)
	return st, nil
}

// GetStatus 查询引用扫描状态
func (uc *ReferenceUseCase) GetStatus(ctx context.Context) (*status.Status, error) {
	return uc.statusStore.Get(ctx, status.ScanTypeReference)
}

// runScan 异步扫描主体。脱离请求生命周期，使用独立 ctx
func (uc *ReferenceUseCase) runScan(cfg *settings.ScanSettings) {
	ctx := context.Background()
	start := time.Now()

	stats, err := uc.executeScan(ctx, cfg)
	if err != nil {
		uc.logger.Error("reference scan failed", zap.Error(err))
		if ferr := uc.statusStore.Fail(ctx, status.ScanTypeReference, err.Error()); ferr != nil {
			uc.logger.Error("failed to record scan failure", zap.Error(ferr))
		}
		return
	}

	if err := uc.statusStore.Complete(ctx, status.ScanTypeReference, stats); err != nil {
		uc.logger.Error("failed to record scan completion", zap.Error(err))
		return
	}
	uc.logger.Info("reference scan completed",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("total_assets", stats[status.StatTotalAssets]),
		zap.Int64("referenced", stats[status.StatReferencedCount]),
		zap.Int64("unreferenced", stats[status.StatUnreferencedCount]),
	)
}

func (uc *ReferenceUseCase) executeScan(ctx context.Context, cfg *settings.ScanSettings) (map[string]int64, error) {
	// 旧一代记录先打墓碑再删除，保证读方不会在没有墓碑标记的
	// 情况下同时看到两代数据
	if err := uc.recordRepo.MarkAllPendingDelete(ctx); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrScanPersistence, "failed to tombstone previous records")
	}
	if err := uc.recordRepo.DeletePendingDelete(ctx); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrScanPersistence, "failed to remove previous records")
	}

	idx := uc.buildIndex(ctx, cfg)

	assets, err := uc.assetUC.ListAll(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer, "failed to list assets")
	}

	excludedGroups := toSet(cfg.ExcludedGroups)
	excludedPolicies := toSet(cfg.ExcludedPolicies)

	now := time.Now()
	var records []*Record
	stats := map[string]int64{}
	for _, asset := range assets {
		if _, ok := excludedGroups[asset.GroupName]; ok {
			continue
		}
		if _, ok := excludedPolicies[asset.PolicyName]; ok {
			continue
		}
		stats[status.StatTotalAssets]++

		matched := idx.match(asset.Permalink, uc.externalURL)
		if len(matched) == 0 {
			stats[status.StatUnreferencedCount]++
			stats[status.StatUnreferencedSize] += asset.Size
			continue
		}

		stats[status.StatReferencedCount]++
		records = append(records, newRecord(asset, matched, now))
	}

	if err := uc.recordRepo.CreateBatch(ctx, records); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrScanPersistence, "failed to persist reference records")
	}
	return stats, nil
}

// buildIndex 并发运行全部启用且可用的遍历器，汇聚引用索引。
// 单个遍历器的失败按软失败处理：记日志后放弃该类型的产出
func (uc *ReferenceUseCase) buildIndex(ctx context.Context, cfg *settings.ScanSettings) *referenceIndex {
	idx := newReferenceIndex()

	g, gctx := errgroup.WithContext(ctx)
	for _, provider := range uc.registry.Providers() {
		if !cfg.KindEnabled(provider.Kind()) {
			continue
		}
		if !provider.Available(ctx) {
			uc.logger.Debug("content kind not installed, skipping",
				zap.String("kind", provider.Kind()))
			continue
		}

		provider := provider
		g.Go(func() error {
			if err := provider.Scan(gctx, idx); err != nil {
				uc.logger.Warn("content traversal failed, results for this kind dropped",
					zap.String("kind", provider.Kind()),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	fullURLs, relativePaths := idx.size()
	uc.logger.Debug("reference index built",
		zap.Int("full_urls", fullURLs),
		zap.Int("relative_paths", relativePaths),
	)
	return idx
}

func newRecord(asset *assetbiz.Asset, matched sourceSet, scannedAt time.Time) *Record {
	sources := make([]contentbiz.Source, 0, len(matched))
	for src := range matched {
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].SourceType != sources[j].SourceType {
			return sources[i].SourceType < sources[j].SourceType
		}
		if sources[i].SourceID != sources[j].SourceID {
			return sources[i].SourceID < sources[j].SourceID
		}
		return sources[i].ReferenceType < sources[j].ReferenceType
	})

	return &Record{
		ID:             uuid.NewString(),
		AssetID:        asset.ID,
		DisplayName:    asset.DisplayName,
		MediaType:      asset.MediaType,
		Size:           asset.Size,
		Permalink:      asset.Permalink,
		ReferenceCount: len(sources),
		Sources:        sources,
		LastScannedAt:  scannedAt,
	}
}

// List 分页查询引用记录
func (uc *ReferenceUseCase) List(ctx context.Context, query *ListQuery) ([]*Record, int64, error) {
	if query.Page <= 0 {
		query.Page = 1
	}
	if query.Size <= 0 || query.Size > 100 {
		query.Size = 20
	}
	if query.Sort == "" {
		query.Sort = SortByReferenceCount
	}
	return uc.recordRepo.List(ctx, query)
}

// Get 按附件 ID 查询引用记录
func (uc *ReferenceUseCase) Get(ctx context.Context, assetID string) (*Record, error) {
	record, err := uc.recordRepo.GetByAssetID(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, apperrors.New(apperrors.ErrReferenceNotFound)
	}
	return record, nil
}

// UpdateSource 更新记录里某个来源的标题和链接。
// 评论、设置来源展示时才解析出真实标题，客户端解析后写回
func (uc *ReferenceUseCase) UpdateSource(ctx context.Context, assetID, sourceID string, title, url *string) (*Record, error) {
	record, err := uc.Get(ctx, assetID)
	if err != nil {
		return nil, err
	}

	updated := false
	for i := range record.Sources {
		if record.Sources[i].SourceID != sourceID {
			continue
		}
		if title != nil {
			record.Sources[i].SourceTitle = *title
		}
		if url != nil {
			record.Sources[i].SourceURL = *url
		}
		updated = true
	}
	if !updated {
		return nil, apperrors.New(apperrors.ErrReferenceSourceNotFound)
	}

	if err := uc.recordRepo.Update(ctx, record); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrScanPersistence, "failed to update reference record")
	}
	return record, nil
}

// ClearAll 清空全部引用数据并重置扫描状态
func (uc *ReferenceUseCase) ClearAll(ctx context.Context) error {
	if err := uc.recordRepo.DeleteAll(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.ErrScanPersistence, "failed to clear reference records")
	}
	if err := uc.statusStore.Reset(ctx, status.ScanTypeReference); err != nil {
		return err
	}
	uc.logger.Info("reference data cleared")
	return nil
}

// ReferenceCount 附件的外部引用数；无记录返回 0。
// 供重复检测选择保留建议使用
func (uc *ReferenceUseCase) ReferenceCount(ctx context.Context, assetID string) (int, error) {
	record, err := uc.recordRepo.GetByAssetID(ctx, assetID)
	if err != nil {
		return 0, err
	}
	if record == nil {
		return 0, nil
	}
	return record.ReferenceCount, nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
