package biz

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	assetbiz "github.com/timxs/storage-toolkit/internal/asset/biz"
	apperrors "github.com/timxs/storage-toolkit/internal/pkg/errors"
	"github.com/timxs/storage-toolkit/internal/pkg/logger"
	"github.com/timxs/storage-toolkit/internal/pkg/workerpool"
	"github.com/timxs/storage-toolkit/internal/settings"
	"github.com/timxs/storage-toolkit/internal/status"
)

// Group 重复附件组，按内容摘要聚合
type Group struct {
	ID              string
	Digest          string
	FileSize        int64
	FileCount       int
	SavableSize     int64
	RecommendedKeep string // 建议保留的附件 ID
	MemberAssetIDs  []string
	PendingDelete   bool
	CreatedAt       time.Time
}

// MemberView 重复组成员的展示视图
type MemberView struct {
	AssetID        string
	DisplayName    string
	MediaType      string
	Permalink      string
	Size           int64
	UploadedAt     time.Time
	ReferenceCount int // -1 表示尚无引用扫描数据
}

// GroupView 附带成员明细的重复组视图
type GroupView struct {
	Group
	Members []MemberView
}

// GroupRepo 重复组仓储接口
type GroupRepo interface {
	MarkAllPendingDelete(ctx context.Context) error
	DeletePendingDelete(ctx context.Context) error
	CreateBatch(ctx context.Context, groups []*Group) error
	List(ctx context.Context, page, size int) ([]*Group, int64, error)
	DeleteAll(ctx context.Context) error
}

// ByteFetcher 按附件访问链接打开字节流
type ByteFetcher interface {
	Open(ctx context.Context, permalink string) (io.ReadCloser, error)
}

// ReferenceCounter 查询附件的外部引用数，供保留建议使用
type ReferenceCounter interface {
	ReferenceCount(ctx context.Context, assetID string) (int, error)
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

// DuplicateUseCase 重复检测用例
type DuplicateUseCase struct {
	groupRepo   GroupRepo
	assetUC     *assetbiz.AssetUseCase
	refCounter  ReferenceCounter
	statusStore ScanStatusStore
	settings    SettingsLoader
	fetcher     ByteFetcher
	logger      *logger.Logger

	// 进行中扫描的易失进度计数，不落库
	scanned atomic.Int64
	total   atomic.Int64
}

// NewDuplicateUseCase 创建重复检测用例
func NewDuplicateUseCase(
	groupRepo GroupRepo,
	assetUC *assetbiz.AssetUseCase,
	refCounter ReferenceCounter,
	statusStore ScanStatusStore,
	settingsStore SettingsLoader,
	fetcher ByteFetcher,
	log *logger.Logger,
) *DuplicateUseCase {
	return &DuplicateUseCase{
		groupRepo:   groupRepo,
		assetUC:     assetUC,
		refCounter:  refCounter,
		statusStore: statusStore,
		settings:    settingsStore,
		fetcher:     fetcher,
		logger:      log.Named("duplicate"),
	}
}

// StartScan 发起重复检测。准入和陈旧判定与引用扫描一致
func (uc *DuplicateUseCase) StartScan(ctx context.Context) (*status.Status, error) {
	cfg := uc.settings.Load(ctx)

	st, err := uc.statusStore.Begin(ctx, status.ScanTypeDuplicate, cfg.Timeout())
	if err != nil {
		return nil, err
	}

	uc.scanned.Store(0)
	uc.total.Store(0)

	uc.logger.Info("duplicate scan started",
		zap.Int("concurrency", cfg.DuplicateConcurrency),
		zap.Duration("digest_timeout", cfg.DigestTimeout),
	)
	go uc.runScan(cfg)
	return st, nil
}

// GetStatus 查询重复扫描状态，进行中时附带易失进度
func (uc *DuplicateUseCase) GetStatus(ctx context.Context) (*status.Status, error) {
	return uc.statusStore.Get(ctx, status.ScanTypeDuplicate)
}

// Progress 当前扫描进度（已处理数、总数）
func (uc *DuplicateUseCase) Progress() (scanned, total int64) {
	return uc.scanned.Load(), uc.total.Load()
}

func (uc *DuplicateUseCase) runScan(cfg *settings.ScanSettings) {
	ctx := context.Background()
	start := time.Now()

	stats, err := uc.executeScan(ctx, cfg)
	if err != nil {
		uc.logger.Error("duplicate scan failed", zap.Error(err))
		// 失败后不再展示残留进度
		uc.scanned.Store(0)
		uc.total.Store(0)
		if ferr := uc.statusStore.Fail(ctx, status.ScanTypeDuplicate, err.Error()); ferr != nil {
			uc.logger.Error("failed to record scan failure", zap.Error(ferr))
		}
		return
	}

	if err := uc.statusStore.Complete(ctx, status.ScanTypeDuplicate, stats); err != nil {
		uc.logger.Error("failed to record scan completion", zap.Error(err))
		return
	}
	uc.logger.Info("duplicate scan completed",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("groups", stats[status.StatGroupCount]),
		zap.Int64("duplicate_files", stats[status.StatDuplicateFileCount]),
		zap.Int64("savable_size", stats[status.StatSavableSize]),
	)

	// 上一代分组的物理删除异步进行，不阻塞完成
	go func() {
		if err := uc.groupRepo.DeletePendingDelete(context.Background()); err != nil {
			uc.logger.Warn("failed to clean up tombstoned duplicate groups", zap.Error(err))
		}
	}()
}

func (uc *DuplicateUseCase) executeScan(ctx context.Context, cfg *settings.ScanSettings) (map[string]int64, error) {
	// 旧分组同步打墓碑；物理删除推迟到新一代写完之后
	if err := uc.groupRepo.MarkAllPendingDelete(ctx); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrScanPersistence, "failed to tombstone previous groups")
	}

	candidates, err := uc.assetUC.DigestCandidates(ctx, cfg.ExcludedGroups, cfg.ExcludedPolicies)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer, "failed to collect digest candidates")
	}

	stats := map[string]int64{
		status.StatGroupCount:         0,
		status.StatDuplicateFileCount: 0,
		status.StatSavableSize:        0,
	}
	if len(candidates) == 0 {
		return stats, nil
	}

	uc.total.Store(int64(len(candidates)))
	digests := uc.digestAll(ctx, cfg, candidates)

	groups := uc.buildGroups(ctx, digests)
	if err := uc.groupRepo.CreateBatch(ctx, groups); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrScanPersistence, "failed to persist duplicate groups")
	}

	for _, g := range groups {
		stats[status.StatGroupCount]++
		stats[status.StatDuplicateFileCount] += int64(g.FileCount - 1)
		stats[status.StatSavableSize] += g.SavableSize
	}
	return stats, nil
}

// digestAll 在有界工作池上计算全部候选附件的内容摘要。
// 单个附件的失败只记日志并排除出分组；进度计数无论成败都会推进
func (uc *DuplicateUseCase) digestAll(ctx context.Context, cfg *settings.ScanSettings, candidates []*assetbiz.Asset) map[string][]*assetbiz.Asset {
	pool, err := workerpool.New(&workerpool.Config{
		Workers:     cfg.DuplicateConcurrency,
		TaskTimeout: cfg.DigestTimeout,
	}, uc.logger.Logger)
	if err != nil {
		uc.logger.Error("failed to create digest worker pool", zap.Error(err))
		return nil
	}
	defer pool.Shutdown()

	var mu sync.Mutex
	digests := make(map[string][]*assetbiz.Asset)

	var wg sync.WaitGroup
	for _, asset := range candidates {
		asset := asset
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer uc.scanned.Add(1)

			err := pool.SubmitWait(ctx, func(taskCtx context.Context) error {
				digest, derr := uc.digestAsset(taskCtx, asset)
				if derr != nil {
					return derr
				}
				mu.Lock()
				defer mu.Unlock()
				// 已超时的任务不再写入结果，与“排除出分组”的日志保持一致
				if taskCtx.Err() != nil {
					return taskCtx.Err()
				}
				digests[digest] = append(digests[digest], asset)
				return nil
			})
			if err != nil {
				uc.logger.Warn("failed to digest asset, excluded from grouping",
					zap.String("asset_id", asset.ID),
					zap.String("permalink", asset.Permalink),
					zap.Error(err),
				)
			}
		}()
	}
	wg.Wait()

	// 超时任务泄漏的 worker 可能仍会尝试写入 digests，
	// 在锁内取快照返回，后续分组只读快照
	mu.Lock()
	snapshot := make(map[string][]*assetbiz.Asset, len(digests))
	for digest, members := range digests {
		snapshot[digest] = members
	}
	mu.Unlock()
	return snapshot
}

func (uc *DuplicateUseCase) digestAsset(ctx context.Context, asset *assetbiz.Asset) (string, error) {
	rc, err := uc.fetcher.Open(ctx, asset.Permalink)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	hasher := md5.New()
	if _, err := io.Copy(hasher, rc); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// buildGroups 把摘要相同且成员数 ≥2 的附件聚合成组，
// 并为每组选出保留建议：外部引用数最高者优先，
// 引用数相同时保留上传最早的
func (uc *DuplicateUseCase) buildGroups(ctx context.Context, digests map[string][]*assetbiz.Asset) []*Group {
	now := time.Now()
	var groups []*Group

	for digest, members := range digests {
		if len(members) < 2 {
			continue
		}

		sort.Slice(members, func(i, j int) bool {
			if !members[i].UploadedAt.Equal(members[j].UploadedAt) {
				return members[i].UploadedAt.Before(members[j].UploadedAt)
			}
			return members[i].ID < members[j].ID
		})

		memberIDs := make([]string, len(members))
		for i, m := range members {
			memberIDs[i] = m.ID
		}

		fileSize := members[0].Size
		groups = append(groups, &Group{
			ID:              uuid.NewString(),
			Digest:          digest,
			FileSize:        fileSize,
			FileCount:       len(members),
			SavableSize:     fileSize * int64(len(members)-1),
			RecommendedKeep: uc.recommendKeep(ctx, members),
			MemberAssetIDs:  memberIDs,
			CreatedAt:       now,
		})
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].SavableSize > groups[j].SavableSize
	})
	return groups
}

func (uc *DuplicateUseCase) recommendKeep(ctx context.Context, members []*assetbiz.Asset) string {
	best := members[0]
	bestCount := uc.referenceCountOf(ctx, best.ID)

	for _, m := range members[1:] {
		count := uc.referenceCountOf(ctx, m.ID)
		if count > bestCount {
			best = m
			bestCount = count
			continue
		}
		// 成员已按上传时间升序排列，引用数相同时保持更早者
	}
	return best.ID
}

func (uc *DuplicateUseCase) referenceCountOf(ctx context.Context, assetID string) int {
	if uc.refCounter == nil {
		return 0
	}
	count, err := uc.refCounter.ReferenceCount(ctx, assetID)
	if err != nil {
		uc.logger.Debug("failed to look up reference count",
			zap.String("asset_id", assetID),
			zap.Error(err),
		)
		return 0
	}
	return count
}

// ListGroups 分页查询重复组并补齐成员明细，按可回收空间降序
func (uc *DuplicateUseCase) ListGroups(ctx context.Context, page, size int) ([]*GroupView, int64, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}

	groups, total, err := uc.groupRepo.List(ctx, page, size)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrInternalServer, "failed to list duplicate groups")
	}

	refAvailable := uc.referenceDataAvailable(ctx)
	views := make([]*GroupView, 0, len(groups))
	for _, g := range groups {
		view := &GroupView{Group: *g}
		for _, assetID := range g.MemberAssetIDs {
			view.Members = append(view.Members, uc.memberView(ctx, assetID, refAvailable))
		}
		views = append(views, view)
	}
	return views, total, nil
}

func (uc *DuplicateUseCase) memberView(ctx context.Context, assetID string, refAvailable bool) MemberView {
	member := MemberView{AssetID: assetID, ReferenceCount: -1}

	asset, err := uc.assetUC.GetByID(ctx, assetID)
	if err != nil {
		uc.logger.Debug("duplicate group member no longer exists",
			zap.String("asset_id", assetID))
		return member
	}
	member.DisplayName = asset.DisplayName
	member.MediaType = asset.MediaType
	member.Permalink = asset.Permalink
	member.Size = asset.Size
	member.UploadedAt = asset.UploadedAt

	if refAvailable {
		member.ReferenceCount = uc.referenceCountOf(ctx, assetID)
	}
	return member
}

// referenceDataAvailable 引用扫描是否有可用产出；
// 没有时成员引用数展示为未知（-1）
func (uc *DuplicateUseCase) referenceDataAvailable(ctx context.Context) bool {
	st, err := uc.statusStore.Get(ctx, status.ScanTypeReference)
	if err != nil {
		return false
	}
	return st.LastScanTime != nil
}

// ClearAll 清空全部重复检测数据并重置扫描状态
func (uc *DuplicateUseCase) ClearAll(ctx context.Context) error {
	if err := uc.groupRepo.DeleteAll(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.ErrScanPersistence, "failed to clear duplicate groups")
	}
	if err := uc.statusStore.Reset(ctx, status.ScanTypeDuplicate); err != nil {
		return err
	}
	uc.scanned.Store(0)
	uc.total.Store(0)
	uc.logger.Info("duplicate data cleared")
	return nil
}
