package biz

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/timxs/storage-toolkit/internal/pkg/logger"
)

// LocalTemplateName 本地存储策略的模板名，
// 只有本地策略的附件才参与内容摘要计算
const LocalTemplateName = "local"

// Asset 附件模型
type Asset struct {
	ID          string
	DisplayName string
	MediaType   string
	Size        int64
	Permalink   string // 附件的访问链接（可能是相对路径或完整 URL）
	PolicyName  string // 所属存储策略
	GroupName   string // 所属分组（可为空）
	OwnerName   string
	UploadedAt  time.Time
}

// Policy 存储策略模型
type Policy struct {
	Name         string
	DisplayName  string
	TemplateName string // local, s3, oss ...
}

// Group 附件分组模型
type Group struct {
	Name        string
	DisplayName string
}

// AssetRepo 附件仓储接口
type AssetRepo interface {
	ListAll(ctx context.Context) ([]*Asset, error)
	ListByPolicies(ctx context.Context, policyNames []string) ([]*Asset, error)
	GetByID(ctx context.Context, id string) (*Asset, error)
	Count(ctx context.Context) (int64, error)
}

// PolicyRepo 存储策略仓储接口
type PolicyRepo interface {
	ListAll(ctx context.Context) ([]*Policy, error)
}

// GroupRepo 附件分组仓储接口
type GroupRepo interface {
	ListAll(ctx context.Context) ([]*Group, error)
}

// AssetUseCase 附件用例
type AssetUseCase struct {
	assetRepo  AssetRepo
	policyRepo PolicyRepo
	groupRepo  GroupRepo
	logger     *logger.Logger
}

// NewAssetUseCase 创建附件用例
func NewAssetUseCase(assetRepo AssetRepo, policyRepo PolicyRepo, groupRepo GroupRepo, log *logger.Logger) *AssetUseCase {
	return &AssetUseCase{
		assetRepo:  assetRepo,
		policyRepo: policyRepo,
		groupRepo:  groupRepo,
		logger:     log,
	}
}

// ListAll 返回全部附件
func (uc *AssetUseCase) ListAll(ctx context.Context) ([]*Asset, error) {
	return uc.assetRepo.ListAll(ctx)
}

// GetByID 根据 ID 获取附件
func (uc *AssetUseCase) GetByID(ctx context.Context, id string) (*Asset, error) {
	return uc.assetRepo.GetByID(ctx, id)
}

// Count 附件总数
func (uc *AssetUseCase) Count(ctx context.Context) (int64, error) {
	return uc.assetRepo.Count(ctx)
}

// LocalPolicyNames 返回本地存储策略名（排除 exclude 中的策略）
func (uc *AssetUseCase) LocalPolicyNames(ctx context.Context, exclude []string) ([]string, error) {
	policies, err := uc.policyRepo.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		excluded[name] = struct{}{}
	}

	var names []string
	for _, p := range policies {
		if p.TemplateName != LocalTemplateName {
			continue
		}
		if _, ok := excluded[p.Name]; ok {
			continue
		}
		names = append(names, p.Name)
	}
	return names, nil
}

// DigestCandidates 返回参与重复检测的附件：
// 本地存储策略下、且不在排除分组/排除策略内的附件
func (uc *AssetUseCase) DigestCandidates(ctx context.Context, excludeGroups, excludePolicies []string) ([]*Asset, error) {
	policyNames, err := uc.LocalPolicyNames(ctx, excludePolicies)
	if err != nil {
		return nil, err
	}
	if len(policyNames) == 0 {
		uc.logger.Info("no local storage policies eligible for duplicate detection")
		return nil, nil
	}

	assets, err := uc.assetRepo.ListByPolicies(ctx, policyNames)
	if err != nil {
		return nil, err
	}

	excludedGroups := make(map[string]struct{}, len(excludeGroups))
	for _, name := range excludeGroups {
		excludedGroups[name] = struct{}{}
	}

	candidates := make([]*Asset, 0, len(assets))
	for _, a := range assets {
		if _, ok := excludedGroups[a.GroupName]; ok {
			continue
		}
		candidates = append(candidates, a)
	}

	uc.logger.Debug("collected digest candidates",
		zap.Int("total", len(assets)),
		zap.Int("eligible", len(candidates)),
		zap.Strings("policies", policyNames),
	)
	return candidates, nil
}
