package data

import (
	"context"
	"fmt"
	"time"

	"github.com/timxs/storage-toolkit/internal/asset/biz"
	"github.com/timxs/storage-toolkit/internal/pkg/database"
)

// AssetPO 附件数据库模型
type AssetPO struct {
	ID          string    `gorm:"type:uuid;primarykey"`
	DisplayName string    `gorm:"column:display_name;size:255;not null"`
	MediaType   string    `gorm:"column:media_type;size:127;not null;index:idx_asset_media_type"`
	Size        int64     `gorm:"column:size;not null;default:0"`
	Permalink   string    `gorm:"column:permalink;size:1024;not null;index:idx_asset_permalink"`
	PolicyName  string    `gorm:"column:policy_name;size:255;not null;index:idx_asset_policy"`
	GroupName   string    `gorm:"column:group_name;size:255;index:idx_asset_group"`
	OwnerName   string    `gorm:"column:owner_name;size:255"`
	UploadedAt  time.Time `gorm:"column:uploaded_at;not null;default:CURRENT_TIMESTAMP"`
}

func (AssetPO) TableName() string {
	return "attachments"
}

// PolicyPO 存储策略数据库模型
type PolicyPO struct {
	Name         string `gorm:"primarykey;size:255"`
	DisplayName  string `gorm:"column:display_name;size:255;not null"`
	TemplateName string `gorm:"column:template_name;size:255;not null;index:idx_policy_template"`
}

func (PolicyPO) TableName() string {
	return "attachment_policies"
}

// GroupPO 附件分组数据库模型
type GroupPO struct {
	Name        string `gorm:"primarykey;size:255"`
	DisplayName string `gorm:"column:display_name;size:255;not null"`
}

func (GroupPO) TableName() string {
	return "attachment_groups"
}

// AssetRepo 附件仓储实现
type AssetRepo struct {
	db *database.DB
}

// NewAssetRepo 创建附件仓储
func NewAssetRepo(db *database.DB) *AssetRepo {
	return &AssetRepo{db: db}
}

// ListAll 查询全部附件
func (r *AssetRepo) ListAll(ctx context.Context) ([]*biz.Asset, error) {
	var pos []AssetPO
	err := r.db.WithContext(ctx).GetDB().Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}

	assets := make([]*biz.Asset, len(pos))
	for i, po := range pos {
		assets[i] = toDomain(&po)
	}
	return assets, nil
}

// ListByPolicies 按存储策略查询附件
func (r *AssetRepo) ListByPolicies(ctx context.Context, policyNames []string) ([]*biz.Asset, error) {
	if len(policyNames) == 0 {
		return []*biz.Asset{}, nil
	}

	var pos []AssetPO
	err := r.db.WithContext(ctx).GetDB().
		Where("policy_name IN ?", policyNames).
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments by policy: %w", err)
	}

	assets := make([]*biz.Asset, len(pos))
	for i, po := range pos {
		assets[i] = toDomain(&po)
	}
	return assets, nil
}

// GetByID 根据 ID 查询附件
func (r *AssetRepo) GetByID(ctx context.Context, id string) (*biz.Asset, error) {
	var po AssetPO
	err := r.db.WithContext(ctx).GetDB().Where("id = ?", id).First(&po).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}
	return toDomain(&po), nil
}

// Count 附件总数
func (r *AssetRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).GetDB().Model(&AssetPO{}).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count attachments: %w", err)
	}
	return count, nil
}

func toDomain(po *AssetPO) *biz.Asset {
	return &biz.Asset{
		ID:          po.ID,
		DisplayName: po.DisplayName,
		MediaType:   po.MediaType,
		Size:        po.Size,
		Permalink:   po.Permalink,
		PolicyName:  po.PolicyName,
		GroupName:   po.GroupName,
		OwnerName:   po.OwnerName,
		UploadedAt:  po.UploadedAt,
	}
}

// PolicyRepo 存储策略仓储实现
type PolicyRepo struct {
	db *database.DB
}

// NewPolicyRepo 创建存储策略仓储
func NewPolicyRepo(db *database.DB) *PolicyRepo {
	return &PolicyRepo{db: db}
}

// ListAll 查询全部存储策略
func (r *PolicyRepo) ListAll(ctx context.Context) ([]*biz.Policy, error) {
	var pos []PolicyPO
	err := r.db.WithContext(ctx).GetDB().Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}

	policies := make([]*biz.Policy, len(pos))
	for i, po := range pos {
		policies[i] = &biz.Policy{
			Name:         po.Name,
			DisplayName:  po.DisplayName,
			TemplateName: po.TemplateName,
		}
	}
	return policies, nil
}

// GroupRepo 附件分组仓储实现
type GroupRepo struct {
	db *database.DB
}

// NewGroupRepo 创建附件分组仓储
func NewGroupRepo(db *database.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

// ListAll 查询全部附件分组
func (r *GroupRepo) ListAll(ctx context.Context) ([]*biz.Group, error) {
	var pos []GroupPO
	err := r.db.WithContext(ctx).GetDB().Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list attachment groups: %w", err)
	}

	groups := make([]*biz.Group, len(pos))
	for i, po := range pos {
		groups[i] = &biz.Group{
			Name:        po.Name,
			DisplayName: po.DisplayName,
		}
	}
	return groups, nil
}
