package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/timxs/storage-toolkit/internal/duplicate/biz"
	"github.com/timxs/storage-toolkit/internal/pkg/database"
)

// GroupPO 重复附件组数据库模型
type GroupPO struct {
	ID              string    `gorm:"type:uuid;primarykey"`
	Digest          string    `gorm:"column:digest;size:64;not null;index:idx_dup_digest"`
	FileSize        int64     `gorm:"column:file_size;not null;default:0"`
	FileCount       int       `gorm:"column:file_count;not null;default:0"`
	SavableSize     int64     `gorm:"column:savable_size;not null;default:0;index:idx_dup_savable"`
	RecommendedKeep string    `gorm:"column:recommended_keep;type:uuid"`
	MemberAssetIDs  string    `gorm:"column:member_asset_ids;type:jsonb;not null;default:'[]'"`
	PendingDelete   bool      `gorm:"column:pending_delete;not null;default:false;index:idx_dup_pending"`
	CreatedAt       time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
}

func (GroupPO) TableName() string {
	return "duplicate_groups"
}

// GroupRepo 重复组仓储实现
type GroupRepo struct {
	db *database.DB
}

// NewGroupRepo 创建重复组仓储
func NewGroupRepo(db *database.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

// MarkAllPendingDelete 给全部现存分组打墓碑
func (r *GroupRepo) MarkAllPendingDelete(ctx context.Context) error {
	err := r.db.WithContext(ctx).GetDB().
		Model(&GroupPO{}).
		Where("pending_delete = ?", false).
		Update("pending_delete", true).Error
	if err != nil {
		return fmt.Errorf("failed to tombstone duplicate groups: %w", err)
	}
	return nil
}

// DeletePendingDelete 删除全部带墓碑的分组
func (r *GroupRepo) DeletePendingDelete(ctx context.Context) error {
	err := r.db.WithContext(ctx).GetDB().
		Where("pending_delete = ?", true).
		Delete(&GroupPO{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete tombstoned duplicate groups: %w", err)
	}
	return nil
}

const createBatchSize = 200

// CreateBatch 批量写入重复组
func (r *GroupRepo) CreateBatch(ctx context.Context, groups []*biz.Group) error {
	if len(groups) == 0 {
		return nil
	}

	pos := make([]*GroupPO, 0, len(groups))
	for _, g := range groups {
		po, err := toPO(g)
		if err != nil {
			return err
		}
		pos = append(pos, po)
	}

	err := r.db.WithContext(ctx).GetDB().CreateInBatches(pos, createBatchSize).Error
	if err != nil {
		return fmt.Errorf("failed to create duplicate groups: %w", err)
	}
	return nil
}

// List 分页查询未打墓碑的分组，按可回收空间降序
func (r *GroupRepo) List(ctx context.Context, page, size int) ([]*biz.Group, int64, error) {
	db := r.db.WithContext(ctx).GetDB().Model(&GroupPO{}).Where("pending_delete = ?", false)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count duplicate groups: %w", err)
	}

	var pos []GroupPO
	err := db.Order("savable_size DESC, digest ASC").
		Scopes(database.Paginate(page, size)).
		Find(&pos).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list duplicate groups: %w", err)
	}

	groups := make([]*biz.Group, 0, len(pos))
	for i := range pos {
		g, err := toDomain(&pos[i])
		if err != nil {
			return nil, 0, err
		}
		groups = append(groups, g)
	}
	return groups, total, nil
}

// DeleteAll 清空全部重复组
func (r *GroupRepo) DeleteAll(ctx context.Context) error {
	err := r.db.WithContext(ctx).GetDB().
		Where("1 = 1").
		Delete(&GroupPO{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete duplicate groups: %w", err)
	}
	return nil
}

func toPO(g *biz.Group) (*GroupPO, error) {
	memberJSON, err := json.Marshal(g.MemberAssetIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal group members: %w", err)
	}
	return &GroupPO{
		ID:              g.ID,
		Digest:          g.Digest,
		FileSize:        g.FileSize,
		FileCount:       g.FileCount,
		SavableSize:     g.SavableSize,
		RecommendedKeep: g.RecommendedKeep,
		MemberAssetIDs:  string(memberJSON),
		PendingDelete:   g.PendingDelete,
		CreatedAt:       g.CreatedAt,
	}, nil
}

func toDomain(po *GroupPO) (*biz.Group, error) {
	var memberIDs []string
	if po.MemberAssetIDs != "" {
		if err := json.Unmarshal([]byte(po.MemberAssetIDs), &memberIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal group members: %w", err)
		}
	}
	return &biz.Group{
		ID:              po.ID,
		Digest:          po.Digest,
		FileSize:        po.FileSize,
		FileCount:       po.FileCount,
		SavableSize:     po.SavableSize,
		RecommendedKeep: po.RecommendedKeep,
		MemberAssetIDs:  memberIDs,
		PendingDelete:   po.PendingDelete,
		CreatedAt:       po.CreatedAt,
	}, nil
}
