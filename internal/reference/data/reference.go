package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	contentbiz "github.com/timxs/storage-toolkit/internal/content/biz"
	"github.com/timxs/storage-toolkit/internal/pkg/database"
	"github.com/timxs/storage-toolkit/internal/reference/biz"
)

// RecordPO 附件引用记录数据库模型
type RecordPO struct {
	ID             string    `gorm:"type:uuid;primarykey"`
	AssetID        string    `gorm:"column:asset_id;type:uuid;not null;uniqueIndex:uidx_ref_asset"`
	DisplayName    string    `gorm:"column:display_name;size:255"`
	MediaType      string    `gorm:"column:media_type;size:127"`
	Size           int64     `gorm:"column:size;not null;default:0"`
	Permalink      string    `gorm:"column:permalink;size:1024"`
	ReferenceCount int       `gorm:"column:reference_count;not null;default:0;index:idx_ref_count"`
	Sources        string    `gorm:"column:sources;type:jsonb;not null;default:'[]'"`
	LastScannedAt  time.Time `gorm:"column:last_scanned_at;not null"`
	PendingDelete  bool      `gorm:"column:pending_delete;not null;default:false;index:idx_ref_pending"`
}

func (RecordPO) TableName() string {
	return "attachment_references"
}

// RecordRepo 引用记录仓储实现
type RecordRepo struct {
	db *database.DB
}

// NewRecordRepo 创建引用记录仓储
func NewRecordRepo(db *database.DB) *RecordRepo {
	return &RecordRepo{db: db}
}

// MarkAllPendingDelete 给全部现存记录打墓碑
func (r *RecordRepo) MarkAllPendingDelete(ctx context.Context) error {
	err := r.db.WithContext(ctx).GetDB().
		Model(&RecordPO{}).
		Where("pending_delete = ?", false).
		Update("pending_delete", true).Error
	if err != nil {
		return fmt.Errorf("failed to tombstone reference records: %w", err)
	}
	return nil
}

// DeletePendingDelete 删除全部带墓碑的记录
func (r *RecordRepo) DeletePendingDelete(ctx context.Context) error {
	err := r.db.WithContext(ctx).GetDB().
		Where("pending_delete = ?", true).
		Delete(&RecordPO{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete tombstoned reference records: %w", err)
	}
	return nil
}

const createBatchSize = 200

// CreateBatch 批量写入引用记录
func (r *RecordRepo) CreateBatch(ctx context.Context, records []*biz.Record) error {
	if len(records) == 0 {
		return nil
	}

	pos := make([]*RecordPO, 0, len(records))
	for _, record := range records {
		po, err := toPO(record)
		if err != nil {
			return err
		}
		pos = append(pos, po)
	}

	err := r.db.WithContext(ctx).GetDB().CreateInBatches(pos, createBatchSize).Error
	if err != nil {
		return fmt.Errorf("failed to create reference records: %w", err)
	}
	return nil
}

// List 分页查询引用记录
func (r *RecordRepo) List(ctx context.Context, query *biz.ListQuery) ([]*biz.Record, int64, error) {
	db := r.db.WithContext(ctx).GetDB().Model(&RecordPO{}).Where("pending_delete = ?", false)

	if query.Keyword != "" {
		pattern := "%" + query.Keyword + "%"
		db = db.Where("display_name ILIKE ? OR permalink ILIKE ?", pattern, pattern)
	}
	if query.SourceType != "" {
		filter, err := json.Marshal([]map[string]string{{"sourceType": query.SourceType}})
		if err != nil {
			return nil, 0, fmt.Errorf("failed to build source type filter: %w", err)
		}
		db = db.Where("sources @> ?", string(filter))
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count reference records: %w", err)
	}

	order := "reference_count DESC, last_scanned_at DESC"
	if query.Sort == biz.SortByLastScannedAt {
		order = "last_scanned_at DESC, reference_count DESC"
	}

	var pos []RecordPO
	err := db.Order(order).
		Scopes(database.Paginate(query.Page, query.Size)).
		Find(&pos).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list reference records: %w", err)
	}

	records := make([]*biz.Record, 0, len(pos))
	for i := range pos {
		record, err := toDomain(&pos[i])
		if err != nil {
			return nil, 0, err
		}
		records = append(records, record)
	}
	return records, total, nil
}

// GetByAssetID 按附件 ID 查询，未找到返回 nil
func (r *RecordRepo) GetByAssetID(ctx context.Context, assetID string) (*biz.Record, error) {
	var po RecordPO
	err := r.db.WithContext(ctx).GetDB().
		Where("asset_id = ? AND pending_delete = ?", assetID, false).
		First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get reference record: %w", err)
	}
	return toDomain(&po)
}

// Update 整条写回引用记录
func (r *RecordRepo) Update(ctx context.Context, record *biz.Record) error {
	po, err := toPO(record)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).GetDB().
		Model(&RecordPO{}).
		Where("id = ?", po.ID).
		Updates(map[string]interface{}{
			"reference_count": po.ReferenceCount,
			"sources":         po.Sources,
			"last_scanned_at": po.LastScannedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update reference record: %w", err)
	}
	return nil
}

// DeleteAll 清空全部引用记录
func (r *RecordRepo) DeleteAll(ctx context.Context) error {
	err := r.db.WithContext(ctx).GetDB().
		Where("1 = 1").
		Delete(&RecordPO{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete reference records: %w", err)
	}
	return nil
}

func toPO(record *biz.Record) (*RecordPO, error) {
	sourcesJSON, err := json.Marshal(record.Sources)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reference sources: %w", err)
	}
	return &RecordPO{
		ID:             record.ID,
		AssetID:        record.AssetID,
		DisplayName:    record.DisplayName,
		MediaType:      record.MediaType,
		Size:           record.Size,
		Permalink:      record.Permalink,
		ReferenceCount: record.ReferenceCount,
		Sources:        string(sourcesJSON),
		LastScannedAt:  record.LastScannedAt,
		PendingDelete:  record.PendingDelete,
	}, nil
}

func toDomain(po *RecordPO) (*biz.Record, error) {
	var sources []contentbiz.Source
	if po.Sources != "" {
		if err := json.Unmarshal([]byte(po.Sources), &sources); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reference sources: %w", err)
		}
	}
	return &biz.Record{
		ID:             po.ID,
		AssetID:        po.AssetID,
		DisplayName:    po.DisplayName,
		MediaType:      po.MediaType,
		Size:           po.Size,
		Permalink:      po.Permalink,
		ReferenceCount: po.ReferenceCount,
		Sources:        sources,
		LastScannedAt:  po.LastScannedAt,
		PendingDelete:  po.PendingDelete,
	}, nil
}
