package data

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/timxs/storage-toolkit/internal/content/biz"
	"github.com/timxs/storage-toolkit/internal/pkg/database"
	"github.com/timxs/storage-toolkit/internal/pkg/logger"
)

// MomentPO 瞬间（动态）数据库模型，来自可选扩展
type MomentPO struct {
	ID         string `gorm:"type:uuid;primarykey"`
	RawContent string `gorm:"column:raw_content;type:text"`
	// Media 媒体列表 JSON，形如 [{"url":"/upload/a.png","type":"image"}]
	Media   string `gorm:"column:media;type:jsonb;not null;default:'[]'"`
	Deleted bool   `gorm:"column:deleted;not null;default:false"`
}

func (MomentPO) TableName() string {
	return "moments"
}

// PhotoPO 图库照片数据库模型，来自可选扩展
type PhotoPO struct {
	ID          string `gorm:"type:uuid;primarykey"`
	DisplayName string `gorm:"column:display_name;size:255"`
	URL         string `gorm:"column:url;size:1024;not null"`
	Cover       string `gorm:"column:cover;size:1024"`
}

func (PhotoPO) TableName() string {
	return "photos"
}

// MomentProvider 瞬间遍历器。扩展可能未安装，
// 通过表存在性探测能力，缺表时静默跳过
type MomentProvider struct {
	db     *database.DB
	logger *logger.Logger
}

// NewMomentProvider 创建瞬间遍历器
func NewMomentProvider(db *database.DB, log *logger.Logger) *MomentProvider {
	return &MomentProvider{db: db, logger: log.Named("content.moment")}
}

func (p *MomentProvider) Kind() string {
	return biz.KindMoment
}

func (p *MomentProvider) Available(ctx context.Context) bool {
	return p.db.WithContext(ctx).GetDB().Migrator().HasTable(&MomentPO{})
}

// Scan 遍历全部瞬间的正文和媒体列表
func (p *MomentProvider) Scan(ctx context.Context, collector biz.Collector) error {
	var moments []MomentPO
	if err := p.db.WithContext(ctx).GetDB().Find(&moments).Error; err != nil {
		return fmt.Errorf("failed to list moments: %w", err)
	}

	for _, m := range moments {
		source := biz.Source{
			SourceType:    biz.SourceTypeMoment,
			SourceID:      m.ID,
			SourceTitle:   m.ID,
			Deleted:       m.Deleted,
			ReferenceType: biz.ReferenceTypeContent,
		}
		if m.RawContent != "" {
			collector.AddContent(source, m.RawContent)
		}

		mediaSource := source
		mediaSource.ReferenceType = biz.ReferenceTypeMedia
		gjson.Parse(m.Media).ForEach(func(_, item gjson.Result) bool {
			if url := item.Get("url").String(); url != "" {
				collector.AddURL(mediaSource, url)
			}
			return true
		})
	}

	p.logger.Debug("moment traversal finished", zap.Int("count", len(moments)))
	return nil
}

// PhotoProvider 图库遍历器，同样按表存在性探测能力
type PhotoProvider struct {
	db     *database.DB
	logger *logger.Logger
}

// NewPhotoProvider 创建图库遍历器
func NewPhotoProvider(db *database.DB, log *logger.Logger) *PhotoProvider {
	return &PhotoProvider{db: db, logger: log.Named("content.photo")}
}

func (p *PhotoProvider) Kind() string {
	return biz.KindPhoto
}

func (p *PhotoProvider) Available(ctx context.Context) bool {
	return p.db.WithContext(ctx).GetDB().Migrator().HasTable(&PhotoPO{})
}

// Scan 遍历全部照片的图片和封面字段
func (p *PhotoProvider) Scan(ctx context.Context, collector biz.Collector) error {
	var photos []PhotoPO
	if err := p.db.WithContext(ctx).GetDB().Find(&photos).Error; err != nil {
		return fmt.Errorf("failed to list photos: %w", err)
	}

	for _, photo := range photos {
		source := biz.Source{
			SourceType:    biz.SourceTypePhoto,
			SourceID:      photo.ID,
			SourceTitle:   photo.DisplayName,
			ReferenceType: biz.ReferenceTypeMedia,
		}
		if photo.URL != "" {
			collector.AddURL(source, photo.URL)
		}
		if photo.Cover != "" {
			coverSource := source
			coverSource.ReferenceType = biz.ReferenceTypeCover
			collector.AddURL(coverSource, photo.Cover)
		}
	}

	p.logger.Debug("photo traversal finished", zap.Int("count", len(photos)))
	return nil
}
