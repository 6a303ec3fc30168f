package data

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"github.com/timxs/storage-toolkit/internal/content/biz"
	"github.com/timxs/storage-toolkit/internal/pkg/database"
	"github.com/timxs/storage-toolkit/internal/pkg/logger"
)

// PostPO 文章数据库模型
type PostPO struct {
	ID              string `gorm:"type:uuid;primarykey"`
	Title           string `gorm:"column:title;size:255;not null"`
	Permalink       string `gorm:"column:permalink;size:1024;not null"`
	Cover           string `gorm:"column:cover;size:1024"`
	RawType         string `gorm:"column:raw_type;size:50;not null;default:'markdown'"`
	RawContent      string `gorm:"column:raw_content;type:text"`
	RenderedContent string `gorm:"column:rendered_content;type:text"`
	Deleted         bool   `gorm:"column:deleted;not null;default:false;index:idx_post_deleted"`
}

func (PostPO) TableName() string {
	return "posts"
}

// PagePO 独立页面数据库模型
type PagePO struct {
	ID              string `gorm:"type:uuid;primarykey"`
	Title           string `gorm:"column:title;size:255;not null"`
	Permalink       string `gorm:"column:permalink;size:1024;not null"`
	Cover           string `gorm:"column:cover;size:1024"`
	RawType         string `gorm:"column:raw_type;size:50;not null;default:'markdown'"`
	RawContent      string `gorm:"column:raw_content;type:text"`
	RenderedContent string `gorm:"column:rendered_content;type:text"`
	Deleted         bool   `gorm:"column:deleted;not null;default:false;index:idx_page_deleted"`
}

func (PagePO) TableName() string {
	return "single_pages"
}

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// renderContent 返回实体内容的渲染形态。
// 渲染列为空且原始格式是 markdown 时现场渲染一份，
// 保证正文里的链接在两种形态下都能被提取到。
func renderContent(rawType, raw, rendered string, log *logger.Logger) string {
	if rendered != "" || raw == "" {
		return rendered
	}
	if !strings.EqualFold(rawType, "markdown") {
		return rendered
	}

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(raw), &buf); err != nil {
		log.Warn("failed to render markdown content", zap.Error(err))
		return ""
	}
	return buf.String()
}

// PostProvider 文章遍历器
type PostProvider struct {
	db     *database.DB
	logger *logger.Logger
}

// NewPostProvider 创建文章遍历器
func NewPostProvider(db *database.DB, log *logger.Logger) *PostProvider {
	return &PostProvider{db: db, logger: log.Named("content.post")}
}

func (p *PostProvider) Kind() string {
	return biz.KindPost
}

func (p *PostProvider) Available(ctx context.Context) bool {
	return true
}

// Scan 遍历全部文章，提交封面、原始正文和渲染正文
func (p *PostProvider) Scan(ctx context.Context, collector biz.Collector) error {
	var posts []PostPO
	if err := p.db.WithContext(ctx).GetDB().Find(&posts).Error; err != nil {
		return fmt.Errorf("failed to list posts: %w", err)
	}

	for _, post := range posts {
		coverSource := biz.Source{
			SourceType:    biz.SourceTypePost,
			SourceID:      post.ID,
			SourceTitle:   post.Title,
			SourceURL:     post.Permalink,
			Deleted:       post.Deleted,
			ReferenceType: biz.ReferenceTypeCover,
		}
		if post.Cover != "" {
			collector.AddURL(coverSource, post.Cover)
		}

		contentSource := coverSource
		contentSource.ReferenceType = biz.ReferenceTypeContent
		if post.RawContent != "" {
			collector.AddContent(contentSource, post.RawContent)
		}
		if rendered := renderContent(post.RawType, post.RawContent, post.RenderedContent, p.logger); rendered != "" {
			collector.AddContent(contentSource, rendered)
		}
	}

	p.logger.Debug("post traversal finished", zap.Int("count", len(posts)))
	return nil
}

// PageProvider 独立页面遍历器
type PageProvider struct {
	db     *database.DB
	logger *logger.Logger
}

// NewPageProvider 创建独立页面遍历器
func NewPageProvider(db *database.DB, log *logger.Logger) *PageProvider {
	return &PageProvider{db: db, logger: log.Named("content.page")}
}

func (p *PageProvider) Kind() string {
	return biz.KindPage
}

func (p *PageProvider) Available(ctx context.Context) bool {
	return true
}

// Scan 遍历全部独立页面
func (p *PageProvider) Scan(ctx context.Context, collector biz.Collector) error {
	var pages []PagePO
	if err := p.db.WithContext(ctx).GetDB().Find(&pages).Error; err != nil {
		return fmt.Errorf("failed to list pages: %w", err)
	}

	for _, page := range pages {
		coverSource := biz.Source{
			SourceType:    biz.SourceTypePage,
			SourceID:      page.ID,
			SourceTitle:   page.Title,
			SourceURL:     page.Permalink,
			Deleted:       page.Deleted,
			ReferenceType: biz.ReferenceTypeCover,
		}
		if page.Cover != "" {
			collector.AddURL(coverSource, page.Cover)
		}

		contentSource := coverSource
		contentSource.ReferenceType = biz.ReferenceTypeContent
		if page.RawContent != "" {
			collector.AddContent(contentSource, page.RawContent)
		}
		if rendered := renderContent(page.RawType, page.RawContent, page.RenderedContent, p.logger); rendered != "" {
			collector.AddContent(contentSource, rendered)
		}
	}

	p.logger.Debug("page traversal finished", zap.Int("count", len(pages)))
	return nil
}
