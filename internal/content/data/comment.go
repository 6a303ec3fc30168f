package data

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/timxs/storage-toolkit/internal/content/biz"
	"github.com/timxs/storage-toolkit/internal/pkg/database"
	"github.com/timxs/storage-toolkit/internal/pkg/logger"
)

// CommentPO 评论数据库模型
type CommentPO struct {
	ID          string `gorm:"type:uuid;primarykey"`
	SubjectKind string `gorm:"column:subject_kind;size:50;not null"` // post / page / moment
	SubjectID   string `gorm:"column:subject_id;type:uuid;not null;index:idx_comment_subject"`
	RawContent  string `gorm:"column:raw_content;type:text"`
	Deleted     bool   `gorm:"column:deleted;not null;default:false"`
}

func (CommentPO) TableName() string {
	return "comments"
}

// ReplyPO 评论回复数据库模型
type ReplyPO struct {
	ID         string `gorm:"type:uuid;primarykey"`
	CommentID  string `gorm:"column:comment_id;type:uuid;not null;index:idx_reply_comment"`
	RawContent string `gorm:"column:raw_content;type:text"`
	Deleted    bool   `gorm:"column:deleted;not null;default:false"`
}

func (ReplyPO) TableName() string {
	return "comment_replies"
}

// SubjectRef 评论来源的延迟解析标题格式：kind:id。
// 扫描阶段不反查被评论实体的标题，展示时再解析。
func SubjectRef(kind, id string) string {
	return fmt.Sprintf("%s:%s", kind, id)
}

// CommentProvider 评论与回复遍历器
type CommentProvider struct {
	db     *database.DB
	logger *logger.Logger
}

// NewCommentProvider 创建评论遍历器
func NewCommentProvider(db *database.DB, log *logger.Logger) *CommentProvider {
	return &CommentProvider{db: db, logger: log.Named("content.comment")}
}

func (p *CommentProvider) Kind() string {
	return biz.KindComment
}

func (p *CommentProvider) Available(ctx context.Context) bool {
	return true
}

// Scan 遍历全部评论和回复
func (p *CommentProvider) Scan(ctx context.Context, collector biz.Collector) error {
	var comments []CommentPO
	if err := p.db.WithContext(ctx).GetDB().Find(&comments).Error; err != nil {
		return fmt.Errorf("failed to list comments: %w", err)
	}

	subjectByComment := make(map[string]string, len(comments))
	for _, c := range comments {
		ref := SubjectRef(c.SubjectKind, c.SubjectID)
		subjectByComment[c.ID] = ref

		if c.RawContent == "" {
			continue
		}
		collector.AddContent(biz.Source{
			SourceType:    biz.SourceTypeComment,
			SourceID:      c.ID,
			SourceTitle:   ref,
			Deleted:       c.Deleted,
			ReferenceType: biz.ReferenceTypeContent,
		}, c.RawContent)
	}

	var replies []ReplyPO
	if err := p.db.WithContext(ctx).GetDB().Find(&replies).Error; err != nil {
		return fmt.Errorf("failed to list replies: %w", err)
	}

	for _, r := range replies {
		if r.RawContent == "" {
			continue
		}
		// 回复沿用所属评论的主体引用
		ref := subjectByComment[r.CommentID]
		collector.AddContent(biz.Source{
			SourceType:    biz.SourceTypeReply,
			SourceID:      r.ID,
			SourceTitle:   ref,
			Deleted:       r.Deleted,
			ReferenceType: biz.ReferenceTypeContent,
		}, r.RawContent)
	}

	p.logger.Debug("comment traversal finished",
		zap.Int("comments", len(comments)),
		zap.Int("replies", len(replies)),
	)
	return nil
}
