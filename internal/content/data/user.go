package data

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/timxs/storage-toolkit/internal/content/biz"
	"github.com/timxs/storage-toolkit/internal/pkg/database"
	"github.com/timxs/storage-toolkit/internal/pkg/logger"
)

// UserPO 用户数据库模型
type UserPO struct {
	Name        string `gorm:"primarykey;size:255"`
	DisplayName string `gorm:"column:display_name;size:255;not null"`
	Avatar      string `gorm:"column:avatar;size:1024"`
}

func (UserPO) TableName() string {
	return "users"
}

// UserProvider 用户头像遍历器
type UserProvider struct {
	db     *database.DB
	logger *logger.Logger
}

// NewUserProvider 创建用户头像遍历器
func NewUserProvider(db *database.DB, log *logger.Logger) *UserProvider {
	return &UserProvider{db: db, logger: log.Named("content.user")}
}

func (p *UserProvider) Kind() string {
	return biz.KindUser
}

func (p *UserProvider) Available(ctx context.Context) bool {
	return true
}

// Scan 遍历全部用户的头像字段
func (p *UserProvider) Scan(ctx context.Context, collector biz.Collector) error {
	var users []UserPO
	if err := p.db.WithContext(ctx).GetDB().Find(&users).Error; err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	for _, u := range users {
		if u.Avatar == "" {
			continue
		}
		collector.AddURL(biz.Source{
			SourceType:    biz.SourceTypeUser,
			SourceID:      u.Name,
			SourceTitle:   u.DisplayName,
			ReferenceType: biz.ReferenceTypeAvatar,
		}, u.Avatar)
	}

	p.logger.Debug("user traversal finished", zap.Int("count", len(users)))
	return nil
}
