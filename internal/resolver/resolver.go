package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	contentbiz "github.com/timxs/storage-toolkit/internal/content/biz"
	contentdata "github.com/timxs/storage-toolkit/internal/content/data"
	"github.com/timxs/storage-toolkit/internal/pkg/database"
	"github.com/timxs/storage-toolkit/internal/pkg/logger"
	"github.com/timxs/storage-toolkit/internal/pkg/redis"
)

const (
	cacheKeyPrefix = "storage-toolkit:resolver:"
	cacheTTL       = time.Hour
)

// Resolver 来源标题的延迟解析器。
// 评论和设置来源在扫描时只记录归属引用，展示时才解析成
// 人类可读的标题；解析结果经 Redis 缓存一小时
type Resolver struct {
	db     *database.DB
	cache  *redis.Client
	logger *logger.Logger
}

// New 创建解析器。cache 可以为 nil，此时每次都直查数据库
func New(db *database.DB, cache *redis.Client, log *logger.Logger) *Resolver {
	return &Resolver{db: db, cache: cache, logger: log.Named("resolver")}
}

type resolved struct {
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

// ResolveSources 解析一组来源的展示标题，返回解析后的副本。
// 解析失败的来源保留原始引用串，不阻塞展示
func (r *Resolver) ResolveSources(ctx context.Context, sources []contentbiz.Source) []contentbiz.Source {
	out := make([]contentbiz.Source, len(sources))
	copy(out, sources)

	for i := range out {
		switch out[i].SourceType {
		case contentbiz.SourceTypeComment, contentbiz.SourceTypeReply:
			if res, ok := r.resolveSubject(ctx, out[i].SourceTitle); ok {
				out[i].SourceTitle = res.Title
				if out[i].SourceURL == "" {
					out[i].SourceURL = res.URL
				}
			}
		case contentbiz.SourceTypeSystemSetting, contentbiz.SourceTypePluginSetting, contentbiz.SourceTypeThemeSetting:
			if label, ok := r.resolveSettingLabel(ctx, out[i].SettingRef); ok {
				out[i].SourceTitle = fmt.Sprintf("%s / %s", label, out[i].SourceTitle)
			}
		}
	}
	return out
}

// resolveSubject 解析 kind:id 形式的评论主体引用
func (r *Resolver) resolveSubject(ctx context.Context, ref string) (resolved, bool) {
	kind, id, ok := strings.Cut(ref, ":")
	if !ok || id == "" {
		return resolved{}, false
	}

	cacheKey := cacheKeyPrefix + "subject:" + ref
	if res, ok := r.fromCache(ctx, cacheKey); ok {
		return res, true
	}

	res, err := r.lookupSubject(ctx, kind, id)
	if err != nil {
		if !database.IsRecordNotFoundError(err) {
			r.logger.Warn("failed to resolve comment subject",
				zap.String("ref", ref),
				zap.Error(err),
			)
		}
		return resolved{}, false
	}

	r.toCache(ctx, cacheKey, res)
	return res, true
}

func (r *Resolver) lookupSubject(ctx context.Context, kind, id string) (resolved, error) {
	db := r.db.WithContext(ctx).GetDB()

	switch kind {
	case contentbiz.SourceTypePost:
		var post contentdata.PostPO
		if err := db.Select("title", "permalink").Where("id = ?", id).First(&post).Error; err != nil {
			return resolved{}, err
		}
		return resolved{Title: post.Title, URL: post.Permalink}, nil
	case contentbiz.SourceTypePage:
		var page contentdata.PagePO
		if err := db.Select("title", "permalink").Where("id = ?", id).First(&page).Error; err != nil {
			return resolved{}, err
		}
		return resolved{Title: page.Title, URL: page.Permalink}, nil
	case contentbiz.SourceTypeMoment:
		var moment contentdata.MomentPO
		if err := db.Select("id").Where("id = ?", id).First(&moment).Error; err != nil {
			return resolved{}, err
		}
		return resolved{Title: "瞬间 " + moment.ID}, nil
	default:
		return resolved{}, errors.New("unknown subject kind " + kind)
	}
}

// resolveSettingLabel 解析设置来源的归属展示名
func (r *Resolver) resolveSettingLabel(ctx context.Context, settingRef string) (string, bool) {
	parts := strings.SplitN(settingRef, "/", 3)
	if len(parts) != 3 {
		return "", false
	}
	ownerType, ownerName := parts[0], parts[1]

	cacheKey := cacheKeyPrefix + "setting:" + ownerType + "/" + ownerName
	if res, ok := r.fromCache(ctx, cacheKey); ok {
		return res.Title, true
	}

	var group contentdata.ConfigGroupPO
	err := r.db.WithContext(ctx).GetDB().
		Select("owner_display_name").
		Where("owner_type = ? AND owner_name = ?", ownerType, ownerName).
		First(&group).Error
	if err != nil {
		if !database.IsRecordNotFoundError(err) {
			r.logger.Warn("failed to resolve setting owner",
				zap.String("ref", settingRef),
				zap.Error(err),
			)
		}
		return "", false
	}

	label := group.OwnerDisplayName
	if label == "" {
		label = ownerName
	}
	r.toCache(ctx, cacheKey, resolved{Title: label})
	return label, true
}

func (r *Resolver) fromCache(ctx context.Context, key string) (resolved, bool) {
	if r.cache == nil {
		return resolved{}, false
	}

	value, err := r.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			r.logger.Warn("resolver cache read failed", zap.Error(err))
		}
		return resolved{}, false
	}

	var res resolved
	if err := json.Unmarshal([]byte(value), &res); err != nil {
		return resolved{}, false
	}
	return res, true
}

func (r *Resolver) toCache(ctx context.Context, key string, res resolved) {
	if r.cache == nil {
		return
	}

	value, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, string(value), cacheTTL); err != nil {
		r.logger.Warn("resolver cache write failed", zap.Error(err))
	}
}
