package settings

import (
	"context"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/timxs/storage-toolkit/internal/conf"
	"github.com/timxs/storage-toolkit/internal/content/biz"
	contentdata "github.com/timxs/storage-toolkit/internal/content/data"
	"github.com/timxs/storage-toolkit/internal/pkg/database"
	"github.com/timxs/storage-toolkit/internal/pkg/logger"
)

// 工具自身设置所在的配置组
const (
	OwnerType = "plugin"
	OwnerName = "storage-toolkit"
	GroupKey  = "basic"
)

// 摘要并发度的允许区间
const (
	MinConcurrency = 1
	MaxConcurrency = 10
)

// ScanSettings 扫描运行时设置
type ScanSettings struct {
	// TimeoutMinutes 扫描状态的陈旧判定阈值（分钟）
	TimeoutMinutes int
	// DuplicateConcurrency 摘要计算并发度，限定在 [1,10]
	DuplicateConcurrency int
	// DigestTimeout 单个附件摘要计算超时
	DigestTimeout time.Duration
	// ExcludedGroups / ExcludedPolicies 不参与扫描的附件分组与存储策略
	ExcludedGroups   []string
	ExcludedPolicies []string
	// Kinds 可选内容类型的开关。设置和用户头像恒定扫描，不在其中
	Kinds map[string]bool
}

// Timeout 陈旧判定阈值
func (s *ScanSettings) Timeout() time.Duration {
	return time.Duration(s.TimeoutMinutes) * time.Minute
}

// KindEnabled 判断某内容类型是否参与扫描
func (s *ScanSettings) KindEnabled(kind string) bool {
	switch kind {
	case biz.KindSetting, biz.KindUser:
		return true
	}
	return s.Kinds[kind]
}

// Store 设置读取器。设置保存在系统配置表里，
// 读取失败或尚未配置时回退到启动配置的默认值
type Store struct {
	db       *database.DB
	defaults conf.ScanConfig
	logger   *logger.Logger
}

// NewStore 创建设置读取器
func NewStore(db *database.DB, defaults conf.ScanConfig, log *logger.Logger) *Store {
	return &Store{db: db, defaults: defaults, logger: log.Named("settings")}
}

// Load 读取当前扫描设置
func (s *Store) Load(ctx context.Context) *ScanSettings {
	settings := s.defaultSettings()

	var group contentdata.ConfigGroupPO
	err := s.db.WithContext(ctx).GetDB().
		Where("owner_type = ? AND owner_name = ? AND group_key = ?", OwnerType, OwnerName, GroupKey).
		First(&group).Error
	if err != nil {
		if !database.IsRecordNotFoundError(err) {
			s.logger.Warn("failed to load scan settings, using defaults", zap.Error(err))
		}
		return settings
	}
	if !gjson.Valid(group.Value) {
		s.logger.Warn("scan settings value is not valid json, using defaults")
		return settings
	}

	value := gjson.Parse(group.Value)
	if v := value.Get("scanTimeoutMinutes"); v.Exists() && v.Int() > 0 {
		settings.TimeoutMinutes = int(v.Int())
	}
	if v := value.Get("duplicateScanConcurrency"); v.Exists() {
		settings.DuplicateConcurrency = clampConcurrency(int(v.Int()))
	}
	for _, g := range value.Get("excludeGroups").Array() {
		if name := g.String(); name != "" {
			settings.ExcludedGroups = append(settings.ExcludedGroups, name)
		}
	}
	for _, p := range value.Get("excludePolicies").Array() {
		if name := p.String(); name != "" {
			settings.ExcludedPolicies = append(settings.ExcludedPolicies, name)
		}
	}

	kindKeys := map[string]string{
		biz.KindPost:    "scanPosts",
		biz.KindPage:    "scanPages",
		biz.KindComment: "scanComments",
		biz.KindMoment:  "scanMoments",
		biz.KindPhoto:   "scanPhotos",
	}
	for kind, key := range kindKeys {
		if v := value.Get(key); v.Exists() {
			settings.Kinds[kind] = v.Bool()
		}
	}

	return settings
}

func (s *Store) defaultSettings() *ScanSettings {
	return &ScanSettings{
		TimeoutMinutes:       s.defaults.TimeoutMinutes,
		DuplicateConcurrency: clampConcurrency(s.defaults.DuplicateConcurrency),
		DigestTimeout:        s.defaults.DigestTimeout,
		Kinds: map[string]bool{
			biz.KindPost:    true,
			biz.KindPage:    true,
			biz.KindComment: false,
			biz.KindMoment:  false,
			biz.KindPhoto:   false,
		},
	}
}

func clampConcurrency(n int) int {
	if n < MinConcurrency {
		return MinConcurrency
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}
