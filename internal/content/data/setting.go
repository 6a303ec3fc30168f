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

// ConfigGroupPO 配置组数据库模型。
// 系统、插件、主题的设置统一落在这张表里，Value 为组内设置的 JSON
type ConfigGroupPO struct {
	ID               string `gorm:"type:uuid;primarykey"`
	OwnerType        string `gorm:"column:owner_type;size:50;not null;index:idx_config_owner"` // system / plugin / theme
	OwnerName        string `gorm:"column:owner_name;size:255;not null;index:idx_config_owner"`
	OwnerDisplayName string `gorm:"column:owner_display_name;size:255"`
	GroupKey         string `gorm:"column:group_key;size:255;not null"`
	Value            string `gorm:"column:value;type:jsonb;not null;default:'{}'"`
}

func (ConfigGroupPO) TableName() string {
	return "config_groups"
}

// SettingRef 设置来源的归属标识格式：ownerType/ownerName/groupKey
func SettingRef(ownerType, ownerName, groupKey string) string {
	return fmt.Sprintf("%s/%s/%s", ownerType, ownerName, groupKey)
}

var settingSourceTypes = map[string]string{
	"system": biz.SourceTypeSystemSetting,
	"plugin": biz.SourceTypePluginSetting,
	"theme":  biz.SourceTypeThemeSetting,
}

// SettingProvider 配置组遍历器，扫描每个配置组 JSON 里的全部字符串叶子
type SettingProvider struct {
	db     *database.DB
	logger *logger.Logger
}

// NewSettingProvider 创建配置组遍历器
func NewSettingProvider(db *database.DB, log *logger.Logger) *SettingProvider {
	return &SettingProvider{db: db, logger: log.Named("content.setting")}
}

func (p *SettingProvider) Kind() string {
	return biz.KindSetting
}

func (p *SettingProvider) Available(ctx context.Context) bool {
	return true
}

// Scan 遍历全部配置组。单个配置组解析失败只记日志，不中断
func (p *SettingProvider) Scan(ctx context.Context, collector biz.Collector) error {
	var groups []ConfigGroupPO
	if err := p.db.WithContext(ctx).GetDB().Find(&groups).Error; err != nil {
		return fmt.Errorf("failed to list config groups: %w", err)
	}

	for _, g := range groups {
		sourceType, ok := settingSourceTypes[g.OwnerType]
		if !ok {
			p.logger.Warn("unknown config group owner type",
				zap.String("owner_type", g.OwnerType),
				zap.String("owner_name", g.OwnerName),
			)
			continue
		}
		source := biz.Source{
			SourceType:    sourceType,
			SourceID:      g.OwnerName,
			SourceTitle:   g.GroupKey,
			ReferenceType: biz.ReferenceTypeConfig,
			SettingRef:    SettingRef(g.OwnerType, g.OwnerName, g.GroupKey),
		}

		p.scanGroupValue(source, g.Value, collector)
	}

	p.logger.Debug("setting traversal finished", zap.Int("groups", len(groups)))
	return nil
}

// scanGroupValue 扫描单个配置组的值。
// 非法 JSON 退回扫描原始字符串，避免丢引用
func (p *SettingProvider) scanGroupValue(source biz.Source, value string, collector biz.Collector) {
	if !gjson.Valid(value) {
		p.logger.Warn("malformed config group value, scanning raw string",
			zap.String("owner_name", source.SourceID),
			zap.String("group_key", source.SourceTitle),
		)
		collector.AddContent(source, value)
		return
	}
	walkStringLeaves(gjson.Parse(value), func(s string) {
		collector.AddContent(source, s)
	})
}

// walkStringLeaves 深度遍历 JSON 值，对每个字符串叶子调用 visit
func walkStringLeaves(value gjson.Result, visit func(s string)) {
	switch {
	case value.IsObject() || value.IsArray():
		value.ForEach(func(_, v gjson.Result) bool {
			walkStringLeaves(v, visit)
			return true
		})
	case value.Type == gjson.String:
		visit(value.String())
	}
}
