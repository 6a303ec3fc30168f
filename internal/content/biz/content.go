package biz

import (
	"context"
)

// 内容来源类型
const (
	SourceTypePost          = "post"
	SourceTypePage          = "page"
	SourceTypeComment       = "comment"
	SourceTypeReply         = "reply"
	SourceTypeUser          = "user"
	SourceTypeSystemSetting = "system-setting"
	SourceTypePluginSetting = "plugin-setting"
	SourceTypeThemeSetting  = "theme-setting"
	SourceTypeMoment        = "moment"
	SourceTypePhoto         = "photo"
)

// 引用位置类型
const (
	ReferenceTypeCover   = "cover"
	ReferenceTypeContent = "content"
	ReferenceTypeMedia   = "media"
	ReferenceTypeAvatar  = "avatar"
	ReferenceTypeIcon    = "icon"
	ReferenceTypeConfig  = "config"
)

// 遍历器 Kind 标识，用于按设置开关启停
const (
	KindPost    = "post"
	KindPage    = "page"
	KindComment = "comment"
	KindUser    = "user"
	KindSetting = "setting"
	KindMoment  = "moment"
	KindPhoto   = "photo"
)

// Source 描述附件地址在内容中出现的一个位置。
// 字段全部为可比较类型，按结构相等去重。
type Source struct {
	SourceType    string `json:"sourceType"`
	SourceID      string `json:"sourceId"`
	SourceTitle   string `json:"sourceTitle"` // 展示标题；评论和设置来源存放延迟解析引用
	SourceURL     string `json:"sourceUrl,omitempty"`
	Deleted       bool   `json:"deleted,omitempty"` // 来源实体是否已进回收站
	ReferenceType string `json:"referenceType"`     // cover / content / media / avatar / icon / config
	SettingRef    string `json:"settingRef,omitempty"` // 设置来源的归属标识 ownerType/ownerName/groupKey
}

// Collector 汇聚遍历器产出的内容与直接链接。
// 实现必须是并发安全的，多个遍历器会同时写入。
type Collector interface {
	// AddContent 提交一段文本，由采集方负责链接提取与归类
	AddContent(source Source, content string)
	// AddURL 提交一个已知的单个链接（封面、头像等单字段场景）
	AddURL(source Source, rawURL string)
}

// Provider 一类内容实体的遍历器
type Provider interface {
	// Kind 遍历器标识，对应扫描设置里的类型开关
	Kind() string
	// Available 可选扩展类型的能力探测；内置类型恒为 true
	Available(ctx context.Context) bool
	// Scan 遍历该类型的全部实体并喂给 collector。
	// 单个实体的失败应记录日志后跳过，不得中断整体遍历。
	Scan(ctx context.Context, collector Collector) error
}

// Registry 遍历器注册表
type Registry struct {
	providers []Provider
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{}
}

// Register 注册一个遍历器
func (r *Registry) Register(p Provider) {
	r.providers = append(r.providers, p)
}

// Providers 返回全部已注册的遍历器
func (r *Registry) Providers() []Provider {
	return r.providers
}
