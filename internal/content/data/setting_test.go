package data

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/timxs/storage-toolkit/internal/content/biz"
	"github.com/timxs/storage-toolkit/internal/pkg/logger"
)

type captureCollector struct {
	contents []string
	urls     []string
}

func (c *captureCollector) AddContent(source biz.Source, content string) {
	c.contents = append(c.contents, content)
}

func (c *captureCollector) AddURL(source biz.Source, rawURL string) {
	c.urls = append(c.urls, rawURL)
}

func TestWalkStringLeaves(t *testing.T) {
	value := gjson.Parse(`{
		"title": "My Blog",
		"logo": "/upload/logo.png",
		"count": 42,
		"enabled": true,
		"nested": {
			"banner": "/upload/banner.jpg",
			"items": ["first", {"icon": "/upload/icon.svg"}]
		}
	}`)

	var leaves []string
	walkStringLeaves(value, func(s string) {
		leaves = append(leaves, s)
	})
	sort.Strings(leaves)

	// 只收集字符串叶子，数字和布尔被跳过
	assert.Equal(t, []string{
		"/upload/banner.jpg",
		"/upload/icon.svg",
		"/upload/logo.png",
		"My Blog",
		"first",
	}, leaves)
}

func TestWalkStringLeavesEmpty(t *testing.T) {
	var leaves []string
	walkStringLeaves(gjson.Parse(`{}`), func(s string) {
		leaves = append(leaves, s)
	})
	assert.Empty(t, leaves)

	walkStringLeaves(gjson.Parse(`[1, 2, 3]`), func(s string) {
		leaves = append(leaves, s)
	})
	assert.Empty(t, leaves)
}

func TestScanGroupValue(t *testing.T) {
	log, err := logger.New(logger.DefaultConfig())
	require.NoError(t, err)
	p := &SettingProvider{logger: log}
	source := biz.Source{SourceType: biz.SourceTypePluginSetting, SourceID: "my-plugin", SourceTitle: "basic"}

	collector := &captureCollector{}
	p.scanGroupValue(source, `{"logo": "/upload/logo.png", "count": 1}`, collector)
	assert.Equal(t, []string{"/upload/logo.png"}, collector.contents)
}

func TestScanGroupValueMalformedFallsBackToRaw(t *testing.T) {
	log, err := logger.New(logger.DefaultConfig())
	require.NoError(t, err)
	p := &SettingProvider{logger: log}
	source := biz.Source{SourceType: biz.SourceTypeThemeSetting, SourceID: "my-theme", SourceTitle: "style"}

	// 非法 JSON 整体作为文本扫描，其中的链接仍要能提取到
	raw := `{"banner": "/upload/banner.png", broken`
	collector := &captureCollector{}
	p.scanGroupValue(source, raw, collector)
	assert.Equal(t, []string{raw}, collector.contents)
}

func TestSubjectRef(t *testing.T) {
	assert.Equal(t, "post:abc-123", SubjectRef("post", "abc-123"))
}

func TestSettingRef(t *testing.T) {
	assert.Equal(t, "theme/my-theme/style", SettingRef("theme", "my-theme", "style"))
}
