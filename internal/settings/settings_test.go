package settings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/timxs/storage-toolkit/internal/conf"
	"github.com/timxs/storage-toolkit/internal/content/biz"
)

func TestClampConcurrency(t *testing.T) {
	assert.Equal(t, 1, clampConcurrency(0))
	assert.Equal(t, 1, clampConcurrency(-3))
	assert.Equal(t, 1, clampConcurrency(1))
	assert.Equal(t, 4, clampConcurrency(4))
	assert.Equal(t, 10, clampConcurrency(10))
	assert.Equal(t, 10, clampConcurrency(25))
}

func TestKindEnabled(t *testing.T) {
	s := &ScanSettings{
		Kinds: map[string]bool{
			biz.KindPost:    true,
			biz.KindPage:    false,
			biz.KindComment: true,
		},
	}

	// 设置和用户头像不受开关控制
	assert.True(t, s.KindEnabled(biz.KindSetting))
	assert.True(t, s.KindEnabled(biz.KindUser))

	assert.True(t, s.KindEnabled(biz.KindPost))
	assert.False(t, s.KindEnabled(biz.KindPage))
	assert.True(t, s.KindEnabled(biz.KindComment))

	// 未配置的可选类型默认关闭
	assert.False(t, s.KindEnabled(biz.KindMoment))
}

func TestDefaultSettings(t *testing.T) {
	store := &Store{defaults: conf.ScanConfig{
		TimeoutMinutes:       5,
		DuplicateConcurrency: 4,
		DigestTimeout:        90 * time.Second,
	}}

	s := store.defaultSettings()

	assert.Equal(t, 5*time.Minute, s.Timeout())
	assert.Equal(t, 4, s.DuplicateConcurrency)
	assert.Equal(t, 90*time.Second, s.DigestTimeout)
	assert.True(t, s.Kinds[biz.KindPost])
	assert.True(t, s.Kinds[biz.KindPage])
	assert.False(t, s.Kinds[biz.KindComment])
	assert.False(t, s.Kinds[biz.KindMoment])
	assert.False(t, s.Kinds[biz.KindPhoto])
}
