package biz

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contentbiz "github.com/timxs/storage-toolkit/internal/content/biz"
)

func postSource(id string) contentbiz.Source {
	return contentbiz.Source{
		SourceType:    contentbiz.SourceTypePost,
		SourceID:      id,
		SourceTitle:   "post " + id,
		ReferenceType: contentbiz.ReferenceTypeContent,
	}
}

func TestIndexAddContent(t *testing.T) {
	idx := newReferenceIndex()
	src := postSource("p1")

	idx.AddContent(src, `<img src="/upload/a.png"> and <a href="https://example.com/upload/b.png">b</a>`)

	fullURLs, relativePaths := idx.size()
	assert.Equal(t, 1, fullURLs)
	assert.Equal(t, 1, relativePaths)

	matched := idx.match("/upload/a.png", "")
	require.Len(t, matched, 1)
	assert.Contains(t, matched, src)
}

func TestIndexDeduplicatesSources(t *testing.T) {
	idx := newReferenceIndex()
	src := postSource("p1")

	// 同一来源多次出现同一地址只记一次
	idx.AddContent(src, `<img src="/upload/a.png">`)
	idx.AddContent(src, `![a](/upload/a.png)`)
	idx.AddURL(src, "/upload/a.png")

	matched := idx.match("/upload/a.png", "")
	assert.Len(t, matched, 1)
}

func TestIndexAddURLClassification(t *testing.T) {
	idx := newReferenceIndex()
	src := postSource("p1")

	idx.AddURL(src, "https://example.com/upload/full.png")
	idx.AddURL(src, "/upload/relative.png")
	idx.AddURL(src, "data:image/png;base64,AAAA")
	idx.AddURL(src, "#anchor")

	fullURLs, relativePaths := idx.size()
	assert.Equal(t, 1, fullURLs)
	assert.Equal(t, 1, relativePaths)
}

func TestIndexMatchFullPermalink(t *testing.T) {
	idx := newReferenceIndex()
	srcA := postSource("p1")
	srcB := postSource("p2")

	// 同一附件以完整 URL 和相对路径两种形态被引用
	idx.AddURL(srcA, "https://example.com/upload/a.png")
	idx.AddURL(srcB, "/upload/a.png")

	matched := idx.match("https://example.com/upload/a.png", "")
	assert.Len(t, matched, 2)
	assert.Contains(t, matched, srcA)
	assert.Contains(t, matched, srcB)
}

func TestIndexMatchRelativePermalink(t *testing.T) {
	idx := newReferenceIndex()
	srcA := postSource("p1")
	srcB := postSource("p2")

	idx.AddURL(srcA, "/upload/a.png")
	idx.AddURL(srcB, "https://blog.example.com/upload/a.png")

	// 相对 permalink 既查相对路径分区，也拼上站点地址查完整 URL 分区
	matched := idx.match("/upload/a.png", "https://blog.example.com")
	assert.Len(t, matched, 2)

	// 不给站点地址时只命中相对分区
	matched = idx.match("/upload/a.png", "")
	assert.Len(t, matched, 1)
	assert.Contains(t, matched, srcA)
}

func TestIndexMatchDecodesPermalink(t *testing.T) {
	idx := newReferenceIndex()
	src := postSource("p1")

	idx.AddContent(src, `<img src="/upload/2024/%E5%9B%BE%E7%89%87.png">`)

	// 附件 permalink 可能是编码形态，匹配前统一解码
	matched := idx.match("/upload/2024/%E5%9B%BE%E7%89%87.png", "")
	assert.Len(t, matched, 1)
}

func TestIndexMatchNoHit(t *testing.T) {
	idx := newReferenceIndex()
	idx.AddURL(postSource("p1"), "/upload/a.png")

	assert.Empty(t, idx.match("/upload/other.png", ""))
	assert.Empty(t, idx.match("https://example.com/elsewhere/a.png", ""))
}

func TestIndexConcurrentWrites(t *testing.T) {
	idx := newReferenceIndex()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			src := postSource(string(rune('a' + n)))
			for j := 0; j < 100; j++ {
				idx.AddContent(src, `<img src="/upload/shared.png">`)
				idx.AddURL(src, "https://example.com/upload/shared.png")
			}
		}(i)
	}
	wg.Wait()

	matched := idx.match("/upload/shared.png", "https://example.com")
	assert.Len(t, matched, 8)
}
