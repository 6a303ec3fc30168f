package biz

import (
	"strings"
	"sync"

	contentbiz "github.com/timxs/storage-toolkit/internal/content/biz"
	"github.com/timxs/storage-toolkit/internal/scanner"
)

// sourceSet 引用来源集合，按结构相等去重
type sourceSet map[contentbiz.Source]struct{}

func (s sourceSet) merge(other sourceSet) {
	for src := range other {
		s[src] = struct{}{}
	}
}

// referenceIndex 引用索引：提取出的地址到来源集合的两个并发安全多值映射，
// 分别按完整 URL 和相对路径分区。实现 content 层的 Collector 接口，
// 多个遍历器会并发写入。
type referenceIndex struct {
	mu            sync.Mutex
	fullURLs      map[string]sourceSet
	relativePaths map[string]sourceSet
}

func newReferenceIndex() *referenceIndex {
	return &referenceIndex{
		fullURLs:      make(map[string]sourceSet),
		relativePaths: make(map[string]sourceSet),
	}
}

// AddContent 提取一段内容中的全部地址并归入索引
func (idx *referenceIndex) AddContent(source contentbiz.Source, content string) {
	result := scanner.Extract(content)
	if len(result.FullURLs) == 0 && len(result.RelativePaths) == 0 {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for u := range result.FullURLs {
		idx.addFullLocked(u, source)
	}
	for p := range result.RelativePaths {
		idx.addRelativeLocked(p, source)
	}
}

// AddURL 归类单个已知链接（封面、头像等）
func (idx *referenceIndex) AddURL(source contentbiz.Source, rawURL string) {
	value, full, ok := scanner.Classify(rawURL)
	if !ok {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if full {
		idx.addFullLocked(value, source)
	} else {
		idx.addRelativeLocked(value, source)
	}
}

func (idx *referenceIndex) addFullLocked(u string, source contentbiz.Source) {
	set, ok := idx.fullURLs[u]
	if !ok {
		set = make(sourceSet)
		idx.fullURLs[u] = set
	}
	set[source] = struct{}{}
}

func (idx *referenceIndex) addRelativeLocked(p string, source contentbiz.Source) {
	set, ok := idx.relativePaths[p]
	if !ok {
		set = make(sourceSet)
		idx.relativePaths[p] = set
	}
	set[source] = struct{}{}
}

// match 在两个分区中查找附件地址的全部引用来源。
// 依次检查：解码后的地址在完整 URL 分区的精确命中；
// 完整地址的路径部分在相对路径分区的命中；
// 相对地址本身在相对路径分区的命中，以及拼上站点地址后的完整 URL 命中。
func (idx *referenceIndex) match(permalink, externalURL string) sourceSet {
	matched := make(sourceSet)
	decoded := scanner.DecodeURL(permalink)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if set, ok := idx.fullURLs[decoded]; ok {
		matched.merge(set)
	}

	if scanner.IsFullURL(decoded) {
		if path := scanner.ExtractPath(decoded); path != decoded {
			if set, ok := idx.relativePaths[path]; ok {
				matched.merge(set)
			}
		}
		return matched
	}

	if strings.HasPrefix(decoded, "/") {
		if set, ok := idx.relativePaths[decoded]; ok {
			matched.merge(set)
		}
		if externalURL != "" {
			absolute := strings.TrimRight(externalURL, "/") + decoded
			if set, ok := idx.fullURLs[absolute]; ok {
				matched.merge(set)
			}
		}
	}
	return matched
}

// size 两个分区的键数量，用于日志
func (idx *referenceIndex) size() (fullURLs, relativePaths int) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.fullURLs), len(idx.relativePaths)
}
