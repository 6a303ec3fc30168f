// Package scanner 从 HTML/Markdown/JSON/纯文本内容中提取附件地址。
package scanner

import (
	"net/url"
	"regexp"
	"strings"
)

// HTML img 标签 src 属性
var htmlImgPattern = regexp.MustCompile(`(?i)<img[^>]+src=["']([^"']+)["']`)

// HTML a 标签 href 属性
var htmlAnchorPattern = regexp.MustCompile(`(?i)<a[^>]+href=["']([^"']+)["']`)

// HTML video/audio/source 标签 src 属性
var htmlMediaPattern = regexp.MustCompile(`(?i)<(?:source|video|audio)[^>]+src=["']([^"']+)["']`)

// Markdown 图片语法
var mdImagePattern = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)(?:\s+["'][^"']*["'])?\)`)

// Markdown 链接语法。RE2 不支持负向后行断言，
// 前导字符（排除 "!" 图片语法）在匹配位置上单独判断，
// 不并入匹配本身，相邻链接才不会互相吞掉边界。
var mdLinkPattern = regexp.MustCompile(`\[[^\]]*\]\(([^)\s]+)(?:\s+["'][^"']*["'])?\)`)

// HTTP/HTTPS URL 匹配（适用于 JSON、纯文本等）。
// 引号被排除在字符类之外，因此无需原实现中的引号回引。
var httpURLPattern = regexp.MustCompile(`https?://[^"'\s<>\])]+`)

// 通用相对路径匹配：/upload/ 开头的路径。
// 前导字符同样按位置判断，排除域名字符，
// 避免匹配到完整 URL 中的路径部分。
var uploadPathPattern = regexp.MustCompile(`/upload/[^"'\s<>\])]+`)

// ExtractResult 提取结果，区分完整 URL 和相对路径
type ExtractResult struct {
	FullURLs      map[string]struct{}
	RelativePaths map[string]struct{}
}

// NewExtractResult 创建空结果
func NewExtractResult() ExtractResult {
	return ExtractResult{
		FullURLs:      make(map[string]struct{}),
		RelativePaths: make(map[string]struct{}),
	}
}

// Extract 从内容中提取所有附件地址，按完整 URL / 相对路径分类。
// 纯函数，重复调用结果一致。
func Extract(content string) ExtractResult {
	result := NewExtractResult()

	if strings.TrimSpace(content) == "" {
		return result
	}

	// HTML 标签
	collectMatches(content, htmlImgPattern, 1, &result)
	collectMatches(content, htmlAnchorPattern, 1, &result)
	collectMatches(content, htmlMediaPattern, 1, &result)

	// Markdown 语法
	collectMatches(content, mdImagePattern, 1, &result)
	collectBoundedMatches(content, mdLinkPattern, 1, notImageBang, &result)

	// JSON、纯文本中的 URL
	collectMatches(content, httpURLPattern, 0, &result)
	collectBoundedMatches(content, uploadPathPattern, 0, notHostChar, &result)

	return result
}

// collectMatches 按正则提取并分类。group 为捕获组下标，0 表示整个匹配。
func collectMatches(content string, pattern *regexp.Regexp, group int, result *ExtractResult) {
	for _, m := range pattern.FindAllStringSubmatch(content, -1) {
		if group >= len(m) {
			continue
		}
		addCandidate(m[group], result)
	}
}

// collectBoundedMatches 先按位置匹配，再检查匹配前一个字符是否满足边界条件。
// 边界字符不并入匹配，相邻的两个链接互不影响
func collectBoundedMatches(content string, pattern *regexp.Regexp, group int, boundary func(prev byte) bool, result *ExtractResult) {
	for _, idx := range pattern.FindAllStringSubmatchIndex(content, -1) {
		start, end := idx[2*group], idx[2*group+1]
		if start < 0 {
			continue
		}
		if idx[0] > 0 && !boundary(content[idx[0]-1]) {
			continue
		}
		addCandidate(content[start:end], result)
	}
}

func notImageBang(prev byte) bool {
	return prev != '!'
}

// notHostChar 排除域名末尾字符，完整 URL 里的路径段不单独成项
func notHostChar(prev byte) bool {
	if prev >= 'a' && prev <= 'z' || prev >= 'A' && prev <= 'Z' || prev >= '0' && prev <= '9' {
		return false
	}
	return prev != '.' && prev != '-'
}

func addCandidate(raw string, result *ExtractResult) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	decoded := decodeURL(raw)
	if !isValidURL(decoded) {
		return
	}
	if IsFullURL(decoded) {
		result.FullURLs[decoded] = struct{}{}
	} else if strings.HasPrefix(decoded, "/") {
		result.RelativePaths[decoded] = struct{}{}
	}
}

// Classify 对单个链接值做与 Extract 相同的解码、过滤与归类，
// 用于封面、头像这类单字段场景。ok 为 false 表示该值被丢弃。
func Classify(raw string) (value string, full bool, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, false
	}
	decoded := decodeURL(raw)
	if !isValidURL(decoded) {
		return "", false, false
	}
	if IsFullURL(decoded) {
		return decoded, true, true
	}
	if strings.HasPrefix(decoded, "/") {
		return decoded, false, true
	}
	return "", false, false
}

// IsFullURL 判断是否为完整 URL
func IsFullURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// ExtractPath 从完整 URL 中提取路径部分
func ExtractPath(fullURL string) string {
	if !IsFullURL(fullURL) {
		return fullURL
	}
	if u, err := url.Parse(fullURL); err == nil && u.Path != "" {
		return u.Path
	}
	// 解析失败，尝试简单截取
	if idx := strings.Index(fullURL, "://"); idx > 0 {
		if pathStart := strings.IndexByte(fullURL[idx+3:], '/'); pathStart >= 0 {
			return fullURL[idx+3+pathStart:]
		}
	}
	return fullURL
}

// isValidURL 过滤伪协议和锚点
func isValidURL(s string) bool {
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, "data:") {
		return false
	}
	if strings.HasPrefix(s, "javascript:") {
		return false
	}
	if strings.HasPrefix(s, "mailto:") {
		return false
	}
	if strings.HasPrefix(s, "#") {
		return false
	}
	return true
}

// decodeURL 处理 %20、%E4%B8%AD 等编码，解码失败时返回原值
func decodeURL(s string) string {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

// DecodeURL 对附件 permalink 做同样的解码，供匹配阶段复用
func DecodeURL(s string) string {
	return decodeURL(s)
}
