package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name          string
		content       string
		wantFull      []string
		wantRelative  []string
	}{
		{
			name:         "html img src",
			content:      `<p><img src="/upload/2024/a.png" alt="a"></p>`,
			wantRelative: []string{"/upload/2024/a.png"},
		},
		{
			name:     "html anchor href with full url",
			content:  `<a href="https://example.com/upload/doc.pdf">doc</a>`,
			wantFull: []string{"https://example.com/upload/doc.pdf"},
		},
		{
			name:         "html video source",
			content:      `<video src='/upload/v.mp4'></video><source src="/upload/w.webm">`,
			wantRelative: []string{"/upload/v.mp4", "/upload/w.webm"},
		},
		{
			name:         "markdown image",
			content:      `![cover](/upload/cover.jpg "title")`,
			wantRelative: []string{"/upload/cover.jpg"},
		},
		{
			name:     "markdown link",
			content:  `see [the file](https://cdn.example.com/upload/f.zip) here`,
			wantFull: []string{"https://cdn.example.com/upload/f.zip"},
		},
		{
			name:         "markdown image not double-counted as link",
			content:      `![x](/upload/only-image.png)`,
			wantRelative: []string{"/upload/only-image.png"},
		},
		{
			name:         "back to back markdown links",
			content:      `[a](/attachments/x.png)[b](/attachments/y.png)`,
			wantRelative: []string{"/attachments/x.png", "/attachments/y.png"},
		},
		{
			name:         "image immediately followed by link",
			content:      `![a](/attachments/img.png)[b](/attachments/doc.pdf)`,
			wantRelative: []string{"/attachments/img.png", "/attachments/doc.pdf"},
		},
		{
			name:         "adjacent upload paths",
			content:      `/upload/a.png /upload/b.png`,
			wantRelative: []string{"/upload/a.png", "/upload/b.png"},
		},
		{
			name:         "plain upload path in json",
			content:      `{"logo":"/upload/logo.svg","name":"site"}`,
			wantRelative: []string{"/upload/logo.svg"},
		},
		{
			name:     "bare http url in text",
			content:  `download from http://files.example.com/upload/x.bin today`,
			wantFull: []string{"http://files.example.com/upload/x.bin"},
		},
		{
			name:     "upload path inside full url not matched as relative",
			content:  `"https://example.com/upload/in-url.png"`,
			wantFull: []string{"https://example.com/upload/in-url.png"},
		},
		{
			name:    "data uri rejected",
			content: `<img src="data:image/png;base64,AAAA">`,
		},
		{
			name:    "javascript and mailto rejected",
			content: `<a href="javascript:void(0)">x</a><a href="mailto:a@b.c">m</a>`,
		},
		{
			name:    "fragment rejected",
			content: `<a href="#section">jump</a>`,
		},
		{
			name:         "percent-encoded path decoded",
			content:      `<img src="/upload/2024/%E5%9B%BE%E7%89%87.png">`,
			wantRelative: []string{"/upload/2024/图片.png"},
		},
		{
			name:    "empty content",
			content: "",
		},
		{
			name:    "no matches",
			content: "just some plain text without any links",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Extract(tt.content)

			assert.Len(t, result.FullURLs, len(tt.wantFull))
			for _, want := range tt.wantFull {
				assert.Contains(t, result.FullURLs, want)
			}

			assert.Len(t, result.RelativePaths, len(tt.wantRelative))
			for _, want := range tt.wantRelative {
				assert.Contains(t, result.RelativePaths, want)
			}
		})
	}
}

func TestExtractIdempotent(t *testing.T) {
	content := `<img src="/upload/a.png"> and [b](https://e.com/upload/b.png) plus /upload/c.png`

	first := Extract(content)
	second := Extract(content)

	assert.Equal(t, first.FullURLs, second.FullURLs)
	assert.Equal(t, first.RelativePaths, second.RelativePaths)
}

func TestExtractPartition(t *testing.T) {
	// 每个提取值只落在一个分区
	content := `<img src="/upload/a.png"><a href="https://e.com/upload/a.png">x</a>`

	result := Extract(content)

	for full := range result.FullURLs {
		assert.NotContains(t, result.RelativePaths, full)
		assert.True(t, IsFullURL(full))
	}
	for rel := range result.RelativePaths {
		assert.NotContains(t, result.FullURLs, rel)
		assert.True(t, rel[0] == '/')
	}
}

func TestIsFullURL(t *testing.T) {
	assert.True(t, IsFullURL("http://example.com/a.png"))
	assert.True(t, IsFullURL("https://example.com/a.png"))
	assert.False(t, IsFullURL("/upload/a.png"))
	assert.False(t, IsFullURL("ftp://example.com/a.png"))
	assert.False(t, IsFullURL(""))
}

func TestExtractPath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full url", "https://example.com/upload/a.png", "/upload/a.png"},
		{"full url with port", "http://localhost:8090/upload/b.jpg", "/upload/b.jpg"},
		{"already relative", "/upload/c.gif", "/upload/c.gif"},
		{"url with query", "https://example.com/upload/d.png?v=2", "/upload/d.png"},
		{"unparseable falls back to substring", "http://%zz/upload/e.png", "/upload/e.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractPath(tt.in))
		})
	}
}

func TestDecodeURLFallback(t *testing.T) {
	// 非法编码不报错，原样返回
	assert.Equal(t, "/upload/%zz.png", DecodeURL("/upload/%zz.png"))
	assert.Equal(t, "/upload/图片.png", DecodeURL("/upload/%E5%9B%BE%E7%89%87.png"))
}
