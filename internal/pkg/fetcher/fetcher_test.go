package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timxs/storage-toolkit/internal/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.DefaultConfig())
	require.NoError(t, err)
	return log
}

func TestResolve(t *testing.T) {
	f := New(nil, "https://blog.example.com/", testLogger(t))

	assert.Equal(t, "https://blog.example.com/upload/a.png", f.Resolve("/upload/a.png"))
	assert.Equal(t, "https://cdn.example.com/b.png", f.Resolve("https://cdn.example.com/b.png"))
	assert.Equal(t, "not-a-path", f.Resolve("not-a-path"))
}

func TestOpenOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/upload/a.png" {
			_, _ = w.Write([]byte("image-bytes"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	// 未配置对象存储时本地路径也走 HTTP
	f := New(nil, srv.URL, testLogger(t))

	rc, err := f.Open(context.Background(), "/upload/a.png")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "image-bytes", string(data))
}

func TestOpenNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(nil, srv.URL, testLogger(t))

	_, err := f.Open(context.Background(), "/upload/missing.png")
	assert.Error(t, err)
}

func TestOpenUnresolvable(t *testing.T) {
	f := New(nil, "", testLogger(t))

	_, err := f.Open(context.Background(), "/upload/a.png")
	assert.Error(t, err)
}
