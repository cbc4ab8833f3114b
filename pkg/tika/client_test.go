package tika

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"doc-qa-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_PlainTextIsReadLocally(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	// 没有 Tika 服务也能读取纯文本
	c := NewClient(config.TikaConfig{})
	text, err := c.Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestExtract_InvalidUTF8IsReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.TXT")
	require.NoError(t, os.WriteFile(path, []byte("ok\xff\xfeend"), 0o644))

	text, err := NewClient(config.TikaConfig{}).Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "ok�end", text)
}

func TestExtract_PDFGoesThroughTika(t *testing.T) {
	var gotBody, gotType, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		assert.Equal(t, "/tika", r.URL.Path)
		_, _ = w.Write([]byte("extracted pdf text"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "paper.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644))

	text, err := NewClient(config.TikaConfig{ServerURL: srv.URL + "/"}).Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "extracted pdf text", text)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "application/pdf", gotType)
	assert.Equal(t, "%PDF-1.4 fake", gotBody)
}

func TestExtract_TikaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unprocessable", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "paper.pdf")
	require.NoError(t, os.WriteFile(path, []byte("junk"), 0o644))

	_, err := NewClient(config.TikaConfig{ServerURL: srv.URL}).Extract(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestExtract_MissingFile(t *testing.T) {
	_, err := NewClient(config.TikaConfig{}).Extract(context.Background(), filepath.Join(t.TempDir(), "nope.pdf"))
	assert.Error(t, err)
}
