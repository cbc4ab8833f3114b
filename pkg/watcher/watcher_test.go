package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingIngester struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingIngester) IngestFile(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return nil
}

func (r *recordingIngester) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.paths...)
	sort.Strings(out)
	return out
}

var exts = []string{".pdf", ".txt"}

func TestImportExisting(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.txt", "a.PDF", "skip.csv"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.txt"), 0o755))

	ing := &recordingIngester{}
	w := New(dir, exts, ing)
	n, err := w.ImportExisting(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{filepath.Join(dir, "a.PDF"), filepath.Join(dir, "b.txt")}, ing.snapshot())

	// 已导入的文件不会重复导入
	n, err = w.ImportExisting(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunIngestsNewFiles(t *testing.T) {
	dir := t.TempDir()
	ing := &recordingIngester{}
	w := New(dir, exts, ing)
	w.settle = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	// 等待 watcher 注册完成
	time.Sleep(100 * time.Millisecond)
	target := filepath.Join(dir, "new.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.csv"), []byte("a,b"), 0o644))

	assert.Eventually(t, func() bool {
		return len(ing.snapshot()) == 1
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
	assert.Equal(t, []string{target}, ing.snapshot())
}
