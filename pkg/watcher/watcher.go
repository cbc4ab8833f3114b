// Package watcher 监听收件目录，把新放入的 PDF/TXT 文件自动导入。
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"doc-qa-go/pkg/log"

	"github.com/fsnotify/fsnotify"
)

const defaultSettle = 500 * time.Millisecond

// Ingester 导入一个本地文件。
type Ingester interface {
	IngestFile(ctx context.Context, path string) error
}

// Watcher 在文件停止写入 settle 时长后触发导入，同一路径只导入一次。
type Watcher struct {
	dir        string
	extensions []string
	ingester   Ingester
	settle     time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	done    map[string]struct{}
	wg      sync.WaitGroup
}

// New 创建收件目录监听器。
func New(dir string, extensions []string, ingester Ingester) *Watcher {
	return &Watcher{
		dir:        dir,
		extensions: extensions,
		ingester:   ingester,
		settle:     defaultSettle,
		pending:    make(map[string]*time.Timer),
		done:       make(map[string]struct{}),
	}
}

// ImportExisting 导入目录中已存在的文件，按文件名顺序逐个处理。
func (w *Watcher) ImportExisting(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, err
	}
	imported := 0
	for _, e := range entries {
		if e.IsDir() || !w.watched(e.Name()) {
			continue
		}
		if w.ingest(ctx, filepath.Join(w.dir, e.Name())) {
			imported++
		}
	}
	log.Infof("[Watcher] 已导入收件目录中的现有文件, Dir: %s, 数量: %d", w.dir, imported)
	return imported, nil
}

// Run 监听目录直到 ctx 取消，返回前等待进行中的导入结束。
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return err
	}
	log.Infof("[Watcher] 开始监听收件目录: %s", w.dir)

	defer w.wg.Wait()
	defer w.stopTimers()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.watched(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.schedule(ctx, event.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warnw("[Watcher] 文件监听出错", "error", err)
		}
	}
}

// schedule 每次写入都重置计时，文件稳定后才导入。
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.done[path]; ok {
		return
	}
	if t, ok := w.pending[path]; ok {
		// 已触发的计时器由回调负责导入
		if t.Stop() {
			t.Reset(w.settle)
		}
		return
	}
	w.wg.Add(1)
	w.pending[path] = time.AfterFunc(w.settle, func() {
		defer w.wg.Done()
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) bool {
	w.mu.Lock()
	if _, ok := w.done[path]; ok {
		w.mu.Unlock()
		return false
	}
	w.done[path] = struct{}{}
	w.mu.Unlock()

	if err := w.ingester.IngestFile(ctx, path); err != nil {
		log.Errorf("[Watcher] 导入文件失败, Path: %s, Error: %v", path, err)
		return false
	}
	return true
}

func (w *Watcher) watched(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range w.extensions {
		if ext == e {
			return true
		}
	}
	return false
}
