package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"QFMIngest/logger"
	"QFMIngest/model"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ImportedDir is the subdirectory imported files are moved into.
const ImportedDir = "imported"

// FileImporter is what the watcher feeds. *Importer implements it.
type FileImporter interface {
	ImportFile(ctx context.Context, owner int64, path string) (*model.Track, error)
}

// Watcher 监听导入目录，文件写入稳定后导入
type Watcher struct {
	dir      string
	owner    int64
	importer FileImporter
	// 文件在该时间内无变化才视为写入完成
	debounce time.Duration
	tick     time.Duration
	log      *zap.Logger
}

// NewWatcher 创建目录监听器
func NewWatcher(dir string, owner int64, importer FileImporter) *Watcher {
	return &Watcher{
		dir:      dir,
		owner:    owner,
		importer: importer,
		debounce: 500 * time.Millisecond,
		tick:     100 * time.Millisecond,
		log:      logger.Named("watcher"),
	}
}

// SetDebounce 设置防抖时间
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
	if d/5 < w.tick {
		w.tick = max(d/5, time.Millisecond)
	}
}

// Watch imports the files already in the directory, then every file that is
// created or written later, until ctx ends.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(w.dir, ImportedDir), 0755); err != nil {
		return fmt.Errorf("create import directory: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听器失败: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("监听目录失败: %w", err)
	}

	pending := make(map[string]time.Time)
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read import directory: %w", err)
	}
	now := time.Now()
	for _, e := range entries {
		if !e.IsDir() && Accepts(e.Name()) {
			// 已存在的文件不必等待
			pending[filepath.Join(w.dir, e.Name())] = now.Add(-w.debounce)
		}
	}
	w.log.Info("watching import directory", logger.String("dir", w.dir), logger.Int("existing", len(pending)))

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !Accepts(event.Name) {
				continue
			}
			pending[event.Name] = time.Now()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", logger.ErrorField(err))

		case <-ticker.C:
			now := time.Now()
			for path, last := range pending {
				if now.Sub(last) < w.debounce {
					continue // 可能还在写入
				}
				delete(pending, path)
				w.importOne(ctx, path)
			}
		}
	}
}

func (w *Watcher) importOne(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	track, err := w.importer.ImportFile(ctx, w.owner, path)
	if err != nil {
		w.log.Error("import failed", logger.String("file", path), logger.ErrorField(err))
		return
	}
	dst := filepath.Join(w.dir, ImportedDir, track.ID+filepath.Ext(path))
	if err := os.Rename(path, dst); err != nil {
		w.log.Warn("failed to move imported file", logger.String("file", path), logger.ErrorField(err))
	}
}
