package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/apk-analysis/dexkit-bridge/internal/worker"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Constructor 按路径构造与释放引擎，由 *bridge.Bridge 实现
type Constructor interface {
	InitFromPath(path string) int64
	Release(handle int64)
}

// Options 监控选项
type Options struct {
	Dir          string
	Patterns     []string      // 文件名 glob，如 "*.apk"
	Debounce     time.Duration // 同一文件的事件合并窗口
	Settle       time.Duration // 文件大小稳定性检查间隔
	ScanExisting bool          // 启动时为已有文件构造引擎
	Workers      int           // 并发构造数
	QueueSize    int
}

// DexWatcher 监控目录，为新出现的 APK/DEX 构造引擎，文件删除时释放
type DexWatcher struct {
	watcher *fsnotify.Watcher
	opts    Options
	engines Constructor
	pool    *worker.Pool
	logger  *logrus.Logger

	mu       sync.Mutex
	timers   map[string]*time.Timer
	handles  map[string]int64
	gens     map[string]uint64 // release 时递增，构造期间发生删除则作废结果
	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewDexWatcher 创建目录监控器
func NewDexWatcher(opts Options, engines Constructor, logger *logrus.Logger) (*DexWatcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if opts.Settle <= 0 {
		opts.Settle = 500 * time.Millisecond
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if len(opts.Patterns) == 0 {
		opts.Patterns = []string{"*.apk", "*.dex"}
	}
	for _, p := range opts.Patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// 确保监控目录存在
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to create watch directory: %w", err)
	}

	if err := watcher.Add(opts.Dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to add watch directory: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"watch_dir": opts.Dir,
		"patterns":  opts.Patterns,
	}).Info("Dex watcher created")

	w := &DexWatcher{
		watcher:  watcher,
		opts:     opts,
		engines:  engines,
		logger:   logger,
		timers:   make(map[string]*time.Timer),
		handles:  make(map[string]int64),
		gens:     make(map[string]uint64),
		stopChan: make(chan struct{}),
	}
	w.pool = worker.NewPool(opts.Workers, opts.QueueSize, w.handleFile, logger)
	return w, nil
}

// Start 启动事件循环
func (w *DexWatcher) Start(ctx context.Context) error {
	w.pool.Start(ctx)

	if w.opts.ScanExisting {
		if err := w.scanExistingFiles(ctx); err != nil {
			w.logger.WithError(err).Warn("Failed to scan existing files")
		}
	}

	w.wg.Add(1)
	go w.eventLoop(ctx)

	w.logger.Info("Dex watcher started")
	return nil
}

func (w *DexWatcher) scanExistingFiles(ctx context.Context) error {
	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !w.matchPattern(entry.Name()) {
			continue
		}
		w.schedule(ctx, filepath.Join(w.opts.Dir, entry.Name()))
	}
	return nil
}

func (w *DexWatcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Dex watcher context done")
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				w.logger.Warn("Watcher events channel closed")
				return
			}

			fileName := filepath.Base(event.Name)
			if !w.matchPattern(fileName) {
				continue
			}

			w.logger.WithFields(logrus.Fields{
				"event": event.Op.String(),
				"file":  fileName,
			}).Debug("File event detected")

			switch {
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				w.cancel(event.Name)
				w.release(event.Name)
			case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
				w.schedule(ctx, event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				w.logger.Warn("Watcher errors channel closed")
				return
			}
			w.logger.WithError(err).Error("Watcher error")
		}
	}
}

// schedule 防抖：同一文件在窗口内的多次事件只处理一次
func (w *DexWatcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, exists := w.timers[path]; exists {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(w.opts.Debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		default:
		}
		if err := w.pool.Submit(path); err != nil {
			w.logger.WithError(err).WithField("file", path).Warn("Failed to queue file")
		}
	})
}

func (w *DexWatcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, exists := w.timers[path]; exists {
		timer.Stop()
		delete(w.timers, path)
	}
}

// handleFile 文件写入完成后构造引擎；同一路径的旧句柄先释放
func (w *DexWatcher) handleFile(ctx context.Context, path string) {
	w.mu.Lock()
	gen := w.gens[path]
	w.mu.Unlock()

	if err := w.waitForFileReady(ctx, path); err != nil {
		w.logger.WithError(err).WithField("file", path).Warn("File not ready")
		return
	}

	handle := w.engines.InitFromPath(path)
	if handle == 0 {
		w.logger.WithField("file", path).Warn("Engine construction failed")
		return
	}

	_, statErr := os.Stat(path)

	w.mu.Lock()
	if w.gens[path] != gen || statErr != nil {
		w.mu.Unlock()
		w.engines.Release(handle)
		w.logger.WithFields(logrus.Fields{
			"file":   path,
			"handle": handle,
		}).Info("File removed during construction, engine released")
		return
	}
	old := w.handles[path]
	w.handles[path] = handle
	w.mu.Unlock()

	if old != 0 {
		w.engines.Release(old)
	}

	w.logger.WithFields(logrus.Fields{
		"file":   path,
		"handle": handle,
	}).Info("Engine constructed for file")
}

func (w *DexWatcher) release(path string) {
	w.mu.Lock()
	w.gens[path]++
	handle, ok := w.handles[path]
	delete(w.handles, path)
	w.mu.Unlock()

	if ok {
		w.engines.Release(handle)
		w.logger.WithFields(logrus.Fields{
			"file":   path,
			"handle": handle,
		}).Info("Engine released for removed file")
	}
}

// waitForFileReady 等待文件大小稳定（写入完成）
func (w *DexWatcher) waitForFileReady(ctx context.Context, path string) error {
	const maxAttempts = 10
	var last int64 = -1
	for i := 0; i < maxAttempts; i++ {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file does not exist")
			}
			return err
		}
		if info.Size() > 0 && info.Size() == last {
			return nil
		}
		last = info.Size()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.opts.Settle):
		}
	}
	return fmt.Errorf("file not ready after %d attempts", maxAttempts)
}

// matchPattern 文件名大小写不敏感地匹配任一模式
func (w *DexWatcher) matchPattern(fileName string) bool {
	name := strings.ToLower(fileName)
	for _, p := range w.opts.Patterns {
		if ok, _ := filepath.Match(strings.ToLower(p), name); ok {
			return true
		}
	}
	return false
}

// Handle 返回路径当前对应的句柄
func (w *DexWatcher) Handle(path string) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.handles[path]
}

// Stop 停止监控；已构造的引擎保留，由调用方统一释放
func (w *DexWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping dex watcher")
		close(w.stopChan)

		w.mu.Lock()
		for path, timer := range w.timers {
			timer.Stop()
			delete(w.timers, path)
		}
		w.mu.Unlock()

		err = w.watcher.Close()
		w.wg.Wait()
		w.pool.Stop()
	})
	return err
}

// Dir 监控目录
func (w *DexWatcher) Dir() string {
	return w.opts.Dir
}
