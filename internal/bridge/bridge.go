// Package bridge 是引擎构造的唯一入口：按路径构造，或遍历类加载器取内存中的
// DEX 镜像构造，并以不透明整数句柄管理引擎生命周期。
package bridge

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/apk-analysis/dexkit-bridge/internal/art"
	"github.com/apk-analysis/dexkit-bridge/internal/domain"
	"github.com/apk-analysis/dexkit-bridge/internal/engine"
	"github.com/apk-analysis/dexkit-bridge/internal/metrics"
	"github.com/sirupsen/logrus"
)

// ErrNotFound 句柄不存在或已释放
var ErrNotFound = errors.New("bridge: handle not found")

// History 构造历史的持久化接口，由 repository.LoadRecordRepository 实现
type History interface {
	Create(ctx context.Context, rec *domain.LoadRecord) error
	MarkReleased(ctx context.Context, handle int64, at time.Time) error
}

// Info 存活引擎的快照
type Info struct {
	Handle    int64             `json:"handle"`
	Source    domain.LoadSource `json:"source"`
	Mode      domain.LoadMode   `json:"mode"`
	Origin    string            `json:"origin"`
	DexNum    int               `json:"dex_num"`
	ThreadNum int               `json:"thread_num"`
	CreatedAt time.Time         `json:"created_at"`
}

type entry struct {
	engine    engine.Engine
	source    domain.LoadSource
	mode      domain.LoadMode
	createdAt time.Time
}

// Bridge 构造分发器与句柄表
type Bridge struct {
	factory engine.Factory
	walker  *art.Walker
	logger  *logrus.Entry
	metrics *metrics.Collector
	history History

	mu      sync.RWMutex
	next    int64
	engines map[int64]*entry
}

// New 创建分发器；collector 与 history 可为 nil
func New(factory engine.Factory, walker *art.Walker, logger *logrus.Logger, collector *metrics.Collector, history History) *Bridge {
	return &Bridge{
		factory: factory,
		walker:  walker,
		logger:  logger.WithField("tag", art.LogTag),
		metrics: collector,
		history: history,
		engines: make(map[int64]*entry),
	}
}

// InitFromPath 从 APK 或 DEX 文件构造引擎，失败返回 0
func (b *Bridge) InitFromPath(path string) int64 {
	start := time.Now()
	rec := &domain.LoadRecord{Source: domain.LoadSourcePath, Path: path}

	if path == "" {
		b.finish(rec, nil, start, errors.New("empty path"))
		return 0
	}

	e, err := b.factory.FromPath(path)
	if err != nil {
		b.logger.WithError(err).WithField("path", path).Warn("init from path failed")
	}
	rec.Mode = domain.LoadModePath
	return b.finish(rec, e, start, err)
}

// InitFromLoader 遍历类加载器构造引擎
//
// 内存镜像优先；没有镜像时回退到遍历中发现的 APK 路径；两者都没有时返回 0。
func (b *Bridge) InitFromLoader(env art.Env, loader art.Object) int64 {
	start := time.Now()
	rec := &domain.LoadRecord{Source: domain.LoadSourceLoader}

	if loader == 0 {
		b.logger.Warn("class loader is null")
		b.finish(rec, nil, start, art.ErrNullLoader)
		return 0
	}

	res, err := b.walker.Walk(env, loader)
	if err != nil {
		b.logger.WithError(err).Error("class loader walk failed")
		b.finish(rec, nil, start, err)
		return 0
	}

	rec.Elements = res.Elements
	rec.Skipped = res.Skipped
	rec.Sentinel = res.Sentinel
	rec.Tainted = res.Tainted
	rec.ImageCount = len(res.Images)
	b.metrics.RecordWalk(res.Elements, res.Skipped, res.Sentinel, res.Tainted, len(res.Images))

	var e engine.Engine
	switch {
	case len(res.Images) > 0:
		rec.Mode = domain.LoadModeImages
		e, err = b.factory.FromImages(res.Images)
	case res.APKPath != "":
		b.logger.WithField("apk_path", res.APKPath).Info("contains compact dex or not found cookie, use apk_path load")
		rec.Mode = domain.LoadModePath
		rec.Path = res.APKPath
		e, err = b.factory.FromPath(res.APKPath)
	default:
		b.logger.Warn("dex file and apk_path not found")
		err = errors.New("dex file and apk_path not found")
	}
	if err != nil && rec.Mode != "" {
		b.logger.WithError(err).WithField("mode", rec.Mode).Warn("engine construction failed")
	}
	return b.finish(rec, e, start, err)
}

// finish 登记引擎并上报历史与指标；err 非空时返回 0
func (b *Bridge) finish(rec *domain.LoadRecord, e engine.Engine, start time.Time, err error) int64 {
	elapsed := time.Since(start)
	rec.DurationUs = elapsed.Microseconds()

	if err != nil || e == nil {
		rec.Mode = domain.LoadModeFailed
		if err != nil {
			rec.ErrorMessage = err.Error()
		}
		b.metrics.RecordConstruction(string(rec.Source), string(rec.Mode), elapsed)
		b.record(rec)
		return 0
	}

	b.mu.Lock()
	b.next++
	handle := b.next
	b.engines[handle] = &entry{engine: e, source: rec.Source, mode: rec.Mode, createdAt: start}
	live := len(b.engines)
	b.mu.Unlock()

	rec.Handle = handle
	rec.DexNum = e.DexNum()
	b.metrics.RecordConstruction(string(rec.Source), string(rec.Mode), elapsed)
	b.metrics.SetLiveHandles(live)
	b.record(rec)

	b.logger.WithFields(logrus.Fields{
		"handle":  handle,
		"mode":    rec.Mode,
		"dex_num": rec.DexNum,
	}).Debug("engine constructed")
	return handle
}

func (b *Bridge) record(rec *domain.LoadRecord) {
	if b.history == nil {
		return
	}
	if err := b.history.Create(context.Background(), rec); err != nil {
		b.logger.WithError(err).Warn("failed to save load record")
	}
}

// Release 释放句柄；0 或未知句柄静默忽略
func (b *Bridge) Release(handle int64) {
	if handle == 0 {
		return
	}

	b.mu.Lock()
	ent, ok := b.engines[handle]
	if ok {
		delete(b.engines, handle)
	}
	live := len(b.engines)
	b.mu.Unlock()

	if !ok {
		return
	}
	if err := ent.engine.Close(); err != nil {
		b.logger.WithError(err).WithField("handle", handle).Warn("engine close failed")
	}
	b.metrics.RecordRelease()
	b.metrics.SetLiveHandles(live)

	if b.history != nil {
		if err := b.history.MarkReleased(context.Background(), handle, time.Now()); err != nil {
			b.logger.WithError(err).WithField("handle", handle).Warn("failed to mark load record released")
		}
	}
}

// Engine 返回句柄对应的引擎
func (b *Bridge) Engine(handle int64) (engine.Engine, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ent, ok := b.engines[handle]
	if !ok {
		return nil, ErrNotFound
	}
	return ent.engine, nil
}

// SetThreadNum 转发到引擎
func (b *Bridge) SetThreadNum(handle int64, n int) error {
	e, err := b.Engine(handle)
	if err != nil {
		return err
	}
	e.SetThreadNum(n)
	return nil
}

// DexNum 转发到引擎；未知句柄返回 0
func (b *Bridge) DexNum(handle int64) int {
	e, err := b.Engine(handle)
	if err != nil {
		return 0
	}
	return e.DexNum()
}

// Handles 返回存活句柄，升序
func (b *Bridge) Handles() []int64 {
	b.mu.RLock()
	out := make([]int64, 0, len(b.engines))
	for h := range b.engines {
		out = append(out, h)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Describe 返回句柄快照
func (b *Bridge) Describe(handle int64) (Info, error) {
	b.mu.RLock()
	ent, ok := b.engines[handle]
	b.mu.RUnlock()
	if !ok {
		return Info{}, ErrNotFound
	}
	return Info{
		Handle:    handle,
		Source:    ent.source,
		Mode:      ent.mode,
		Origin:    ent.engine.Source(),
		DexNum:    ent.engine.DexNum(),
		ThreadNum: ent.engine.ThreadNum(),
		CreatedAt: ent.createdAt,
	}, nil
}

// List 返回全部存活引擎快照
func (b *Bridge) List() []Info {
	handles := b.Handles()
	out := make([]Info, 0, len(handles))
	for _, h := range handles {
		if info, err := b.Describe(h); err == nil {
			out = append(out, info)
		}
	}
	return out
}

// Close 释放全部句柄
func (b *Bridge) Close() {
	for _, h := range b.Handles() {
		b.Release(h)
	}
}
