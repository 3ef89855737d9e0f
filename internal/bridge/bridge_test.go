package bridge

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/apk-analysis/dexkit-bridge/internal/art"
	"github.com/apk-analysis/dexkit-bridge/internal/art/arttest"
	"github.com/apk-analysis/dexkit-bridge/internal/dexfile"
	"github.com/apk-analysis/dexkit-bridge/internal/domain"
	"github.com/apk-analysis/dexkit-bridge/internal/engine"
	"github.com/apk-analysis/dexkit-bridge/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockFactory 引擎工厂 mock
type MockFactory struct {
	mock.Mock
}

func (m *MockFactory) FromPath(path string) (engine.Engine, error) {
	args := m.Called(path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(engine.Engine), args.Error(1)
}

func (m *MockFactory) FromImages(images []dexfile.Image) (engine.Engine, error) {
	args := m.Called(images)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(engine.Engine), args.Error(1)
}

// memoryHistory 内存中的历史记录
type memoryHistory struct {
	mu       sync.Mutex
	records  []*domain.LoadRecord
	released []int64
}

func (h *memoryHistory) Create(_ context.Context, rec *domain.LoadRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	return nil
}

func (h *memoryHistory) MarkReleased(_ context.Context, handle int64, _ time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = append(h.released, handle)
	return nil
}

func (h *memoryHistory) last() *domain.LoadRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) == 0 {
		return nil
	}
	return h.records[len(h.records)-1]
}

type fixture struct {
	rt        *arttest.Runtime
	mem       *arttest.Memory
	factory   *MockFactory
	history   *memoryHistory
	collector *metrics.Collector
	registry  *prometheus.Registry
	hook      *test.Hook
	bridge    *Bridge
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	mem := arttest.NewMemory()
	reg := prometheus.NewRegistry()
	f := &fixture{
		rt:        arttest.NewRuntime(),
		mem:       mem,
		factory:   new(MockFactory),
		history:   &memoryHistory{},
		collector: metrics.NewCollector(logger, "test", reg),
		registry:  reg,
		hook:      hook,
	}
	walker := art.NewWalker(&art.FieldCache{}, mem, mem.Layout(), logger)
	f.bridge = New(f.factory, walker, logger, f.collector, f.history)
	return f
}

func (f *fixture) initFromLoader(t *testing.T, loader art.Object) int64 {
	t.Helper()
	h := f.bridge.InitFromLoader(f.rt, loader)
	assert.Zero(t, f.rt.LiveRefs(), "local refs leaked")
	assert.Zero(t, f.rt.Pinned(), "cookie elements not released")
	return h
}

func imageEngine(t *testing.T, images []dexfile.Image) engine.Engine {
	t.Helper()
	e, err := engine.NewFactory(1).FromImages(images)
	require.NoError(t, err)
	return e
}

func writeAPK(t *testing.T, dexCount int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "x.apk")
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()

	zw := zip.NewWriter(file)
	names := []string{"classes.dex", "classes2.dex", "classes3.dex"}
	for _, name := range names[:dexCount] {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("dex\n035\x00"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return path
}

// metricValue 汇总指标族中匹配标签的样本值
func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue series
				}
			}
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			}
		}
	}
	return total
}

func hasWarning(hook *test.Hook, msg string) bool {
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == msg {
			return true
		}
	}
	return false
}

const apkFallbackMsg = "contains compact dex or not found cookie, use apk_path load"

func findEntry(hook *test.Hook, msg string) *logrus.Entry {
	for _, e := range hook.AllEntries() {
		if e.Message == msg {
			return e
		}
	}
	return nil
}

// TestInitFromLoader_TwoStandardElements 场景 1：内存镜像按顺序交给引擎
func TestInitFromLoader_TwoStandardElements(t *testing.T) {
	f := newFixture(t)
	d1, img1 := f.mem.Standard(0x100)
	d2, img2 := f.mem.Standard(0x200)
	d3, img3 := f.mem.Standard(0x300)
	want := []dexfile.Image{img2, img1, img3}

	f.factory.On("FromImages", want).Return(imageEngine(t, want), nil).Once()

	loader := f.rt.NewLoader(
		arttest.ElementSpec{Cookie: []int64{0, d1, d2}, FileName: "/data/app/a/base.apk"},
		arttest.ElementSpec{Cookie: []int64{0, d3}},
	)
	h := f.initFromLoader(t, loader)

	require.NotZero(t, h)
	assert.Equal(t, 3, f.bridge.DexNum(h))
	f.factory.AssertExpectations(t)
	f.factory.AssertNotCalled(t, "FromPath", mock.Anything)

	rec := f.history.last()
	require.NotNil(t, rec)
	assert.Equal(t, domain.LoadModeImages, rec.Mode)
	assert.Equal(t, h, rec.Handle)
	assert.Equal(t, 3, rec.ImageCount)
	assert.Equal(t, 1.0, metricValue(t, f.registry, "test_constructions_total", map[string]string{"source": "loader", "mode": metrics.ModeImages}))
}

// TestInitFromLoader_CompactFallsBackToAPK 场景 2：compact 元素回退到 APK 路径
func TestInitFromLoader_CompactFallsBackToAPK(t *testing.T) {
	f := newFixture(t)
	dc, _ := f.mem.Compact(0x100)
	d1, _ := f.mem.Standard(0x100)
	apk := writeAPK(t, 2)

	e, err := engine.NewFactory(1).FromPath(apk)
	require.NoError(t, err)
	f.factory.On("FromPath", apk).Return(e, nil).Once()

	loader := f.rt.NewLoader(arttest.ElementSpec{Cookie: []int64{0, dc, d1}, FileName: apk})
	h := f.initFromLoader(t, loader)

	require.NotZero(t, h)
	assert.Equal(t, 2, f.bridge.DexNum(h))
	f.factory.AssertNotCalled(t, "FromImages", mock.Anything)

	rec := f.history.last()
	assert.Equal(t, domain.LoadModePath, rec.Mode)
	assert.Equal(t, apk, rec.Path)
	assert.Equal(t, 1, rec.Tainted)

	entry := findEntry(f.hook, apkFallbackMsg)
	require.NotNil(t, entry, "fallback choice is logged")
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, apk, entry.Data["apk_path"])
	assert.Equal(t, "DexKit", entry.Data["tag"])
}

// TestInitFromLoader_SentinelFallsBackToAPK 场景 3：哨兵非空同样回退
func TestInitFromLoader_SentinelFallsBackToAPK(t *testing.T) {
	f := newFixture(t)
	d1, _ := f.mem.Standard(0x100)
	d2, _ := f.mem.Standard(0x100)
	e, err := engine.NewFactory(1).FromPath(writeAPK(t, 1))
	require.NoError(t, err)
	f.factory.On("FromPath", "/data/app/s/base.apk").Return(e, nil).Once()

	loader := f.rt.NewLoader(arttest.ElementSpec{Cookie: []int64{0x7000, d1, d2}, FileName: "/data/app/s/base.apk"})
	h := f.initFromLoader(t, loader)

	assert.NotZero(t, h)
	f.factory.AssertExpectations(t)
	assert.Equal(t, 1, f.history.last().Sentinel)
}

// TestInitFromLoader_MidNull 场景 4：空槽清空累积后继续
func TestInitFromLoader_MidNull(t *testing.T) {
	f := newFixture(t)
	d1, img1 := f.mem.Standard(0x100)
	d2, _ := f.mem.Standard(0x200)
	want := []dexfile.Image{img1}
	f.factory.On("FromImages", want).Return(imageEngine(t, want), nil).Once()

	h := f.initFromLoader(t, f.rt.NewLoader(arttest.ElementSpec{Cookie: []int64{0, d1, 0, d2}}))

	assert.NotZero(t, h)
	assert.Equal(t, 1, f.bridge.DexNum(h))
	f.factory.AssertExpectations(t)
}

// TestInitFromLoader_NothingFound 场景 5：无元素时返回 0 并告警
func TestInitFromLoader_NothingFound(t *testing.T) {
	f := newFixture(t)

	h := f.initFromLoader(t, f.rt.NewLoader())

	assert.Zero(t, h)
	assert.True(t, hasWarning(f.hook, "dex file and apk_path not found"))
	f.factory.AssertNotCalled(t, "FromImages", mock.Anything)
	f.factory.AssertNotCalled(t, "FromPath", mock.Anything)

	rec := f.history.last()
	require.NotNil(t, rec)
	assert.Equal(t, domain.LoadModeFailed, rec.Mode)
	assert.Zero(t, rec.Handle)
	assert.Empty(t, f.bridge.Handles())
}

// TestInitFromLoader_APKSuppressedByImages 内存镜像存在时不回退到 APK
func TestInitFromLoader_APKSuppressedByImages(t *testing.T) {
	f := newFixture(t)
	dc, _ := f.mem.Compact(0x100)
	d1, img1 := f.mem.Standard(0x100)
	want := []dexfile.Image{img1}
	f.factory.On("FromImages", want).Return(imageEngine(t, want), nil).Once()

	loader := f.rt.NewLoader(
		arttest.ElementSpec{Cookie: []int64{0, dc}, FileName: "/data/app/t/base.apk"},
		arttest.ElementSpec{Cookie: []int64{0, d1}},
	)
	h := f.initFromLoader(t, loader)

	assert.NotZero(t, h)
	f.factory.AssertExpectations(t)
	f.factory.AssertNotCalled(t, "FromPath", mock.Anything)
	assert.Nil(t, findEntry(f.hook, apkFallbackMsg))
}

// TestInitFromLoader_FieldCacheFailure 字段解析失败返回 0，之后可重试
func TestInitFromLoader_FieldCacheFailure(t *testing.T) {
	f := newFixture(t)
	d1, img1 := f.mem.Standard(0x100)
	loader := f.rt.NewLoader(arttest.ElementSpec{Cookie: []int64{0, d1}})

	f.rt.FailClass(art.ClassDexFile)
	assert.Zero(t, f.initFromLoader(t, loader))
	assert.Equal(t, domain.LoadModeFailed, f.history.last().Mode)

	f.rt.ClearFailures()
	want := []dexfile.Image{img1}
	f.factory.On("FromImages", want).Return(imageEngine(t, want), nil).Once()
	assert.NotZero(t, f.initFromLoader(t, loader))
}

// TestInitFromLoader_FieldsResolvedOnce 多次构造只解析一次字段
func TestInitFromLoader_FieldsResolvedOnce(t *testing.T) {
	f := newFixture(t)
	d1, img1 := f.mem.Standard(0x100)
	want := []dexfile.Image{img1}
	f.factory.On("FromImages", want).Return(imageEngine(t, want), nil)

	loader := f.rt.NewLoader(arttest.ElementSpec{Cookie: []int64{0, d1}})
	require.NotZero(t, f.initFromLoader(t, loader))
	lookups := f.rt.Lookups()

	f.rt.FailField("mCookie")
	for i := 0; i < 3; i++ {
		assert.NotZero(t, f.initFromLoader(t, loader))
	}
	assert.Equal(t, lookups, f.rt.Lookups())
}

// TestInitFromLoader_NullLoader 空加载器
func TestInitFromLoader_NullLoader(t *testing.T) {
	f := newFixture(t)
	assert.Zero(t, f.bridge.InitFromLoader(f.rt, 0))
	assert.Equal(t, art.ErrNullLoader.Error(), f.history.last().ErrorMessage)
}

// TestInitFromPath 场景 6：路径构造
func TestInitFromPath(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	b := New(engine.NewFactory(2), art.NewWalker(&art.FieldCache{}, nil, art.DefaultDescriptorLayout(), logger), logger, nil, nil)

	apk := writeAPK(t, 3)
	h := b.InitFromPath(apk)
	require.NotZero(t, h)
	assert.Equal(t, 3, b.DexNum(h))

	assert.Zero(t, b.InitFromPath(""))
	assert.Zero(t, b.InitFromPath(filepath.Join(t.TempDir(), "missing.apk")))

	h2 := b.InitFromPath(apk)
	assert.Greater(t, h2, h, "handles are issued monotonically")
	assert.Equal(t, []int64{h, h2}, b.Handles())
}

// TestInitFromPath_FactoryError 工厂失败时返回 0
func TestInitFromPath_FactoryError(t *testing.T) {
	f := newFixture(t)
	f.factory.On("FromPath", "/data/app/x.apk").Return(nil, errors.New("boom")).Once()

	assert.Zero(t, f.bridge.InitFromPath("/data/app/x.apk"))
	rec := f.history.last()
	assert.Equal(t, domain.LoadModeFailed, rec.Mode)
	assert.Equal(t, "/data/app/x.apk", rec.Path)
	assert.Equal(t, "boom", rec.ErrorMessage)
}

// TestRelease 测试释放
func TestRelease(t *testing.T) {
	f := newFixture(t)
	e := imageEngine(t, []dexfile.Image{{Begin: 0x1000, Size: 0x70}})
	f.factory.On("FromPath", "/data/app/r.apk").Return(e, nil).Once()

	h := f.bridge.InitFromPath("/data/app/r.apk")
	require.NotZero(t, h)
	assert.Equal(t, 1.0, metricValue(t, f.registry, "test_live_handles", nil))

	assert.NotPanics(t, func() {
		f.bridge.Release(0)
		f.bridge.Release(h + 100)
	})

	f.bridge.Release(h)
	_, err := f.bridge.Engine(h)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, f.bridge.DexNum(h))
	assert.Equal(t, []int64{h}, f.history.released)
	assert.Equal(t, 0.0, metricValue(t, f.registry, "test_live_handles", nil))

	// 重复释放不再关闭引擎
	f.bridge.Release(h)
	assert.Equal(t, []int64{h}, f.history.released)
}

// TestForwarders 测试转发方法
func TestForwarders(t *testing.T) {
	f := newFixture(t)
	e := imageEngine(t, []dexfile.Image{{Begin: 0x1000, Size: 0x70}, {Begin: 0x2000, Size: 0x70}})
	f.factory.On("FromPath", "/data/app/f.apk").Return(e, nil).Once()

	h := f.bridge.InitFromPath("/data/app/f.apk")
	require.NoError(t, f.bridge.SetThreadNum(h, 6))
	assert.Equal(t, 6, e.ThreadNum())
	assert.ErrorIs(t, f.bridge.SetThreadNum(h+1, 6), ErrNotFound)

	info, err := f.bridge.Describe(h)
	require.NoError(t, err)
	assert.Equal(t, domain.LoadSourcePath, info.Source)
	assert.Equal(t, domain.LoadModePath, info.Mode)
	assert.Equal(t, 2, info.DexNum)
	assert.Equal(t, 6, info.ThreadNum)
	assert.Len(t, f.bridge.List(), 1)

	f.bridge.Close()
	assert.Empty(t, f.bridge.Handles())
}

// TestConcurrentConstruction 并发构造得到互不相同的句柄
func TestConcurrentConstruction(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	b := New(engine.NewFactory(1), art.NewWalker(&art.FieldCache{}, nil, art.DefaultDescriptorLayout(), logger), logger, nil, nil)
	apk := writeAPK(t, 1)

	const n = 16
	handles := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handles <- b.InitFromPath(apk)
		}()
	}
	wg.Wait()
	close(handles)

	seen := make(map[int64]bool)
	for h := range handles {
		assert.NotZero(t, h)
		assert.False(t, seen[h], "duplicate handle %d", h)
		seen[h] = true
	}
	assert.Len(t, b.Handles(), n)
}
