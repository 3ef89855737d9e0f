// Package engine 定义分析引擎的构造契约，并提供默认实现。
//
// 引擎本身（字符串/方法/字段交叉引用、操作码匹配等）不在本仓库范围内；
// 默认实现只持有镜像视图或路径，并报告 DEX 数量。
package engine

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"

	"github.com/apk-analysis/dexkit-bridge/internal/dexfile"
)

// ErrNoDex 输入中没有可用的 DEX
var ErrNoDex = errors.New("engine: no dex found")

// Engine 分析引擎实例
type Engine interface {
	DexNum() int
	SetThreadNum(n int)
	ThreadNum() int
	Source() string
	Close() error
}

// Factory 引擎的两个构造入口
type Factory interface {
	FromPath(path string) (Engine, error)
	FromImages(images []dexfile.Image) (Engine, error)
}

// DefaultFactory 默认工厂
type DefaultFactory struct {
	// ThreadNum 新引擎的默认线程数，<=0 时使用 CPU 数
	ThreadNum int
}

// NewFactory 创建默认工厂
func NewFactory(threadNum int) *DefaultFactory {
	return &DefaultFactory{ThreadNum: threadNum}
}

func (f *DefaultFactory) threads() int {
	if f.ThreadNum > 0 {
		return f.ThreadNum
	}
	return runtime.NumCPU()
}

var classesDex = regexp.MustCompile(`^classes\d*\.dex$`)

// FromPath 从 APK 或单个 DEX 文件构造
func (f *DefaultFactory) FromPath(path string) (Engine, error) {
	if path == "" {
		return nil, fmt.Errorf("engine: empty path")
	}

	var (
		n   int
		err error
	)
	if strings.EqualFold(filepath.Ext(path), ".dex") {
		n, err = countDexFile(path)
	} else {
		n, err = countApkDex(path)
	}
	if err != nil {
		return nil, err
	}

	return &pathEngine{base: base{threads: f.threads()}, path: path, dexNum: n}, nil
}

// FromImages 从内存中的镜像构造；镜像由调用方（类加载器）持有
func (f *DefaultFactory) FromImages(images []dexfile.Image) (Engine, error) {
	if len(images) == 0 {
		return nil, ErrNoDex
	}
	spans := make([]dexfile.Image, len(images))
	copy(spans, images)
	return &imageEngine{base: base{threads: f.threads()}, images: spans}, nil
}

// countApkDex 只读取中央目录，不解压
func countApkDex(path string) (int, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return 0, fmt.Errorf("unable to open APK %s: %w", path, err)
	}
	defer rc.Close()

	n := 0
	for _, file := range rc.File {
		if classesDex.MatchString(file.Name) {
			n++
		}
	}
	if n == 0 {
		return 0, fmt.Errorf("%w in %s", ErrNoDex, path)
	}
	return n, nil
}

func countDexFile(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("unable to open dex file %s: %w", path, err)
	}
	defer file.Close()

	magic := make([]byte, dexfile.MagicSize)
	if _, err := io.ReadFull(file, magic); err != nil {
		return 0, fmt.Errorf("read dex magic %s: %w", path, err)
	}
	if !dexfile.IsStandard(magic) {
		return 0, fmt.Errorf("invalid DEX magic in %s: %q", path, magic)
	}
	return 1, nil
}

type base struct {
	mu      sync.Mutex
	threads int
	closed  bool
}

func (b *base) SetThreadNum(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.threads = n
}

func (b *base) ThreadNum() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.threads
}

func (b *base) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("engine: already closed")
	}
	b.closed = true
	return nil
}

type pathEngine struct {
	base
	path   string
	dexNum int
}

func (e *pathEngine) DexNum() int    { return e.dexNum }
func (e *pathEngine) Source() string { return e.path }

type imageEngine struct {
	base
	images []dexfile.Image
}

func (e *imageEngine) DexNum() int    { return len(e.images) }
func (e *imageEngine) Source() string { return fmt.Sprintf("memory:%d", len(e.images)) }

// Images 返回镜像视图副本
func (e *imageEngine) Images() []dexfile.Image {
	out := make([]dexfile.Image, len(e.images))
	copy(out, e.images)
	return out
}

// Imager 由内存构造的引擎实现
type Imager interface {
	Images() []dexfile.Image
}
