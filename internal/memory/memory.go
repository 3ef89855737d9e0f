package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"unsafe"
)

// WordSize 本机指针宽度（字节）
const WordSize = int(unsafe.Sizeof(uintptr(0)))

var (
	// ErrNullAddress 读取空地址
	ErrNullAddress = errors.New("memory: null address")
	// ErrUnmapped 地址未映射
	ErrUnmapped = errors.New("memory: address not mapped")
)

// Reader 原生内存读取接口
type Reader interface {
	// ReadWord 读取 addr 处一个指针宽度的值
	ReadWord(addr uintptr) (uintptr, error)
	// ReadBytes 读取 addr 处 n 个字节的副本
	ReadBytes(addr uintptr, n int) ([]byte, error)
}

// Process 读取当前进程地址空间
//
// 调用方保证地址可读；运行时在 cookie 中交给我们的指针在类加载器存活期间有效。
type Process struct{}

// ReadWord 读取一个指针宽度
func (Process) ReadWord(addr uintptr) (uintptr, error) {
	if addr == 0 {
		return 0, ErrNullAddress
	}
	return *(*uintptr)(unsafe.Pointer(addr)), nil
}

// ReadBytes 读取 n 个字节
func (Process) ReadBytes(addr uintptr, n int) ([]byte, error) {
	if addr == 0 {
		return nil, ErrNullAddress
	}
	if n < 0 {
		return nil, fmt.Errorf("memory: negative length %d", n)
	}
	out := make([]byte, n)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(addr)), n))
	return out, nil
}

type region struct {
	base uintptr
	data []byte
}

// Map 稀疏地址空间，每个区域是一段连续字节
type Map struct {
	regions []region
}

// NewMap 创建空地址空间
func NewMap() *Map {
	return &Map{}
}

// Put 在 base 处映射一段字节（会复制）
func (m *Map) Put(base uintptr, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	m.regions = append(m.regions, region{base: base, data: buf})
	sort.Slice(m.regions, func(i, j int) bool { return m.regions[i].base < m.regions[j].base })
}

// PutWords 在 base 处按小端序映射若干指针宽度的值
func (m *Map) PutWords(base uintptr, words ...uintptr) {
	buf := make([]byte, len(words)*WordSize)
	for i, w := range words {
		putWord(buf[i*WordSize:], w)
	}
	m.Put(base, buf)
}

func (m *Map) find(addr uintptr, n int) ([]byte, error) {
	if addr == 0 {
		return nil, ErrNullAddress
	}
	for _, r := range m.regions {
		if addr < r.base || addr >= r.base+uintptr(len(r.data)) {
			continue
		}
		off := int(addr - r.base)
		if off+n > len(r.data) {
			return nil, fmt.Errorf("%w: %#x+%d crosses region end", ErrUnmapped, addr, n)
		}
		return r.data[off : off+n], nil
	}
	return nil, fmt.Errorf("%w: %#x", ErrUnmapped, addr)
}

// ReadWord 读取一个指针宽度
func (m *Map) ReadWord(addr uintptr) (uintptr, error) {
	b, err := m.find(addr, WordSize)
	if err != nil {
		return 0, err
	}
	return readWord(b), nil
}

// ReadBytes 读取 n 个字节
func (m *Map) ReadBytes(addr uintptr, n int) ([]byte, error) {
	b, err := m.find(addr, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func putWord(b []byte, w uintptr) {
	if WordSize == 8 {
		binary.LittleEndian.PutUint64(b, uint64(w))
		return
	}
	binary.LittleEndian.PutUint32(b, uint32(w))
}

func readWord(b []byte) uintptr {
	if WordSize == 8 {
		return uintptr(binary.LittleEndian.Uint64(b))
	}
	return uintptr(binary.LittleEndian.Uint32(b))
}
