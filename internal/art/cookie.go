package art

import (
	"fmt"

	"github.com/apk-analysis/dexkit-bridge/internal/dexfile"
	"github.com/apk-analysis/dexkit-bridge/internal/memory"
)

// Cookie DexFile.mCookie 的内容：每项是一个本机指针
//
// 第 0 项是哨兵（存在 oat 伴随文件时非空），第 1..N-1 项指向运行时的
// DexFile 描述符。
type Cookie []int64

// Sentinel 返回第 0 项
func (c Cookie) Sentinel() uintptr {
	if len(c) == 0 {
		return 0
	}
	return uintptr(c[0])
}

// Descriptors 按下标从大到小返回描述符指针，包含空指针
//
// 哨兵非空时返回空视图。运行时从后往前填充描述符槽位。
func (c Cookie) Descriptors() []uintptr {
	if len(c) < 2 || c.Sentinel() != 0 {
		return nil
	}
	out := make([]uintptr, 0, len(c)-1)
	for i := len(c) - 1; i >= 1; i-- {
		out = append(out, uintptr(c[i]))
	}
	return out
}

// DescriptorLayout 描述符中 begin/size 字段相对描述符起始地址的偏移
type DescriptorLayout struct {
	BeginOffset uintptr
	SizeOffset  uintptr
}

// DefaultDescriptorLayout 运行时描述符首个字是虚表指针，begin 和 size 紧随其后
func DefaultDescriptorLayout() DescriptorLayout {
	return DescriptorLayout{
		BeginOffset: uintptr(memory.WordSize),
		SizeOffset:  uintptr(2 * memory.WordSize),
	}
}

// ReadDescriptor 读取 addr 处描述符的 begin 与 size
func ReadDescriptor(r memory.Reader, addr uintptr, layout DescriptorLayout) (dexfile.Image, error) {
	begin, err := r.ReadWord(addr + layout.BeginOffset)
	if err != nil {
		return dexfile.Image{}, fmt.Errorf("read descriptor begin at %#x: %w", addr, err)
	}
	size, err := r.ReadWord(addr + layout.SizeOffset)
	if err != nil {
		return dexfile.Image{}, fmt.Errorf("read descriptor size at %#x: %w", addr, err)
	}
	return dexfile.Image{Begin: begin, Size: uint64(size)}, nil
}
