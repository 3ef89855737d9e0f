// Package dexfile 识别内存或磁盘上的 DEX 镜像。
//
// 参考格式说明: https://source.android.com/devices/tech/dalvik/dex-format.html
package dexfile

import (
	"bytes"

	"github.com/apk-analysis/dexkit-bridge/internal/memory"
)

const (
	// Magic 标准 DEX 魔数
	Magic = "dex\n"
	// CompactMagic 运行时内部使用的 compact dex 魔数
	CompactMagic = "cdex"
	// MagicSize 魔数长度
	MagicSize = 4
)

// IsStandard 判断前 4 字节是否为标准 DEX 魔数 {'d','e','x','\n'}
func IsStandard(prefix []byte) bool {
	if len(prefix) < MagicSize {
		return false
	}
	return prefix[0] == 'd' && prefix[1] == 'e' && prefix[2] == 'x' && prefix[3] == '\n'
}

// IsCompact 判断是否为 compact dex
func IsCompact(prefix []byte) bool {
	return len(prefix) >= MagicSize && bytes.Equal(prefix[:MagicSize], []byte(CompactMagic))
}

// IsStandardAt 读取 addr 处恰好 4 个字节并判断魔数，读取失败视为非标准
func IsStandardAt(r memory.Reader, addr uintptr) bool {
	b, err := r.ReadBytes(addr, MagicSize)
	if err != nil {
		return false
	}
	return IsStandard(b)
}

// Version 返回魔数后的三位版本号（如 "035"），非标准 DEX 返回空串
func Version(prefix []byte) string {
	if !IsStandard(prefix) || len(prefix) < 8 || prefix[7] != 0 {
		return ""
	}
	return string(prefix[4:7])
}

// Image 内存中一个 DEX 镜像的非持有视图，字节归类加载器所有
type Image struct {
	Begin uintptr
	Size  uint64
}
