package art_test

import (
	"testing"

	"github.com/apk-analysis/dexkit-bridge/internal/art"
	"github.com/apk-analysis/dexkit-bridge/internal/art/arttest"
	"github.com/apk-analysis/dexkit-bridge/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCookie_Descriptors 测试描述符视图
func TestCookie_Descriptors(t *testing.T) {
	tests := []struct {
		name   string
		cookie art.Cookie
		want   []uintptr
	}{
		{"empty", art.Cookie{}, nil},
		{"sentinel only", art.Cookie{0}, nil},
		{"descending", art.Cookie{0, 0x10, 0x20, 0x30}, []uintptr{0x30, 0x20, 0x10}},
		{"keeps nulls", art.Cookie{0, 0x10, 0, 0x30}, []uintptr{0x30, 0, 0x10}},
		{"sentinel set", art.Cookie{0x99, 0x10, 0x20}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cookie.Descriptors()
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestCookie_Sentinel 测试哨兵
func TestCookie_Sentinel(t *testing.T) {
	assert.Zero(t, art.Cookie{}.Sentinel())
	assert.Zero(t, art.Cookie{0, 1}.Sentinel())
	assert.Equal(t, uintptr(0x7000), art.Cookie{0x7000, 1}.Sentinel())
}

// TestReadDescriptor 测试读取描述符
func TestReadDescriptor(t *testing.T) {
	mem := arttest.NewMemory()
	desc, img := mem.Standard(0x200)

	got, err := art.ReadDescriptor(mem, uintptr(desc), mem.Layout())
	require.NoError(t, err)
	assert.Equal(t, img, got)
	assert.Equal(t, uint64(0x200), got.Size)

	_, err = art.ReadDescriptor(mem, 0xdead0000, mem.Layout())
	assert.ErrorIs(t, err, memory.ErrUnmapped)
}

// TestDefaultDescriptorLayout 测试默认布局跳过虚表指针
func TestDefaultDescriptorLayout(t *testing.T) {
	l := art.DefaultDescriptorLayout()
	assert.Equal(t, uintptr(memory.WordSize), l.BeginOffset)
	assert.Equal(t, uintptr(2*memory.WordSize), l.SizeOffset)
}
