package dexfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	// HeaderSize DEX 头部固定长度
	HeaderSize = 0x70

	endianConstant        = 0x12345678
	reverseEndianConstant = 0x78563412
)

// rawHeader 按字段顺序与 header_item 一致，供 binary.Read 填充
type rawHeader struct {
	Magic         [8]byte
	Checksum      uint32
	Signature     [20]byte
	FileSize      uint32
	HeaderSize    uint32
	EndianTag     uint32
	LinkSize      uint32
	LinkOff       uint32
	MapOff        uint32
	StringIdsSize uint32
	StringIdsOff  uint32
	TypeIdsSize   uint32
	TypeIdsOff    uint32
	ProtoIdsSize  uint32
	ProtoIdsOff   uint32
	FieldIdsSize  uint32
	FieldIdsOff   uint32
	MethodIdsSize uint32
	MethodIdsOff  uint32
	ClassDefsSize uint32
	ClassDefsOff  uint32
	DataSize      uint32
	DataOff       uint32
}

// HeaderSummary DEX 头部摘要，仅用于诊断输出
type HeaderSummary struct {
	Version    string `json:"version"`
	FileSize   uint32 `json:"file_size"`
	HeaderSize uint32 `json:"header_size"`
	Checksum   uint32 `json:"checksum"`
	Strings    uint32 `json:"strings"`
	Types      uint32 `json:"types"`
	Methods    uint32 `json:"methods"`
	Classes    uint32 `json:"classes"`
}

// ReadHeaderSummary 解码头部；只接受小端序的标准 DEX
func ReadHeaderSummary(b []byte) (*HeaderSummary, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("dex header too small: %d bytes", len(b))
	}
	if !IsStandard(b) {
		return nil, fmt.Errorf("invalid DEX magic: %q", b[:MagicSize])
	}

	var h rawHeader
	if err := binary.Read(bytes.NewReader(b[:HeaderSize]), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("decode dex header: %w", err)
	}
	switch h.EndianTag {
	case endianConstant:
	case reverseEndianConstant:
		return nil, fmt.Errorf("big-endian DEX not supported")
	default:
		return nil, fmt.Errorf("bad endian tag %#x", h.EndianTag)
	}

	return &HeaderSummary{
		Version:    Version(h.Magic[:]),
		FileSize:   h.FileSize,
		HeaderSize: h.HeaderSize,
		Checksum:   h.Checksum,
		Strings:    h.StringIdsSize,
		Types:      h.TypeIdsSize,
		Methods:    h.MethodIdsSize,
		Classes:    h.ClassDefsSize,
	}, nil
}

// ReadHeaderFile 读取文件开头的头部摘要
func ReadHeaderFile(path string) (*HeaderSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	b := make([]byte, HeaderSize)
	n, err := io.ReadFull(f, b)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("read dex header %s: %w", path, err)
	}
	return ReadHeaderSummary(b[:n])
}
