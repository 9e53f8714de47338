// Package image implements the MicroASM binary image format: the on-disk
// and in-memory layout an external assembler produces and the VM consumes,
// per spec.md §3 and §4.1.
package image

import (
	"encoding/binary"
	"fmt"
)

const (
	// Magic is the literal 4-byte "MASM" magic number, little-endian.
	Magic uint32 = 0x4D53414D

	// MaxVersion is the highest image format version this codec accepts.
	MaxVersion uint16 = 2

	headerSize = 4 + 2 + 4 + 4 + 4 + 4 // magic+version+codeSize+dataSize+dbgSize+entryPoint
)

// ErrBadMagic is returned when an image's magic number doesn't match "MASM".
var ErrBadMagic = fmt.Errorf("image: bad magic number")

// ErrUnsupportedVersion is returned when an image's version exceeds MaxVersion.
var ErrUnsupportedVersion = fmt.Errorf("image: unsupported version")

// ErrTruncated is returned when an image is shorter than its header claims.
var ErrTruncated = fmt.Errorf("image: truncated segment")

// ErrEntryOutOfRange is returned when entryPoint >= codeSize for a non-empty
// code segment.
var ErrEntryOutOfRange = fmt.Errorf("image: entry point out of range")

// DataRecord is one (addr, len, bytes) entry in the data segment.
type DataRecord struct {
	Addr int16
	Data []byte
}

// DebugRecord maps one symbolic label to a code offset, from the optional
// debug segment.
type DebugRecord struct {
	Label string
	Addr  int32
}

// Image is a fully decoded MicroASM binary image.
type Image struct {
	Version    uint16
	EntryPoint int32
	Code       []byte
	Data       []DataRecord
	Debug      []DebugRecord
	// Trailing holds any bytes present after all declared segments, set
	// when Decode detects one; per spec.md §4.1 this is a warning, not an
	// error.
	Trailing bool
}

// Decode parses a full binary image per the layout in spec.md §3: a fixed
// header, then code, data and (optional) debug segments in that order.
func Decode(raw []byte) (*Image, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("%w: image shorter than header (%d bytes)", ErrTruncated, len(raw))
	}

	magic := binary.LittleEndian.Uint32(raw[0:4])
	if magic != Magic {
		return nil, fmt.Errorf("%w: got 0x%08X", ErrBadMagic, magic)
	}
	version := binary.LittleEndian.Uint16(raw[4:6])
	if version > MaxVersion {
		return nil, fmt.Errorf("%w: version %d (max %d)", ErrUnsupportedVersion, version, MaxVersion)
	}
	codeSize := binary.LittleEndian.Uint32(raw[6:10])
	dataSize := binary.LittleEndian.Uint32(raw[10:14])
	dbgSize := binary.LittleEndian.Uint32(raw[14:18])
	entryPoint := int32(binary.LittleEndian.Uint32(raw[18:22]))

	off := headerSize
	need := uint64(off) + uint64(codeSize) + uint64(dataSize) + uint64(dbgSize)
	if need > uint64(len(raw)) {
		return nil, fmt.Errorf("%w: declared segments need %d bytes, have %d", ErrTruncated, need, len(raw))
	}

	code := raw[off : off+int(codeSize)]
	off += int(codeSize)

	if entryPoint >= int32(codeSize) && codeSize > 0 {
		return nil, fmt.Errorf("%w: entryPoint=%d codeSize=%d", ErrEntryOutOfRange, entryPoint, codeSize)
	}

	dataEnd := off + int(dataSize)
	data, err := decodeDataSegment(raw[off:dataEnd])
	if err != nil {
		return nil, err
	}
	off = dataEnd

	dbgEnd := off + int(dbgSize)
	debug, err := decodeDebugSegment(raw[off:dbgEnd])
	if err != nil {
		return nil, err
	}
	off = dbgEnd

	img := &Image{
		Version:    version,
		EntryPoint: entryPoint,
		Code:       append([]byte(nil), code...),
		Data:       data,
		Debug:      debug,
		Trailing:   off < len(raw),
	}
	return img, nil
}

func decodeDataSegment(seg []byte) ([]DataRecord, error) {
	var records []DataRecord
	i := 0
	for i < len(seg) {
		if i+4 > len(seg) {
			return nil, fmt.Errorf("%w: data record header truncated", ErrTruncated)
		}
		addr := int16(binary.LittleEndian.Uint16(seg[i : i+2]))
		length := int16(binary.LittleEndian.Uint16(seg[i+2 : i+4]))
		i += 4
		if length < 0 || i+int(length) > len(seg) {
			return nil, fmt.Errorf("%w: data record body truncated", ErrTruncated)
		}
		records = append(records, DataRecord{Addr: addr, Data: append([]byte(nil), seg[i:i+int(length)]...)})
		i += int(length)
	}
	return records, nil
}

func decodeDebugSegment(seg []byte) ([]DebugRecord, error) {
	var records []DebugRecord
	i := 0
	for i < len(seg) {
		start := i
		for i < len(seg) && seg[i] != 0 {
			i++
		}
		if i >= len(seg) {
			return nil, fmt.Errorf("%w: unterminated debug label", ErrTruncated)
		}
		label := string(seg[start:i])
		i++ // NUL
		if i+4 > len(seg) {
			return nil, fmt.Errorf("%w: debug record address truncated", ErrTruncated)
		}
		addr := int32(binary.LittleEndian.Uint32(seg[i : i+4]))
		i += 4
		records = append(records, DebugRecord{Label: label, Addr: addr})
	}
	return records, nil
}

// Encode serializes img into the on-disk binary image format. It is the
// inverse of Decode (modulo the Trailing flag, which has no wire
// representation).
func Encode(img *Image) []byte {
	dataSeg := encodeDataSegment(img.Data)
	dbgSeg := encodeDebugSegment(img.Debug)

	buf := make([]byte, 0, headerSize+len(img.Code)+len(dataSeg)+len(dbgSeg))
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], Magic)
	binary.LittleEndian.PutUint16(hdr[4:6], img.Version)
	binary.LittleEndian.PutUint32(hdr[6:10], uint32(len(img.Code)))
	binary.LittleEndian.PutUint32(hdr[10:14], uint32(len(dataSeg)))
	binary.LittleEndian.PutUint32(hdr[14:18], uint32(len(dbgSeg)))
	binary.LittleEndian.PutUint32(hdr[18:22], uint32(img.EntryPoint))

	buf = append(buf, hdr[:]...)
	buf = append(buf, img.Code...)
	buf = append(buf, dataSeg...)
	buf = append(buf, dbgSeg...)
	return buf
}

func encodeDataSegment(records []DataRecord) []byte {
	var buf []byte
	for _, r := range records {
		var hdr [4]byte
		binary.LittleEndian.PutUint16(hdr[0:2], uint16(r.Addr))
		binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(r.Data)))
		buf = append(buf, hdr[:]...)
		buf = append(buf, r.Data...)
	}
	return buf
}

func encodeDebugSegment(records []DebugRecord) []byte {
	var buf []byte
	for _, r := range records {
		buf = append(buf, r.Label...)
		buf = append(buf, 0)
		var addr [4]byte
		binary.LittleEndian.PutUint32(addr[:], uint32(r.Addr))
		buf = append(buf, addr[:]...)
	}
	return buf
}

// Target abstracts the RAM the data segment is written into, so this
// package does not need to import the memory package directly.
type Target interface {
	WriteBytes(addr int, data []byte) error
}

// LoadDataSegment writes every data record into ram at its declared
// address, per spec.md §4.1 ("the data segment is applied to RAM before
// execution").
func LoadDataSegment(ram Target, img *Image) error {
	for _, rec := range img.Data {
		if err := ram.WriteBytes(int(rec.Addr), rec.Data); err != nil {
			return fmt.Errorf("image: writing data record at 0x%04X: %w", rec.Addr, err)
		}
	}
	return nil
}

// DebugMap builds a label -> address lookup table from an image's debug
// segment, used by the debugger and the trap formatter for address
// resolution (spec.md §4.1/§4.7/§4.8).
func DebugMap(img *Image) map[string]int32 {
	m := make(map[string]int32, len(img.Debug))
	for _, r := range img.Debug {
		m[r.Label] = r.Addr
	}
	return m
}
