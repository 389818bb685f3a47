// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

const (
	attributesName    = "(attributes)"
	attributesVersion = 100
)

// AttributeFlags selects the per-file arrays stored in (attributes).
type AttributeFlags uint32

const (
	AttrCRC32    AttributeFlags = 0x00000001
	AttrFileTime AttributeFlags = 0x00000002
	AttrMD5      AttributeFlags = 0x00000004
	AttrPatchBit AttributeFlags = 0x00000008

	AttrAll = AttrCRC32 | AttrFileTime | AttrMD5 | AttrPatchBit
)

// fileTimeEpochDelta is the number of 100ns ticks between 1601-01-01 and
// the Unix epoch.
const fileTimeEpochDelta = 116444736000000000

// FileTime converts t to a FILETIME tick count. The zero time maps to 0.
func FileTime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano()/100 + fileTimeEpochDelta)
}

// TimeFromFileTime converts a FILETIME tick count to a UTC time. Zero maps
// to the zero time.
func TimeFromFileTime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	ticks := int64(ft) - fileTimeEpochDelta
	return time.Unix(0, ticks*100).UTC()
}

// FileAttributes is one entry of the (attributes) file. Fields that the
// archive does not store are left zero.
type FileAttributes struct {
	CRC32    uint32
	FileTime uint64
	MD5      [16]byte
	Patch    bool
}

// Attributes is the parsed (attributes) file, indexed by block table index.
type Attributes struct {
	Version uint32
	Flags   AttributeFlags
	Entries []FileAttributes
}

type attributesWriter struct {
	flags   AttributeFlags
	entries []FileAttributes
}

func newAttributesWriter(fileCount int, flags AttributeFlags) *attributesWriter {
	return &attributesWriter{
		flags:   flags,
		entries: make([]FileAttributes, fileCount),
	}
}

// setEntry records the attributes of block index. A nil data leaves the
// checksums zero, as for the (attributes) file itself.
func (a *attributesWriter) setEntry(index int, data []byte, modTime time.Time, patch bool) {
	if index < 0 || index >= len(a.entries) {
		return
	}
	e := &a.entries[index]
	if data != nil {
		e.CRC32 = crc32.ChecksumIEEE(data)
		e.MD5 = md5.Sum(data)
	}
	e.FileTime = FileTime(modTime)
	e.Patch = patch
}

func (a *attributesWriter) build() []byte {
	n := len(a.entries)
	data := make([]byte, 8, 8+n*(4+8+16)+(n+7)/8)
	binary.LittleEndian.PutUint32(data[0:4], attributesVersion)
	binary.LittleEndian.PutUint32(data[4:8], uint32(a.flags))

	if a.flags&AttrCRC32 != 0 {
		for _, e := range a.entries {
			data = binary.LittleEndian.AppendUint32(data, e.CRC32)
		}
	}
	if a.flags&AttrFileTime != 0 {
		for _, e := range a.entries {
			data = binary.LittleEndian.AppendUint64(data, e.FileTime)
		}
	}
	if a.flags&AttrMD5 != 0 {
		for _, e := range a.entries {
			data = append(data, e.MD5[:]...)
		}
	}
	if a.flags&AttrPatchBit != 0 {
		bits := make([]byte, (n+7)/8)
		for i, e := range a.entries {
			if e.Patch {
				bits[i/8] |= 1 << (i % 8)
			}
		}
		data = append(data, bits...)
	}

	return data
}

// ParseAttributes decodes an (attributes) file describing fileCount blocks.
func ParseAttributes(data []byte, fileCount int) (*Attributes, error) {
	if len(data) < 8 {
		return nil, formatErrorf("attributes", "truncated: %d bytes", len(data))
	}

	attrs := &Attributes{
		Version: binary.LittleEndian.Uint32(data[0:4]),
		Flags:   AttributeFlags(binary.LittleEndian.Uint32(data[4:8])),
		Entries: make([]FileAttributes, fileCount),
	}
	if attrs.Version != attributesVersion {
		return nil, formatErrorf("attributes", "unsupported version %d", attrs.Version)
	}

	rest := data[8:]
	take := func(name string, size int) ([]byte, error) {
		if len(rest) < size {
			return nil, formatErrorf("attributes", "%s array truncated: %d bytes, need %d", name, len(rest), size)
		}
		b := rest[:size]
		rest = rest[size:]
		return b, nil
	}

	if attrs.Flags&AttrCRC32 != 0 {
		b, err := take("crc32", 4*fileCount)
		if err != nil {
			return nil, err
		}
		for i := range attrs.Entries {
			attrs.Entries[i].CRC32 = binary.LittleEndian.Uint32(b[4*i:])
		}
	}
	if attrs.Flags&AttrFileTime != 0 {
		b, err := take("filetime", 8*fileCount)
		if err != nil {
			return nil, err
		}
		for i := range attrs.Entries {
			attrs.Entries[i].FileTime = binary.LittleEndian.Uint64(b[8*i:])
		}
	}
	if attrs.Flags&AttrMD5 != 0 {
		b, err := take("md5", 16*fileCount)
		if err != nil {
			return nil, err
		}
		for i := range attrs.Entries {
			copy(attrs.Entries[i].MD5[:], b[16*i:])
		}
	}
	if attrs.Flags&AttrPatchBit != 0 {
		b, err := take("patch bits", (fileCount+7)/8)
		if err != nil {
			return nil, err
		}
		for i := range attrs.Entries {
			attrs.Entries[i].Patch = b[i/8]&(1<<(i%8)) != 0
		}
	}

	return attrs, nil
}

func (f AttributeFlags) String() string {
	return fmt.Sprintf("0x%08X", uint32(f))
}
