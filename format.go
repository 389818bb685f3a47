// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// MPQ format constants
const (
	// Magic signature "MPQ\x1A" in little-endian
	mpqMagic = 0x1A51504D
	// User data signature "MPQ\x1B"
	userDataMagic = 0x1B51504D

	// Header sizes
	headerSizeV1 = 0x20 // 32 bytes
	headerSizeV2 = 0x2C // 44 bytes
	headerSizeV3 = 0x44 // 68 bytes
	headerSizeV4 = 0xD0 // 208 bytes

	// md5HeaderSpan is the number of v4 header bytes covered by MD5Header.
	md5HeaderSpan = 0xC0

	hashEntrySize  = 16
	blockEntrySize = 16

	// Hash table entry constants
	hashTableEmpty   = 0xFFFFFFFF
	hashTableDeleted = 0xFFFFFFFE

	// dataStartOffset is where the first file region starts, relative to the header.
	dataStartOffset = 0x1000
	// regionAlign is the alignment of file regions and of the header itself.
	regionAlign = 0x200

	defaultSectorSizeShift = 3 // 4096-byte sectors
	// maxSectorSizeShift bounds sectors at 512 MiB.
	maxSectorSizeShift = 20
	defaultHashTableSize   = 16
	defaultRawChunkSize    = 0x4000
)

// FormatVersion is the header revision of an archive.
type FormatVersion uint16

const (
	// FormatV1 is the original 32-byte header (up to 4GB).
	FormatV1 FormatVersion = 0
	// FormatV2 adds the hi-block table and 48-bit table offsets.
	FormatV2 FormatVersion = 1
	// FormatV3 adds the 64-bit archive size and HET/BET positions.
	FormatV3 FormatVersion = 2
	// FormatV4 adds table sizes and MD5 integrity hashes.
	FormatV4 FormatVersion = 3
)

// HeaderSize returns the fixed header length of the version.
func (v FormatVersion) HeaderSize() uint32 {
	switch v {
	case FormatV1:
		return headerSizeV1
	case FormatV2:
		return headerSizeV2
	case FormatV3:
		return headerSizeV3
	case FormatV4:
		return headerSizeV4
	default:
		return 0
	}
}

func (v FormatVersion) String() string {
	if v > FormatV4 {
		return fmt.Sprintf("FormatVersion(%d)", uint16(v))
	}
	return fmt.Sprintf("v%d", uint16(v)+1)
}

// ParseFormatVersion accepts "1".."4" or "v1".."v4".
func ParseFormatVersion(s string) (FormatVersion, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "v1", "":
		return FormatV1, nil
	case "2", "v2":
		return FormatV2, nil
	case "3", "v3":
		return FormatV3, nil
	case "4", "v4":
		return FormatV4, nil
	default:
		return 0, fmt.Errorf("unknown format version: %q", s)
	}
}

// BlockFlags is the flag word of a block table entry.
type BlockFlags uint32

// Block table entry flags
const (
	FlagImplode      BlockFlags = 0x00000100 // Imploded (PKWARE compression)
	FlagCompress     BlockFlags = 0x00000200 // Compressed (multi-algorithm)
	FlagEncrypted    BlockFlags = 0x00010000 // Encrypted
	FlagFixKey       BlockFlags = 0x00020000 // Key adjusted by block offset
	FlagPatchFile    BlockFlags = 0x00100000 // Patch file
	FlagSingleUnit   BlockFlags = 0x01000000 // Single unit (not split into sectors)
	FlagDeleteMarker BlockFlags = 0x02000000 // File is a deletion marker
	FlagSectorCRC    BlockFlags = 0x04000000 // Sector CRC values present
	FlagExists       BlockFlags = 0x80000000 // File exists
)

var flagNames = []struct {
	flag BlockFlags
	name string
}{
	{FlagExists, "EXISTS"},
	{FlagImplode, "IMPLODE"},
	{FlagCompress, "COMPRESS"},
	{FlagEncrypted, "ENCRYPTED"},
	{FlagFixKey, "FIX_KEY"},
	{FlagPatchFile, "PATCH_FILE"},
	{FlagSingleUnit, "SINGLE_UNIT"},
	{FlagDeleteMarker, "DELETE_MARKER"},
	{FlagSectorCRC, "SECTOR_CRC"},
}

// Has reports whether every bit of mask is set.
func (f BlockFlags) Has(mask BlockFlags) bool {
	return f&mask == mask
}

func (f BlockFlags) String() string {
	if f == 0 {
		return "0"
	}
	var parts []string
	rest := f
	for _, n := range flagNames {
		if f&n.flag != 0 {
			parts = append(parts, n.name)
			rest &^= n.flag
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%08X", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// SlotState classifies a hash table slot.
type SlotState int

const (
	SlotValid SlotState = iota
	SlotDeleted
	SlotEmpty
)

// HashTableEntry is one 16-byte slot of the hash table.
type HashTableEntry struct {
	NameHashA  uint32 // First hash of the file name
	NameHashB  uint32 // Second hash of the file name
	Locale     uint16 // Locale ID
	Platform   uint16 // Platform ID (0 = default)
	BlockIndex uint32 // Index into the block table
}

// State classifies the slot by its BlockIndex sentinel.
func (e HashTableEntry) State() SlotState {
	switch e.BlockIndex {
	case hashTableEmpty:
		return SlotEmpty
	case hashTableDeleted:
		return SlotDeleted
	default:
		return SlotValid
	}
}

// emptyHashEntry is the pattern written to unused slots.
var emptyHashEntry = HashTableEntry{
	NameHashA:  0xFFFFFFFF,
	NameHashB:  0xFFFFFFFF,
	Locale:     0xFFFF,
	Platform:   0xFFFF,
	BlockIndex: hashTableEmpty,
}

// BlockTableEntry is one 16-byte entry of the block table.
type BlockTableEntry struct {
	FilePos        uint32 // Offset of the file data relative to the header
	CompressedSize uint32 // Stored size
	FileSize       uint32 // Uncompressed file size
	Flags          BlockFlags
}

// Header is an MPQ header. The common v1 fields are always present; each
// later revision adds one optional group, present iff the declared header
// size covers it.
type Header struct {
	HeaderSize        uint32
	ArchiveSize       uint32
	FormatVersion     FormatVersion
	SectorSizeShift   uint16
	HashTablePos      uint32
	BlockTablePos     uint32
	HashTableEntries  uint32
	BlockTableEntries uint32

	V2 *HeaderV2
	V3 *HeaderV3
	V4 *HeaderV4
}

// HeaderV2 contains the fields added by format version 2 (12 bytes).
type HeaderV2 struct {
	HiBlockTablePos uint64
	HashTablePosHi  uint16
	BlockTablePosHi uint16
}

// HeaderV3 contains the fields added by format version 3 (24 bytes).
type HeaderV3 struct {
	ArchiveSize64 uint64
	BETTablePos   uint64
	HETTablePos   uint64
}

// HeaderV4 contains the fields added by format version 4 (140 bytes).
type HeaderV4 struct {
	HashTableCompressedSize  uint64
	BlockTableCompressedSize uint64
	HiBlockTableSize         uint64
	HETTableSize             uint64
	BETTableSize             uint64
	RawChunkSize             uint32
	MD5BlockTable            [16]byte
	MD5HashTable             [16]byte
	MD5HiBlockTable          [16]byte
	MD5BETTable              [16]byte
	MD5HETTable              [16]byte
	MD5Header                [16]byte
}

// SectorSize returns the sector length in bytes.
func (h *Header) SectorSize() uint32 {
	return 512 << h.SectorSizeShift
}

// HashTableOffset64 returns the full hash table offset relative to the header.
func (h *Header) HashTableOffset64() uint64 {
	if h.V2 != nil {
		return uint64(h.HashTablePos) | uint64(h.V2.HashTablePosHi)<<32
	}
	return uint64(h.HashTablePos)
}

// BlockTableOffset64 returns the full block table offset relative to the header.
func (h *Header) BlockTableOffset64() uint64 {
	if h.V2 != nil {
		return uint64(h.BlockTablePos) | uint64(h.V2.BlockTablePosHi)<<32
	}
	return uint64(h.BlockTablePos)
}

// MarshalBinary encodes the header. The version groups written are exactly
// those present, and their total must match HeaderSize.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, headerSizeV4)
	buf = binary.LittleEndian.AppendUint32(buf, mpqMagic)
	buf = binary.LittleEndian.AppendUint32(buf, h.HeaderSize)
	buf = binary.LittleEndian.AppendUint32(buf, h.ArchiveSize)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(h.FormatVersion))
	buf = binary.LittleEndian.AppendUint16(buf, h.SectorSizeShift)
	buf = binary.LittleEndian.AppendUint32(buf, h.HashTablePos)
	buf = binary.LittleEndian.AppendUint32(buf, h.BlockTablePos)
	buf = binary.LittleEndian.AppendUint32(buf, h.HashTableEntries)
	buf = binary.LittleEndian.AppendUint32(buf, h.BlockTableEntries)

	if h.V2 != nil {
		buf = binary.LittleEndian.AppendUint64(buf, h.V2.HiBlockTablePos)
		buf = binary.LittleEndian.AppendUint16(buf, h.V2.HashTablePosHi)
		buf = binary.LittleEndian.AppendUint16(buf, h.V2.BlockTablePosHi)
	}
	if h.V3 != nil {
		if h.V2 == nil {
			return nil, formatErrorf("header", "v3 fields without v2 fields")
		}
		buf = binary.LittleEndian.AppendUint64(buf, h.V3.ArchiveSize64)
		buf = binary.LittleEndian.AppendUint64(buf, h.V3.BETTablePos)
		buf = binary.LittleEndian.AppendUint64(buf, h.V3.HETTablePos)
	}
	if h.V4 != nil {
		if h.V3 == nil {
			return nil, formatErrorf("header", "v4 fields without v3 fields")
		}
		v4 := h.V4
		buf = binary.LittleEndian.AppendUint64(buf, v4.HashTableCompressedSize)
		buf = binary.LittleEndian.AppendUint64(buf, v4.BlockTableCompressedSize)
		buf = binary.LittleEndian.AppendUint64(buf, v4.HiBlockTableSize)
		buf = binary.LittleEndian.AppendUint64(buf, v4.HETTableSize)
		buf = binary.LittleEndian.AppendUint64(buf, v4.BETTableSize)
		buf = binary.LittleEndian.AppendUint32(buf, v4.RawChunkSize)
		buf = append(buf, v4.MD5BlockTable[:]...)
		buf = append(buf, v4.MD5HashTable[:]...)
		buf = append(buf, v4.MD5HiBlockTable[:]...)
		buf = append(buf, v4.MD5BETTable[:]...)
		buf = append(buf, v4.MD5HETTable[:]...)
		buf = append(buf, v4.MD5Header[:]...)
	}

	if uint32(len(buf)) != h.HeaderSize {
		return nil, formatErrorf("headerSize", "declared %d bytes, fields encode to %d", h.HeaderSize, len(buf))
	}
	return buf, nil
}

// parseHeader decodes a header from data, which starts at the signature.
// Each version group is decoded only when both the declared version and the
// declared header size call for it.
func parseHeader(data []byte) (*Header, error) {
	if len(data) < headerSizeV1 {
		return nil, formatErrorf("header", "truncated: %d bytes, need %d", len(data), headerSizeV1)
	}

	le := binary.LittleEndian
	if magic := le.Uint32(data[0:4]); magic != mpqMagic {
		return nil, formatErrorf("signature", "got 0x%08X, want 0x%08X", magic, mpqMagic)
	}

	h := &Header{
		HeaderSize:        le.Uint32(data[4:8]),
		ArchiveSize:       le.Uint32(data[8:12]),
		FormatVersion:     FormatVersion(le.Uint16(data[12:14])),
		SectorSizeShift:   le.Uint16(data[14:16]),
		HashTablePos:      le.Uint32(data[16:20]),
		BlockTablePos:     le.Uint32(data[20:24]),
		HashTableEntries:  le.Uint32(data[24:28]),
		BlockTableEntries: le.Uint32(data[28:32]),
	}

	if h.FormatVersion > FormatV4 {
		return nil, formatErrorf("formatVersion", "unsupported version %d", h.FormatVersion)
	}
	if h.SectorSizeShift > maxSectorSizeShift {
		return nil, formatErrorf("sectorSizeShift", "%d exceeds %d", h.SectorSizeShift, maxSectorSizeShift)
	}
	if need := h.FormatVersion.HeaderSize(); h.HeaderSize < need {
		return nil, formatErrorf("headerSize", "%d bytes is too small for %s (need %d)",
			h.HeaderSize, h.FormatVersion, need)
	}

	want := func(version FormatVersion) bool {
		return h.FormatVersion >= version && h.HeaderSize >= version.HeaderSize()
	}
	have := func(version FormatVersion) error {
		if uint32(len(data)) < version.HeaderSize() {
			return formatErrorf("header", "truncated: %d bytes, declared %d", len(data), h.HeaderSize)
		}
		return nil
	}

	if want(FormatV2) {
		if err := have(FormatV2); err != nil {
			return nil, err
		}
		h.V2 = &HeaderV2{
			HiBlockTablePos: le.Uint64(data[32:40]),
			HashTablePosHi:  le.Uint16(data[40:42]),
			BlockTablePosHi: le.Uint16(data[42:44]),
		}
	}
	if want(FormatV3) {
		if err := have(FormatV3); err != nil {
			return nil, err
		}
		h.V3 = &HeaderV3{
			ArchiveSize64: le.Uint64(data[44:52]),
			BETTablePos:   le.Uint64(data[52:60]),
			HETTablePos:   le.Uint64(data[60:68]),
		}
	}
	if want(FormatV4) {
		if err := have(FormatV4); err != nil {
			return nil, err
		}
		v4 := &HeaderV4{
			HashTableCompressedSize:  le.Uint64(data[68:76]),
			BlockTableCompressedSize: le.Uint64(data[76:84]),
			HiBlockTableSize:         le.Uint64(data[84:92]),
			HETTableSize:             le.Uint64(data[92:100]),
			BETTableSize:             le.Uint64(data[100:108]),
			RawChunkSize:             le.Uint32(data[108:112]),
		}
		copy(v4.MD5BlockTable[:], data[112:128])
		copy(v4.MD5HashTable[:], data[128:144])
		copy(v4.MD5HiBlockTable[:], data[144:160])
		copy(v4.MD5BETTable[:], data[160:176])
		copy(v4.MD5HETTable[:], data[176:192])
		copy(v4.MD5Header[:], data[192:208])
		h.V4 = v4
	}

	return h, nil
}

// marshalHashTable encodes entries as plaintext table bytes.
func marshalHashTable(entries []HashTableEntry) []byte {
	buf := make([]byte, len(entries)*hashEntrySize)
	for i, e := range entries {
		b := buf[i*hashEntrySize:]
		binary.LittleEndian.PutUint32(b[0:], e.NameHashA)
		binary.LittleEndian.PutUint32(b[4:], e.NameHashB)
		binary.LittleEndian.PutUint16(b[8:], e.Locale)
		binary.LittleEndian.PutUint16(b[10:], e.Platform)
		binary.LittleEndian.PutUint32(b[12:], e.BlockIndex)
	}
	return buf
}

// unmarshalHashTable decodes plaintext table bytes.
func unmarshalHashTable(data []byte) []HashTableEntry {
	entries := make([]HashTableEntry, len(data)/hashEntrySize)
	for i := range entries {
		b := data[i*hashEntrySize:]
		entries[i] = HashTableEntry{
			NameHashA:  binary.LittleEndian.Uint32(b[0:]),
			NameHashB:  binary.LittleEndian.Uint32(b[4:]),
			Locale:     binary.LittleEndian.Uint16(b[8:]),
			Platform:   binary.LittleEndian.Uint16(b[10:]),
			BlockIndex: binary.LittleEndian.Uint32(b[12:]),
		}
	}
	return entries
}

func marshalBlockTable(entries []BlockTableEntry) []byte {
	buf := make([]byte, len(entries)*blockEntrySize)
	for i, e := range entries {
		b := buf[i*blockEntrySize:]
		binary.LittleEndian.PutUint32(b[0:], e.FilePos)
		binary.LittleEndian.PutUint32(b[4:], e.CompressedSize)
		binary.LittleEndian.PutUint32(b[8:], e.FileSize)
		binary.LittleEndian.PutUint32(b[12:], uint32(e.Flags))
	}
	return buf
}

func unmarshalBlockTable(data []byte) []BlockTableEntry {
	entries := make([]BlockTableEntry, len(data)/blockEntrySize)
	for i := range entries {
		b := data[i*blockEntrySize:]
		entries[i] = BlockTableEntry{
			FilePos:        binary.LittleEndian.Uint32(b[0:]),
			CompressedSize: binary.LittleEndian.Uint32(b[4:]),
			FileSize:       binary.LittleEndian.Uint32(b[8:]),
			Flags:          BlockFlags(binary.LittleEndian.Uint32(b[12:])),
		}
	}
	return entries
}

// nextPowerOf2 returns the smallest power of 2 >= n.
func nextPowerOf2(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

func isPowerOf2(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}

// alignUp rounds n up to a multiple of regionAlign.
func alignUp(n uint64) uint64 {
	return (n + regionAlign - 1) &^ (regionAlign - 1)
}
