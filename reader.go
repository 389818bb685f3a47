// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultSearchWindow is how far into a file LocateHeader looks for a header.
const DefaultSearchWindow = 1 << 20

// Location is where LocateHeader found an archive.
type Location struct {
	// HeaderOffset is the absolute position of the MPQ header.
	HeaderOffset int64
	// UserData is set when the archive was found through a user data preamble.
	UserData *UserDataHeader
	// UserDataOffset is the absolute position of that preamble.
	UserDataOffset int64
}

// LocateHeader scans r at 512-byte strides for an MPQ header or user data
// preamble. A preamble redirects to the header it points at.
func LocateHeader(r io.ReaderAt, size int64) (*Location, error) {
	window := min(size, DefaultSearchWindow)
	var buf [userDataHeaderSize]byte

	for off := int64(0); off < window; off += regionAlign {
		n, err := r.ReadAt(buf[:], off)
		if n < 4 {
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("read at 0x%X: %w", off, err)
			}
			break
		}

		switch binary.LittleEndian.Uint32(buf[:4]) {
		case mpqMagic:
			return &Location{HeaderOffset: off}, nil
		case userDataMagic:
			ud, err := parseUserDataHeader(buf[:n])
			if err != nil {
				return nil, err
			}
			return &Location{
				HeaderOffset:   off + int64(ud.HeaderOffset),
				UserData:       ud,
				UserDataOffset: off,
			}, nil
		}
	}

	return nil, ErrHeaderNotFound
}

// ReadHeader parses the header at offset.
func ReadHeader(r io.ReaderAt, offset int64) (*Header, error) {
	buf := make([]byte, headerSizeV4)
	n, err := r.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read header: %w", err)
	}
	return parseHeader(buf[:n])
}

// HashTableStats summarizes the slots of a hash table.
type HashTableStats struct {
	Size       int
	Valid      int
	Deleted    int
	Empty      int
	LoadFactor float64
}

// InspectHashTable reads and classifies the hash table of the archive whose
// header h was read at headerOffset. size is the length of r.
func InspectHashTable(r io.ReaderAt, size, headerOffset int64, h *Header) (*HashTableStats, error) {
	table, err := readHashTable(r, size, headerOffset, h)
	if err != nil {
		return nil, err
	}

	stats := &HashTableStats{Size: len(table)}
	for _, e := range table {
		switch e.State() {
		case SlotValid:
			stats.Valid++
		case SlotDeleted:
			stats.Deleted++
		default:
			stats.Empty++
		}
	}
	if stats.Size > 0 {
		stats.LoadFactor = float64(stats.Valid) / float64(stats.Size)
	}
	return stats, nil
}

// ReadBlockTable reads and decrypts the block table.
func ReadBlockTable(r io.ReaderAt, size, headerOffset int64, h *Header) ([]BlockTableEntry, error) {
	data, err := readTableBytes(r, size, headerOffset+int64(h.BlockTableOffset64()), h.BlockTableEntries, blockEntrySize, "block table")
	if err != nil {
		return nil, err
	}
	DecryptBlock(data, HashString(blockTableKeyName, HashFileKey))
	return unmarshalBlockTable(data), nil
}

func readHashTable(r io.ReaderAt, size, headerOffset int64, h *Header) ([]HashTableEntry, error) {
	if !isPowerOf2(h.HashTableEntries) {
		return nil, formatErrorf("hashTableEntries", "%d is not a power of two", h.HashTableEntries)
	}
	data, err := readTableBytes(r, size, headerOffset+int64(h.HashTableOffset64()), h.HashTableEntries, hashEntrySize, "hash table")
	if err != nil {
		return nil, err
	}
	DecryptBlock(data, HashString(hashTableKeyName, HashFileKey))
	return unmarshalHashTable(data), nil
}

// readHiBlockTable reads the v2 table of high 16-bit file positions. It
// returns nil when the archive has none.
func readHiBlockTable(r io.ReaderAt, size, headerOffset int64, h *Header) ([]uint16, error) {
	if h.V2 == nil || h.V2.HiBlockTablePos == 0 {
		return nil, nil
	}
	data, err := readTableBytes(r, size, headerOffset+int64(h.V2.HiBlockTablePos), h.BlockTableEntries, 2, "hi-block table")
	if err != nil {
		return nil, err
	}
	hi := make([]uint16, h.BlockTableEntries)
	for i := range hi {
		hi[i] = binary.LittleEndian.Uint16(data[2*i:])
	}
	return hi, nil
}

// readTableBytes reads count entries of entrySize bytes at pos, failing
// with a *FormatError when the table does not fit in the file.
func readTableBytes(r io.ReaderAt, size, pos int64, count uint32, entrySize int, table string) ([]byte, error) {
	length := int64(count) * int64(entrySize)
	if pos < 0 || pos+length > size {
		return nil, formatErrorf(table, "%d entries at 0x%X exceed file size %d", count, pos, size)
	}
	data := make([]byte, length)
	if n, err := r.ReadAt(data, pos); n < len(data) {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	return data, nil
}
