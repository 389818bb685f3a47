// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
)

// Archive is an MPQ archive opened for reading.
type Archive struct {
	r        io.ReaderAt
	closer   io.Closer
	size     int64
	location *Location
	header   *Header

	hashTable    []HashTableEntry
	blockTable   []BlockTableEntry
	hiBlockTable []uint16
}

// Open opens an existing MPQ archive for reading. The header may sit behind
// other data; see LocateHeader.
func Open(path string) (*Archive, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	a, err := OpenReader(file, info.Size())
	if err != nil {
		file.Close()
		return nil, err
	}
	a.closer = file
	return a, nil
}

// OpenReader reads the archive held in the first size bytes of r.
func OpenReader(r io.ReaderAt, size int64) (*Archive, error) {
	loc, err := LocateHeader(r, size)
	if err != nil {
		return nil, err
	}

	header, err := ReadHeader(r, loc.HeaderOffset)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	hashTable, err := readHashTable(r, size, loc.HeaderOffset, header)
	if err != nil {
		return nil, err
	}

	blockTable, err := ReadBlockTable(r, size, loc.HeaderOffset, header)
	if err != nil {
		return nil, err
	}

	// Read extended block table if V2
	hiBlockTable, err := readHiBlockTable(r, size, loc.HeaderOffset, header)
	if err != nil {
		return nil, err
	}

	return &Archive{
		r:            r,
		size:         size,
		location:     loc,
		header:       header,
		hashTable:    hashTable,
		blockTable:   blockTable,
		hiBlockTable: hiBlockTable,
	}, nil
}

// Close closes the underlying file when the archive was opened by path.
func (a *Archive) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

// Header returns the parsed archive header.
func (a *Archive) Header() *Header { return a.header }

// Location returns where the header was found.
func (a *Archive) Location() *Location { return a.location }

// HashTable returns the decrypted hash table.
func (a *Archive) HashTable() []HashTableEntry { return a.hashTable }

// BlockTable returns the decrypted block table.
func (a *Archive) BlockTable() []BlockTableEntry { return a.blockTable }

// HasFile reports whether name resolves to a live file.
func (a *Archive) HasFile(name string) bool {
	return a.HasFileLocale(name, 0)
}

// HasFileLocale reports whether name resolves to a live file for locale,
// falling back to the neutral locale.
func (a *Archive) HasFileLocale(name string, locale uint16) bool {
	_, err := a.lookup(name, locale)
	return err == nil
}

// Stat returns the block table entry name resolves to.
func (a *Archive) Stat(name string) (BlockTableEntry, error) {
	idx, err := a.lookup(name, 0)
	if err != nil {
		return BlockTableEntry{}, err
	}
	return a.blockTable[idx], nil
}

// ReadFile returns the content of name. When stored CRCs do not match, the
// content is returned together with the *IntegrityError values.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	return a.ReadFileLocale(name, 0)
}

// ReadFileLocale is ReadFile for a specific locale.
func (a *Archive) ReadFileLocale(name string, locale uint16) ([]byte, error) {
	idx, err := a.lookup(name, locale)
	if err != nil {
		return nil, err
	}
	return a.readBlock(NormalizePath(name), idx)
}

// ExtractFile writes the content of name to destPath. Nothing is written
// when the content fails verification.
func (a *Archive) ExtractFile(name, destPath string) error {
	data, err := a.ReadFile(name)
	if err != nil {
		return err
	}

	// Ensure destination directory exists
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	if err := os.WriteFile(destPath, data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}

// VerifyFile decodes name and checks its sector CRCs and, when the archive
// has an (attributes) file with CRC32 values, the whole-file CRC32.
func (a *Archive) VerifyFile(name string) error {
	idx, err := a.lookup(name, 0)
	if err != nil {
		return err
	}
	data, err := a.readBlock(NormalizePath(name), idx)
	if err != nil {
		return err
	}
	if entryKey(name) == entryKey(attributesName) {
		return nil
	}

	attrs, err := a.Attributes()
	if errors.Is(err, ErrFileNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read attributes: %w", err)
	}
	if attrs.Flags&AttrCRC32 == 0 {
		return nil
	}

	want := attrs.Entries[idx].CRC32
	if got := crc32.ChecksumIEEE(data); got != want {
		return &IntegrityError{Name: NormalizePath(name), Sector: -1, Want: want, Got: got}
	}
	return nil
}

// ListFiles returns the names in the archive's (listfile) that resolve to
// live files.
func (a *Archive) ListFiles() ([]string, error) {
	data, err := a.ReadFile(listfileName)
	if err != nil {
		return nil, fmt.Errorf("read listfile: %w", err)
	}

	var files []string
	for _, name := range ParseListfile(data) {
		if a.HasFile(name) {
			files = append(files, name)
		}
	}
	return files, nil
}

// Attributes parses the (attributes) file.
func (a *Archive) Attributes() (*Attributes, error) {
	data, err := a.ReadFile(attributesName)
	if err != nil {
		return nil, err
	}
	return ParseAttributes(data, len(a.blockTable))
}

// find resolves name to a block index, delete markers included. An exact
// locale match wins over a neutral one; a neutral request accepts any
// locale when no neutral entry exists.
func (a *Archive) find(name string, locale uint16) (int, error) {
	size := uint32(len(a.hashTable))
	if size == 0 {
		return 0, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}

	hashA := HashString(name, HashNameA)
	hashB := HashString(name, HashNameB)
	start := HashString(name, HashTableOffset) % size

	exact, neutral, other := -1, -1, -1
	for i := uint32(0); i < size; i++ {
		entry := a.hashTable[(start+i)%size]

		state := entry.State()
		if state == SlotEmpty {
			break
		}
		if state == SlotDeleted || entry.NameHashA != hashA || entry.NameHashB != hashB {
			continue
		}
		if entry.BlockIndex >= uint32(len(a.blockTable)) {
			continue
		}

		idx := int(entry.BlockIndex)
		switch {
		case entry.Locale == locale && exact < 0:
			exact = idx
		case entry.Locale == 0 && neutral < 0:
			neutral = idx
		case other < 0:
			other = idx
		}
	}

	idx := exact
	if idx < 0 {
		idx = neutral
	}
	if idx < 0 && locale == 0 {
		idx = other
	}
	if idx < 0 {
		return 0, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return idx, nil
}

// lookup is find restricted to live files.
func (a *Archive) lookup(name string, locale uint16) (int, error) {
	idx, err := a.find(name, locale)
	if err != nil {
		return 0, err
	}

	flags := a.blockTable[idx].Flags
	if flags.Has(FlagDeleteMarker) {
		return 0, fmt.Errorf("%w: %s", ErrDeleted, name)
	}
	if !flags.Has(FlagExists) {
		return 0, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return idx, nil
}

// filePos64 returns the absolute position of block idx in the file.
func (a *Archive) filePos64(idx int) int64 {
	pos := uint64(a.blockTable[idx].FilePos)
	if a.hiBlockTable != nil {
		pos |= uint64(a.hiBlockTable[idx]) << 32
	}
	return a.location.HeaderOffset + int64(pos)
}

func (a *Archive) readBlock(name string, idx int) ([]byte, error) {
	entry := a.blockTable[idx]
	pos := a.filePos64(idx)
	n := int64(storedSize(entry))
	if pos+n > a.size {
		return nil, formatErrorf("block", "%s: %d bytes at 0x%X exceed file size %d", name, n, pos, a.size)
	}

	stored := make([]byte, n)
	if read, err := a.r.ReadAt(stored, pos); int64(read) < n {
		return nil, fmt.Errorf("read file data: %w", err)
	}

	return DecodeFile(stored, name, entry, a.header.SectorSizeShift)
}
