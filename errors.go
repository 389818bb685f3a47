// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"errors"
	"fmt"
)

// Sentinel errors for archive operations. Use errors.Is in callers.
var (
	// ErrInvalidFormat is wrapped by every *FormatError.
	ErrInvalidFormat = errors.New("invalid MPQ format")
	// ErrHeaderNotFound means no header signature was found in the search window.
	ErrHeaderNotFound = errors.New("MPQ header not found")
	// ErrFileNotFound means the name is not present in the hash table.
	ErrFileNotFound = errors.New("file not found")
	// ErrDeleted means the highest-priority entry for a name is a delete marker.
	ErrDeleted = errors.New("file marked for deletion")
	// ErrEmptyName means a record has no name.
	ErrEmptyName = errors.New("empty file name")
	// ErrDuplicateEntry means two records share a name and locale.
	ErrDuplicateEntry = errors.New("duplicate entry")
	// ErrInvalidHashTableSize means the configured hash table length is not a power of two.
	ErrInvalidHashTableSize = errors.New("hash table size must be a power of two")
	// ErrUnsupportedCompression means a compression type byte has no codec.
	ErrUnsupportedCompression = errors.New("unsupported compression")
	// ErrSizeOverflow means an offset or size does not fit the 32-bit tables.
	ErrSizeOverflow = errors.New("size exceeds 32-bit archive limit")
	// ErrNotWritable means the writer was already closed or aborted.
	ErrNotWritable = errors.New("archive not open for writing")
)

// FormatError reports a structurally invalid header or table.
type FormatError struct {
	Field  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid MPQ format: %s: %s", e.Field, e.Reason)
}

func (e *FormatError) Unwrap() error { return ErrInvalidFormat }

func formatErrorf(field, format string, args ...any) error {
	return &FormatError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// CapacityError reports that linear probing found no free hash table slot.
type CapacityError struct {
	Entries   int
	TableSize uint32
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("hash table full: cannot place %d entries in %d slots", e.Entries, e.TableSize)
}

// IntegrityError reports a sector whose CRC32 does not match the stored value.
// Sector is -1 for single-unit files.
type IntegrityError struct {
	Name   string
	Sector int
	Want   uint32
	Got    uint32
}

func (e *IntegrityError) Error() string {
	if e.Sector < 0 {
		return fmt.Sprintf("%s: crc mismatch: stored 0x%08X, computed 0x%08X", e.Name, e.Want, e.Got)
	}
	return fmt.Sprintf("%s: sector %d: crc mismatch: stored 0x%08X, computed 0x%08X",
		e.Name, e.Sector, e.Want, e.Got)
}
