// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"fmt"
	"strings"
)

// HashType selects which of the four independent name hashes to compute.
type HashType uint32

const (
	// HashTableOffset picks the preferred hash table slot.
	HashTableOffset HashType = 0
	// HashNameA is the first identity check stored in a hash table entry.
	HashNameA HashType = 1
	// HashNameB is the second identity check stored in a hash table entry.
	HashNameB HashType = 2
	// HashFileKey is the base key for file and table encryption.
	HashFileKey HashType = 3
)

func (t HashType) String() string {
	switch t {
	case HashTableOffset:
		return "table-offset"
	case HashNameA:
		return "name-a"
	case HashNameB:
		return "name-b"
	case HashFileKey:
		return "file-key"
	default:
		return fmt.Sprintf("HashType(%d)", uint32(t))
	}
}

// HashString computes the MPQ hash of name. The hash is case-insensitive
// for ASCII letters and treats '/' and '\' as the same separator.
func HashString(name string, hashType HashType) uint32 {
	table := cryptTable()
	seed1 := uint32(0x7FED7FED)
	seed2 := uint32(0xEEEEEEEE)

	for i := 0; i < len(name); i++ {
		ch := uint32(name[i])
		if ch >= 'a' && ch <= 'z' {
			ch -= 0x20
		}
		if ch == '/' {
			ch = '\\'
		}

		seed1 = table[uint32(hashType)*0x100+ch] ^ (seed1 + seed2)
		seed2 = ch + seed1 + seed2 + (seed2 << 5) + 3
	}

	return seed1
}

// NormalizePath converts an archive path to the separator the format stores
// in its listfile.
func NormalizePath(name string) string {
	return strings.ReplaceAll(name, "/", "\\")
}

// entryKey folds a name the same way HashString does, so two names that
// hash identically map to the same key.
func entryKey(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 0x20
		case r == '/':
			return '\\'
		}
		return r
	}, name)
}
