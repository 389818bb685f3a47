// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"sync"
)

const (
	cryptTableSeed = 0x00100001
	cipherSeed     = 0xEEEEEEEE

	// keystreamBase is the first table slot used by the block cipher.
	keystreamBase = 0x400
)

// Pseudo-names whose file-key hashes encrypt the directory tables.
const (
	hashTableKeyName  = "(hash table)"
	blockTableKeyName = "(block table)"
)

var cryptTable = sync.OnceValue(func() *[0x500]uint32 {
	var table [0x500]uint32
	seed := uint32(cryptTableSeed)

	for index1 := 0; index1 < 0x100; index1++ {
		index2 := index1
		for i := 0; i < 5; i++ {
			seed = (seed*125 + 3) % 0x2AAAAB
			temp1 := (seed & 0xFFFF) << 0x10

			seed = (seed*125 + 3) % 0x2AAAAB
			temp2 := seed & 0xFFFF

			table[index2] = temp1 | temp2
			index2 += 0x100
		}
	}
	return &table
})

// CryptTable returns the shared 1280-word key-schedule table used by the
// name hash and the block cipher. The table is built on first use and must
// not be modified by callers.
func CryptTable() *[0x500]uint32 {
	return cryptTable()
}

// EncryptBlock encrypts data in place with key. Only whole little-endian
// words are processed; 1-3 trailing bytes are left as they are. A zero key
// or an empty buffer leaves data unchanged.
func EncryptBlock(data []byte, key uint32) {
	transformBlock(data, key, false)
}

// DecryptBlock reverses [EncryptBlock] for the same starting key.
func DecryptBlock(data []byte, key uint32) {
	transformBlock(data, key, true)
}

func transformBlock(data []byte, key uint32, decrypt bool) {
	if key == 0 || len(data) < 4 {
		return
	}

	table := cryptTable()
	seed := uint32(cipherSeed)

	for i := 0; i+4 <= len(data); i += 4 {
		seed += table[keystreamBase+(key&0xFF)]
		in := binary.LittleEndian.Uint32(data[i:])
		out := in ^ (key + seed)
		binary.LittleEndian.PutUint32(data[i:], out)

		// The seed always absorbs the plaintext word.
		plain := in
		if decrypt {
			plain = out
		}
		key = ((^key << 0x15) + 0x11111111) | (key >> 0x0B)
		seed = plain + seed + (seed << 5) + 3
	}
}

// FileKey computes the base encryption key of an archived file. With
// FlagFixKey the key also depends on the file's block-table position and
// its uncompressed size.
func FileKey(name string, filePos, fileSize uint32, flags BlockFlags) uint32 {
	key := HashString(name, HashFileKey)
	if flags.Has(FlagFixKey) {
		key = (key + filePos) ^ fileSize
	}
	return key
}

// sectorKey is the key of sector index i for a file with base key.
func sectorKey(base uint32, i int) uint32 {
	return base + uint32(i)
}

// offsetTableKey is the key of a file's sector offset table.
func offsetTableKey(base uint32) uint32 {
	return base - 1
}
