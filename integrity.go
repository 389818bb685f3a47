// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"crypto/md5"
	"errors"
	"fmt"
)

// TableDigestError reports a v4 table whose MD5 differs from the one
// stored in the header.
type TableDigestError struct {
	Table string
	Want  [16]byte
	Got   [16]byte
}

func (e *TableDigestError) Error() string {
	return fmt.Sprintf("%s: md5 mismatch: stored %x, computed %x", e.Table, e.Want, e.Got)
}

// VerifyTables checks the MD5 digests a v4 header keeps for itself and for
// the stored hash, block and hi-block tables. Archives before v4 carry no
// digests and always pass. Zero digests are treated as absent.
func (a *Archive) VerifyTables() error {
	v4 := a.header.V4
	if v4 == nil {
		return nil
	}
	base := a.location.HeaderOffset

	var errs []error
	check := func(table string, pos int64, length uint64, want [16]byte) {
		if want == ([16]byte{}) {
			return
		}
		data, err := readTableBytes(a.r, a.size, pos, uint32(length), 1, table)
		if err != nil {
			errs = append(errs, err)
			return
		}
		if got := md5.Sum(data); got != want {
			errs = append(errs, &TableDigestError{Table: table, Want: want, Got: got})
		}
	}

	check("header", base, md5HeaderSpan, v4.MD5Header)

	hashLen := v4.HashTableCompressedSize
	if hashLen == 0 {
		hashLen = uint64(a.header.HashTableEntries) * hashEntrySize
	}
	check("hash table", base+int64(a.header.HashTableOffset64()), hashLen, v4.MD5HashTable)

	blockLen := v4.BlockTableCompressedSize
	if blockLen == 0 {
		blockLen = uint64(a.header.BlockTableEntries) * blockEntrySize
	}
	check("block table", base+int64(a.header.BlockTableOffset64()), blockLen, v4.MD5BlockTable)

	if hi := a.header.V2.HiBlockTablePos; hi != 0 && v4.HiBlockTableSize != 0 {
		check("hi-block table", base+int64(hi), v4.HiBlockTableSize, v4.MD5HiBlockTable)
	}

	return errors.Join(errs...)
}
