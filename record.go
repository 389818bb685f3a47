// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"fmt"
	"os"
	"time"
)

// FileRecord is one file to be stored by the encoder. Records are
// identified by Name together with Locale.
type FileRecord struct {
	Name string
	Data []byte

	Compress    bool
	Encrypt     bool
	FixKey      bool
	SingleUnit  bool
	SectorCRC   bool
	Compression CompressionType // zero selects zlib

	Locale   uint16
	Platform uint16

	// DeleteMarker stores a data-less entry that hides the name in
	// lower-priority archives of a patch chain.
	DeleteMarker bool

	// PatchFile marks the content as a patch for the same name in a
	// lower-priority archive.
	PatchFile bool

	// ModTime is recorded in (attributes) when FILETIME is enabled.
	ModTime time.Time
}

// ReadFileRecord loads srcPath from disk as a record named name, compressed
// with zlib in sectors.
func ReadFileRecord(srcPath, name string) (FileRecord, error) {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return FileRecord{}, fmt.Errorf("read file %s: %w", srcPath, err)
	}
	rec := FileRecord{
		Name:     NormalizePath(name),
		Data:     data,
		Compress: true,
	}
	if info, err := os.Stat(srcPath); err == nil {
		rec.ModTime = info.ModTime()
	}
	return rec, nil
}

// identity is the name/locale key that must be unique within one archive.
type identity struct {
	name   string
	locale uint16
}

func (r FileRecord) identity() identity {
	return identity{name: entryKey(r.Name), locale: r.Locale}
}
