// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	mpq "github.com/suprsokr/mpqkit"
)

func runBuild(e *env, args []string) error {
	flags := newFlagSet(e, "build", "-o <archive> [flags] <manifest.yaml | directory>")
	output := flags.StringP("output", "o", "", "archive to write")
	version := flags.String("format", "1", "format version (1-4)")
	hashTableSize := flags.Uint32("hash-table-size", 0, "hash table slots, a power of two (default 16)")
	sectorShift := flags.Uint16("sector-shift", 0, "sector size is 512<<shift (default 3)")
	listfile := flags.Bool("listfile", true, "add a (listfile)")
	attributes := flags.StringSlice("attributes", nil, "add (attributes) with: crc32, filetime, md5, patch, all")
	compression := flags.String("compression", "zlib", "compression for directory builds: zlib, bzip2, sparse")
	encrypt := flags.Bool("encrypt", false, "encrypt every file of a directory build")
	sectorCRC := flags.Bool("sector-crc", false, "store sector CRCs for a directory build")
	userData := flags.String("user-data", "", "file stored in a user data preamble")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if *output == "" || flags.NArg() != 1 {
		return usageError(flags, "build needs -o and one input")
	}
	input := flags.Arg(0)

	info, err := os.Stat(input)
	if err != nil {
		return err
	}

	var (
		records []mpq.FileRecord
		opts    mpq.BuildOptions
	)
	if info.IsDir() {
		method, err := mpq.ParseCompressionType(*compression)
		if err != nil {
			return err
		}
		records, err = directoryRecords(input, method, *encrypt, *sectorCRC)
		if err != nil {
			return err
		}
		opts.Listfile = true
	} else {
		manifest, err := mpq.LoadManifest(input)
		if err != nil {
			return err
		}
		if opts, err = manifest.BuildOptions(); err != nil {
			return err
		}
		if records, err = manifest.Records(); err != nil {
			return err
		}
	}

	// Explicit flags override the manifest
	if flags.Changed("format") || info.IsDir() {
		if opts.Version, err = mpq.ParseFormatVersion(*version); err != nil {
			return err
		}
	}
	if flags.Changed("hash-table-size") {
		opts.HashTableSize = *hashTableSize
	}
	if flags.Changed("sector-shift") {
		opts.SectorSizeShift = *sectorShift
	}
	if flags.Changed("listfile") {
		opts.Listfile = *listfile
	}
	if flags.Changed("attributes") {
		m := mpq.Manifest{Attributes: *attributes}
		manifestOpts, err := m.BuildOptions()
		if err != nil {
			return err
		}
		opts.Attributes = manifestOpts.Attributes
	}
	if *userData != "" {
		data, err := os.ReadFile(*userData)
		if err != nil {
			return fmt.Errorf("read user data: %w", err)
		}
		opts.WithUserData = true
		opts.UserData = data
	}
	opts.Logger = e.logger

	img, err := mpq.Build(records, opts)
	if err != nil {
		return err
	}
	if err := img.WriteFile(*output); err != nil {
		return err
	}

	fmt.Fprintf(e.stdout, "wrote %s: %d files, %s, %s header, %d hash slots\n",
		*output, len(img.BlockTable), humanize.IBytes(uint64(len(img.Data))),
		img.Header.FormatVersion, img.Header.HashTableEntries)
	return nil
}

// directoryRecords loads every regular file under root, named by its
// relative path with backslash separators.
func directoryRecords(root string, method mpq.CompressionType, encrypt, sectorCRC bool) ([]mpq.FileRecord, error) {
	var records []mpq.FileRecord
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rec, err := mpq.ReadFileRecord(path, filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		rec.Compression = method
		rec.Encrypt = encrypt
		rec.FixKey = encrypt
		rec.SectorCRC = sectorCRC
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return records, nil
}

// archiveEntryPath maps an archive name to a path below dir, rejecting
// names that would escape it.
func archiveEntryPath(dir, name string) (string, error) {
	rel := filepath.FromSlash(strings.ReplaceAll(name, `\`, "/"))
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("refusing to extract %q outside %s", name, dir)
	}
	return filepath.Join(dir, rel), nil
}
