// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	mpq "github.com/suprsokr/mpqkit"
)

func runInfo(e *env, args []string) error {
	flags := newFlagSet(e, "info", "<archive>")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return usageError(flags, "info needs one archive")
	}

	file, err := os.Open(flags.Arg(0))
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}
	size := stat.Size()

	loc, err := mpq.LocateHeader(file, size)
	if err != nil {
		return err
	}
	h, err := mpq.ReadHeader(file, loc.HeaderOffset)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "file size:\t%s\n", humanize.IBytes(uint64(size)))
	if loc.UserData != nil {
		fmt.Fprintf(w, "user data:\tat 0x%X, %d bytes, header offset 0x%X\n",
			loc.UserDataOffset, loc.UserData.UserDataSize, loc.UserData.HeaderOffset)
	}
	fmt.Fprintf(w, "header offset:\t0x%X\n", loc.HeaderOffset)
	fmt.Fprintf(w, "format:\t%s (%d-byte header)\n", h.FormatVersion, h.HeaderSize)
	fmt.Fprintf(w, "archive size:\t%s\n", humanize.IBytes(uint64(h.ArchiveSize)))
	fmt.Fprintf(w, "sector size:\t%s\n", humanize.IBytes(uint64(h.SectorSize())))
	fmt.Fprintf(w, "hash table:\t0x%X, %d slots\n", h.HashTableOffset64(), h.HashTableEntries)
	fmt.Fprintf(w, "block table:\t0x%X, %d entries\n", h.BlockTableOffset64(), h.BlockTableEntries)
	if h.V4 != nil {
		fmt.Fprintf(w, "raw chunk size:\t%s\n", humanize.IBytes(uint64(h.V4.RawChunkSize)))
		fmt.Fprintf(w, "header md5:\t%x\n", h.V4.MD5Header)
	}

	stats, err := mpq.InspectHashTable(file, size, loc.HeaderOffset, h)
	if err != nil {
		w.Flush()
		return err
	}
	fmt.Fprintf(w, "slots:\t%d valid, %d deleted, %d empty (load %.1f%%)\n",
		stats.Valid, stats.Deleted, stats.Empty, stats.LoadFactor*100)

	blocks, err := mpq.ReadBlockTable(file, size, loc.HeaderOffset, h)
	if err != nil {
		w.Flush()
		return err
	}
	var stored, raw uint64
	for _, b := range blocks {
		stored += uint64(b.CompressedSize)
		raw += uint64(b.FileSize)
	}
	fmt.Fprintf(w, "content:\t%s stored, %s raw\n", humanize.IBytes(stored), humanize.IBytes(raw))

	return w.Flush()
}

func runList(e *env, args []string) error {
	flags := newFlagSet(e, "list", "[-l] <archive>")
	long := flags.BoolP("long", "l", false, "show sizes and flags")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return usageError(flags, "list needs one archive")
	}

	archive, err := mpq.Open(flags.Arg(0))
	if err != nil {
		return err
	}
	defer archive.Close()

	files, err := archive.ListFiles()
	if err != nil {
		return err
	}

	if !*long {
		for _, name := range files {
			fmt.Fprintln(e.stdout, name)
		}
		return nil
	}

	w := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	for _, name := range files {
		entry, err := archive.Stat(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", humanize.IBytes(uint64(entry.FileSize)),
			humanize.IBytes(uint64(entry.CompressedSize)), entry.Flags, name)
	}
	return w.Flush()
}

func runVerify(e *env, args []string) error {
	flags := newFlagSet(e, "verify", "<archive>")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return usageError(flags, "verify needs one archive")
	}

	archive, err := mpq.Open(flags.Arg(0))
	if err != nil {
		return err
	}
	defer archive.Close()

	var failures []error
	if err := archive.VerifyTables(); err != nil {
		failures = append(failures, err)
	}

	files, err := archive.ListFiles()
	if errors.Is(err, mpq.ErrFileNotFound) {
		e.logger.Warn("archive has no listfile, only tables checked")
	} else if err != nil {
		return err
	}

	for _, name := range files {
		if err := archive.VerifyFile(name); err != nil {
			failures = append(failures, err)
			continue
		}
		e.logger.Debug("verified", "name", name)
	}

	for _, err := range failures {
		fmt.Fprintf(e.stdout, "FAIL %v\n", err)
	}
	fmt.Fprintf(e.stdout, "%d files checked, %d failures\n", len(files), len(failures))
	if len(failures) > 0 {
		return errors.New("verification failed")
	}
	return nil
}

func runHash(e *env, args []string) error {
	flags := newFlagSet(e, "hash", "<name>...")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		return usageError(flags, "hash needs at least one name")
	}

	w := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tOFFSET\tNAME_A\tNAME_B\tFILE_KEY")
	for _, name := range flags.Args() {
		fmt.Fprintf(w, "%s\t%08X\t%08X\t%08X\t%08X\n", name,
			mpq.HashString(name, mpq.HashTableOffset),
			mpq.HashString(name, mpq.HashNameA),
			mpq.HashString(name, mpq.HashNameB),
			mpq.HashString(name, mpq.HashFileKey))
	}
	return w.Flush()
}
