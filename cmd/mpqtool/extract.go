// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"

	mpq "github.com/suprsokr/mpqkit"
)

// fileSource is what extract reads from: one archive or a patch chain.
type fileSource interface {
	ListFiles() ([]string, error)
	ExtractFile(name, destPath string) error
	Close() error
}

func runExtract(e *env, args []string) error {
	flags := newFlagSet(e, "extract", "[-d dir] [--patch archive]... <archive> [name]...")
	dir := flags.StringP("dir", "d", ".", "destination directory")
	patches := flags.StringArray("patch", nil, "higher-priority archive layered over the base (repeatable)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() < 1 {
		return usageError(flags, "extract needs an archive")
	}

	var src fileSource
	if len(*patches) > 0 {
		chain, err := mpq.OpenPatchChain(append([]string{flags.Arg(0)}, *patches...))
		if err != nil {
			return err
		}
		src = chain
	} else {
		archive, err := mpq.Open(flags.Arg(0))
		if err != nil {
			return err
		}
		src = archive
	}
	defer src.Close()

	names := flags.Args()[1:]
	if len(names) == 0 {
		var err error
		if names, err = src.ListFiles(); err != nil {
			return fmt.Errorf("no names given and %w", err)
		}
	}

	for _, name := range names {
		dest, err := archiveEntryPath(*dir, name)
		if err != nil {
			return err
		}
		if err := src.ExtractFile(name, dest); err != nil {
			return err
		}
		e.logger.Debug("extracted", "name", name, "path", dest)
	}

	fmt.Fprintf(e.stdout, "extracted %d files to %s\n", len(names), *dir)
	return nil
}
