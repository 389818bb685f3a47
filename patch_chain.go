// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"errors"
	"fmt"
)

// PatchChain represents a prioritized list of MPQ archives.
type PatchChain struct {
	archives []*Archive
	fileMap  map[string]int // entryKey -> archive index, -1 when deleted
}

// OpenPatchChain opens multiple MPQ archives in order of increasing priority.
// The last archive in the list has the highest priority.
func OpenPatchChain(paths []string) (*PatchChain, error) {
	archives := make([]*Archive, 0, len(paths))

	for _, path := range paths {
		archive, err := Open(path)
		if err != nil {
			for _, opened := range archives {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("open archive %s: %w", path, err)
		}
		archives = append(archives, archive)
	}

	return &PatchChain{
		archives: archives,
		fileMap:  make(map[string]int),
	}, nil
}

// Close closes all archives in the patch chain.
func (p *PatchChain) Close() error {
	var errs []error
	for _, archive := range p.archives {
		if err := archive.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ArchiveCount returns the number of archives in the chain.
func (p *PatchChain) ArchiveCount() int {
	return len(p.archives)
}

// resolve returns the index of the archive that provides name. A delete
// marker in a higher-priority archive hides every lower copy.
func (p *PatchChain) resolve(name string) (int, error) {
	key := entryKey(name)
	if idx, ok := p.fileMap[key]; ok {
		if idx < 0 {
			return 0, fmt.Errorf("%w: %s", ErrDeleted, name)
		}
		return idx, nil
	}

	for i := len(p.archives) - 1; i >= 0; i-- {
		_, err := p.archives[i].lookup(name, 0)
		switch {
		case err == nil:
			p.fileMap[key] = i
			return i, nil
		case errors.Is(err, ErrDeleted):
			p.fileMap[key] = -1
			return 0, err
		case !errors.Is(err, ErrFileNotFound):
			return 0, err
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrFileNotFound, name)
}

// HasFile returns true if any archive contains the specified file.
// Respects deletion markers in higher-priority archives.
func (p *PatchChain) HasFile(name string) bool {
	_, err := p.resolve(name)
	return err == nil
}

// ReadFile returns the highest-priority version of a file.
func (p *PatchChain) ReadFile(name string) ([]byte, error) {
	idx, err := p.resolve(name)
	if err != nil {
		return nil, err
	}
	return p.archives[idx].ReadFile(name)
}

// ExtractFile extracts the highest-priority version of a file.
// Respects deletion markers in patch archives.
func (p *PatchChain) ExtractFile(name, destPath string) error {
	idx, err := p.resolve(name)
	if err != nil {
		return err
	}
	return p.archives[idx].ExtractFile(name, destPath)
}

// ListFiles returns the union of listfiles across the chain, without names
// the chain resolves to a delete marker. Archives without a listfile are
// skipped.
func (p *PatchChain) ListFiles() ([]string, error) {
	seen := make(map[string]struct{})
	var result []string

	for i := len(p.archives) - 1; i >= 0; i-- {
		data, err := p.archives[i].ReadFile(listfileName)
		if errors.Is(err, ErrFileNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read listfile: %w", err)
		}

		for _, name := range ParseListfile(data) {
			key := entryKey(name)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			if p.HasFile(name) {
				result = append(result, name)
			}
		}
	}
	return result, nil
}

// HasPatchFile checks if a file is marked as a patch file in any archive.
func (p *PatchChain) HasPatchFile(name string) bool {
	// Patch files can exist in multiple archives, not just the highest priority one
	for i := len(p.archives) - 1; i >= 0; i-- {
		archive := p.archives[i]
		idx, err := archive.find(name, 0)
		if err == nil && archive.blockTable[idx].Flags.Has(FlagPatchFile) {
			return true
		}
	}
	return false
}
