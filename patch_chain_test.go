// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

// writeChain writes one archive per record list and returns their paths
// in the same order.
func writeChain(t testing.TB, layers ...[]FileRecord) []string {
	t.Helper()
	dir := t.TempDir()

	var paths []string
	for i, records := range layers {
		path := filepath.Join(dir, "layer_"+string(rune('0'+i))+".mpq")
		if err := WriteArchive(path, records, BuildOptions{Listfile: true}); err != nil {
			t.Fatalf("WriteArchive layer %d: %v", i, err)
		}
		paths = append(paths, path)
	}
	return paths
}

func TestPatchChainPriority(t *testing.T) {
	paths := writeChain(t,
		[]FileRecord{
			{Name: `Data\Base.txt`, Data: []byte("base")},
			{Name: `Data\Shared.txt`, Data: []byte("base version")},
		},
		[]FileRecord{
			{Name: `Data\Shared.txt`, Data: []byte("patch version")},
			{Name: `Data\New.txt`, Data: []byte("new")},
		},
	)

	chain, err := OpenPatchChain(paths)
	if err != nil {
		t.Fatalf("OpenPatchChain: %v", err)
	}
	defer chain.Close()

	if chain.ArchiveCount() != 2 {
		t.Errorf("ArchiveCount = %d, want 2", chain.ArchiveCount())
	}

	tests := []struct {
		name string
		want string
	}{
		{`Data\Base.txt`, "base"},
		{`Data\Shared.txt`, "patch version"},
		{"data/shared.txt", "patch version"},
		{`Data\New.txt`, "new"},
	}
	for _, tt := range tests {
		got, err := chain.ReadFile(tt.name)
		if err != nil || string(got) != tt.want {
			t.Errorf("ReadFile(%s) = %q, %v, want %q", tt.name, got, err, tt.want)
		}
	}

	if _, err := chain.ReadFile(`Data\Missing.txt`); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("ReadFile(missing) = %v, want ErrFileNotFound", err)
	}
}

func TestPatchChainDeleteMarker(t *testing.T) {
	paths := writeChain(t,
		[]FileRecord{
			{Name: `Data\Old.txt`, Data: []byte("old")},
			{Name: `Data\Kept.txt`, Data: []byte("kept")},
		},
		[]FileRecord{
			{Name: `Data\Old.txt`, DeleteMarker: true},
		},
	)

	chain, err := OpenPatchChain(paths)
	if err != nil {
		t.Fatalf("OpenPatchChain: %v", err)
	}
	defer chain.Close()

	// Resolve twice to cover the cached path
	for range 2 {
		if chain.HasFile(`Data\Old.txt`) {
			t.Errorf("HasFile sees a file hidden by a delete marker")
		}
		if _, err := chain.ReadFile(`Data\Old.txt`); !errors.Is(err, ErrDeleted) {
			t.Errorf("ReadFile = %v, want ErrDeleted", err)
		}
	}

	dest := filepath.Join(t.TempDir(), "old.txt")
	if err := chain.ExtractFile(`Data\Old.txt`, dest); !errors.Is(err, ErrDeleted) {
		t.Errorf("ExtractFile = %v, want ErrDeleted", err)
	}

	files, err := chain.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if !slices.Equal(files, []string{`Data\Kept.txt`}) {
		t.Errorf("ListFiles = %q, want only Data\\Kept.txt", files)
	}
}

func TestPatchChainRestoreAfterDelete(t *testing.T) {
	paths := writeChain(t,
		[]FileRecord{{Name: "a.txt", Data: []byte("v1")}},
		[]FileRecord{{Name: "a.txt", DeleteMarker: true}},
		[]FileRecord{{Name: "a.txt", Data: []byte("v3")}},
	)

	chain, err := OpenPatchChain(paths)
	if err != nil {
		t.Fatalf("OpenPatchChain: %v", err)
	}
	defer chain.Close()

	got, err := chain.ReadFile("a.txt")
	if err != nil || string(got) != "v3" {
		t.Errorf("ReadFile = %q, %v, want v3", got, err)
	}
}

func TestPatchChainListFilesUnion(t *testing.T) {
	paths := writeChain(t,
		[]FileRecord{{Name: "a.txt"}, {Name: "b.txt"}},
		[]FileRecord{{Name: "B.TXT"}, {Name: "c.txt"}},
	)

	chain, err := OpenPatchChain(paths)
	if err != nil {
		t.Fatalf("OpenPatchChain: %v", err)
	}
	defer chain.Close()

	files, err := chain.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	want := []string{"B.TXT", "c.txt", "a.txt"}
	if !slices.Equal(files, want) {
		t.Errorf("ListFiles = %q, want %q", files, want)
	}
}

func TestPatchChainHasPatchFile(t *testing.T) {
	paths := writeChain(t,
		[]FileRecord{{Name: "model.m2", Data: []byte("model")}},
		[]FileRecord{{Name: "model.m2", Data: []byte("delta"), PatchFile: true}},
	)

	chain, err := OpenPatchChain(paths)
	if err != nil {
		t.Fatalf("OpenPatchChain: %v", err)
	}
	defer chain.Close()

	if !chain.HasPatchFile("model.m2") {
		t.Errorf("HasPatchFile = false for a patch entry")
	}
	if chain.HasPatchFile("other.m2") {
		t.Errorf("HasPatchFile = true for a missing name")
	}
}

func TestOpenPatchChainMissingArchive(t *testing.T) {
	paths := writeChain(t, []FileRecord{{Name: "a.txt"}})
	paths = append(paths, filepath.Join(t.TempDir(), "missing.mpq"))

	if _, err := OpenPatchChain(paths); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("OpenPatchChain = %v, want os.ErrNotExist", err)
	}
}
