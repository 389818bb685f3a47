// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildHelloMPQ(t *testing.T) {
	tests := []struct {
		name     string
		opts     BuildOptions
		wantAt   int64
		userData bool
	}{
		{name: "no preamble", opts: BuildOptions{}, wantAt: 0},
		{name: "user data", opts: BuildOptions{WithUserData: true, UserData: []byte("embedded")}, wantAt: 512, userData: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := []FileRecord{{Name: "test.txt", Data: []byte("Hello, MPQ!")}}
			img, err := Build(records, tt.opts)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}

			r := bytes.NewReader(img.Data)
			loc, err := LocateHeader(r, int64(len(img.Data)))
			if err != nil {
				t.Fatalf("LocateHeader: %v", err)
			}
			if loc.HeaderOffset != tt.wantAt {
				t.Errorf("HeaderOffset = %d, want %d", loc.HeaderOffset, tt.wantAt)
			}
			if (loc.UserData != nil) != tt.userData {
				t.Errorf("UserData = %+v, want present=%v", loc.UserData, tt.userData)
			}

			h, err := ReadHeader(r, loc.HeaderOffset)
			if err != nil {
				t.Fatalf("ReadHeader: %v", err)
			}

			stats, err := InspectHashTable(r, int64(len(img.Data)), loc.HeaderOffset, h)
			if err != nil {
				t.Fatalf("InspectHashTable: %v", err)
			}
			if stats.Valid != 1 || stats.Empty != stats.Size-1 || stats.Deleted != 0 {
				t.Errorf("stats = %+v, want 1 valid and %d empty", stats, stats.Size-1)
			}

			blocks, err := ReadBlockTable(r, int64(len(img.Data)), loc.HeaderOffset, h)
			if err != nil {
				t.Fatalf("ReadBlockTable: %v", err)
			}
			for _, e := range img.HashTable {
				if e.State() != SlotValid {
					continue
				}
				if blocks[e.BlockIndex].FileSize != 11 {
					t.Errorf("FileSize = %d, want 11", blocks[e.BlockIndex].FileSize)
				}
			}
		})
	}
}

func TestBuildUserDataLayout(t *testing.T) {
	userData := bytes.Repeat([]byte{0xAA}, 600)
	img, err := Build([]FileRecord{{Name: "a.txt", Data: []byte("a")}}, BuildOptions{WithUserData: true, UserData: userData})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if img.HeaderOffset != 1024 {
		t.Errorf("HeaderOffset = %d, want 1024", img.HeaderOffset)
	}
	ud, err := parseUserDataHeader(img.Data)
	if err != nil {
		t.Fatalf("parseUserDataHeader: %v", err)
	}
	if ud.HeaderOffset != 1024 || ud.UserDataSize != 1024 || ud.UserDataHeaderSize != userDataHeaderSize {
		t.Errorf("user data header = %+v", ud)
	}
	if !bytes.Equal(img.Data[userDataHeaderSize:userDataHeaderSize+600], userData) {
		t.Errorf("user data not copied after the preamble")
	}
	if magic := binary.LittleEndian.Uint32(img.Data[1024:]); magic != mpqMagic {
		t.Errorf("signature at header offset = 0x%08X", magic)
	}
}

func TestBuildGrowsHashTable(t *testing.T) {
	var records []FileRecord
	for i := 0; i < 20; i++ {
		records = append(records, FileRecord{Name: fmt.Sprintf(`Data\File%02d.txt`, i), Data: []byte{byte(i)}})
	}

	img, err := Build(records, BuildOptions{HashTableSize: 4})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if img.Header.HashTableEntries != 32 || len(img.HashTable) != 32 {
		t.Fatalf("hash table size = %d, want 32", img.Header.HashTableEntries)
	}

	seen := make(map[uint32]bool)
	for _, e := range img.HashTable {
		if e.State() != SlotValid {
			continue
		}
		if e.BlockIndex >= uint32(len(img.BlockTable)) {
			t.Fatalf("BlockIndex %d out of range", e.BlockIndex)
		}
		if seen[e.BlockIndex] {
			t.Errorf("block %d placed twice", e.BlockIndex)
		}
		seen[e.BlockIndex] = true
	}
	if len(seen) != len(records) {
		t.Errorf("%d blocks placed, want %d", len(seen), len(records))
	}
}

func TestBuildExactFit(t *testing.T) {
	var records []FileRecord
	for i := 0; i < 16; i++ {
		records = append(records, FileRecord{Name: fmt.Sprintf("f%d", i)})
	}
	img, err := Build(records, BuildOptions{HashTableSize: 16})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i, e := range img.HashTable {
		if e.State() != SlotValid {
			t.Errorf("slot %d is not used in a full table", i)
		}
	}
}

func TestPlaceEntriesCapacity(t *testing.T) {
	records := []FileRecord{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	_, err := placeEntries(records, 2, discardLogger())

	var capErr *CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("placeEntries error = %v, want *CapacityError", err)
	}
	if capErr.Entries != 3 || capErr.TableSize != 2 {
		t.Errorf("CapacityError = %+v", capErr)
	}
}

func TestPlaceEntriesLinearProbing(t *testing.T) {
	records := []FileRecord{{Name: "one"}, {Name: "two"}, {Name: "three"}, {Name: "four"}}
	table, err := placeEntries(records, 4, discardLogger())
	if err != nil {
		t.Fatalf("placeEntries: %v", err)
	}

	// Replay the probe sequence for each entry in insertion order
	occupied := make([]bool, 4)
	for i, rec := range records {
		slot := HashString(rec.Name, HashTableOffset) % 4
		for occupied[slot] {
			slot = (slot + 1) % 4
		}
		occupied[slot] = true
		if table[slot].BlockIndex != uint32(i) {
			t.Errorf("%s: slot %d holds block %d, want %d", rec.Name, slot, table[slot].BlockIndex, i)
		}
		if table[slot].NameHashA != HashString(rec.Name, HashNameA) || table[slot].NameHashB != HashString(rec.Name, HashNameB) {
			t.Errorf("%s: name hashes not recorded", rec.Name)
		}
	}
}

func TestBuildEmptySlotPattern(t *testing.T) {
	img, err := Build(nil, BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	raw := bytes.Clone(img.Data[img.Header.HashTablePos : img.Header.HashTablePos+16*16])
	DecryptBlock(raw, HashString("(hash table)", HashFileKey))
	for i, b := range raw {
		if b != 0xFF {
			t.Fatalf("decrypted empty table byte %d = 0x%02X, want 0xFF", i, b)
		}
	}
}

func TestBuildLayout(t *testing.T) {
	records := []FileRecord{
		{Name: "a.bin", Data: noiseData(1000, 1)},
		{Name: "b.bin", Data: noiseData(10, 2)},
		{Name: "c.bin", Data: noiseData(3000, 3), SingleUnit: true},
	}
	img, err := Build(records, BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if img.BlockTable[0].FilePos != dataStartOffset {
		t.Errorf("first FilePos = 0x%X, want 0x%X", img.BlockTable[0].FilePos, dataStartOffset)
	}
	for i, b := range img.BlockTable {
		if b.FilePos%regionAlign != 0 {
			t.Errorf("block %d FilePos 0x%X is not 512-aligned", i, b.FilePos)
		}
		if i > 0 {
			prev := img.BlockTable[i-1]
			if b.FilePos < prev.FilePos+storedSize(prev) {
				t.Errorf("block %d overlaps block %d", i, i-1)
			}
		}
	}

	h := img.Header
	last := img.BlockTable[len(img.BlockTable)-1]
	if uint64(h.HashTablePos) != alignUp(uint64(last.FilePos+storedSize(last))) {
		t.Errorf("HashTablePos = 0x%X", h.HashTablePos)
	}
	if h.BlockTablePos != h.HashTablePos+16*h.HashTableEntries {
		t.Errorf("BlockTablePos = 0x%X", h.BlockTablePos)
	}
	if h.ArchiveSize != uint32(len(img.Data)) || h.ArchiveSize != h.BlockTablePos+16*h.BlockTableEntries {
		t.Errorf("ArchiveSize = %d, image %d bytes", h.ArchiveSize, len(img.Data))
	}
}

func TestBuildHeaderVersions(t *testing.T) {
	for _, version := range []FormatVersion{FormatV1, FormatV2, FormatV3, FormatV4} {
		t.Run(version.String(), func(t *testing.T) {
			img, err := Build([]FileRecord{{Name: "test.txt", Data: []byte("test")}}, BuildOptions{Version: version})
			if err != nil {
				t.Fatalf("Build: %v", err)
			}

			size := binary.LittleEndian.Uint32(img.Data[4:8])
			if size != version.HeaderSize() {
				t.Errorf("header size = 0x%X, want 0x%X", size, version.HeaderSize())
			}
			if got := binary.LittleEndian.Uint16(img.Data[12:14]); FormatVersion(got) != version {
				t.Errorf("format version = %d, want %d", got, version)
			}

			h, err := parseHeader(img.Data)
			if err != nil {
				t.Fatalf("parseHeader: %v", err)
			}
			if (h.V2 != nil) != (version >= FormatV2) || (h.V3 != nil) != (version >= FormatV3) || (h.V4 != nil) != (version >= FormatV4) {
				t.Errorf("version groups v2=%v v3=%v v4=%v", h.V2 != nil, h.V3 != nil, h.V4 != nil)
			}
			if h.V3 != nil && h.V3.ArchiveSize64 != uint64(len(img.Data)) {
				t.Errorf("ArchiveSize64 = %d, want %d", h.V3.ArchiveSize64, len(img.Data))
			}
		})
	}
}

func TestBuildV4Digests(t *testing.T) {
	img, err := Build([]FileRecord{{Name: "test.txt", Data: []byte("test")}}, BuildOptions{Version: FormatV4})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	h := img.Header
	v4 := h.V4

	hashData := img.Data[h.HashTablePos : h.HashTablePos+16*h.HashTableEntries]
	blockData := img.Data[h.BlockTablePos : h.BlockTablePos+16*h.BlockTableEntries]
	if v4.MD5HashTable != md5.Sum(hashData) {
		t.Errorf("MD5HashTable does not cover the stored hash table")
	}
	if v4.MD5BlockTable != md5.Sum(blockData) {
		t.Errorf("MD5BlockTable does not cover the stored block table")
	}
	if v4.MD5Header != md5.Sum(img.Data[:md5HeaderSpan]) {
		t.Errorf("MD5Header does not cover the first 0xC0 header bytes")
	}
	if v4.RawChunkSize != defaultRawChunkSize {
		t.Errorf("RawChunkSize = 0x%X", v4.RawChunkSize)
	}
	if v4.HashTableCompressedSize != uint64(len(hashData)) || v4.BlockTableCompressedSize != uint64(len(blockData)) {
		t.Errorf("table sizes %d/%d", v4.HashTableCompressedSize, v4.BlockTableCompressedSize)
	}
}

func TestBuildSingleUnitCRCEndToEnd(t *testing.T) {
	data := []byte("Hello, MPQ!")
	img, err := Build([]FileRecord{{Name: "test.txt", Data: data, SingleUnit: true, SectorCRC: true}}, BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	b := img.BlockTable[0]
	if b.CompressedSize != uint32(len(data)) {
		t.Errorf("CompressedSize = %d, want %d", b.CompressedSize, len(data))
	}
	trailer := img.Data[b.FilePos+b.CompressedSize : b.FilePos+b.CompressedSize+4]
	if got := binary.LittleEndian.Uint32(trailer); got != crc32.ChecksumIEEE(data) {
		t.Errorf("trailing crc = 0x%08X, want 0x%08X", got, crc32.ChecksumIEEE(data))
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name    string
		records []FileRecord
		opts    BuildOptions
		wantErr error
	}{
		{"bad table size", nil, BuildOptions{HashTableSize: 12}, ErrInvalidHashTableSize},
		{"duplicate", []FileRecord{{Name: `Data\A.txt`}, {Name: "data/a.TXT"}}, BuildOptions{}, ErrDuplicateEntry},
		{"empty name", []FileRecord{{Name: ""}}, BuildOptions{}, ErrEmptyName},
		{"bad compression", []FileRecord{{Name: "a", Data: []byte("aaaa"), Compress: true, Compression: CompressionLZMA}}, BuildOptions{}, ErrUnsupportedCompression},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.records, tt.opts)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Build error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := Build(nil, BuildOptions{Version: 4}); err == nil {
		t.Errorf("Build accepted format version 4")
	}
}

func TestBuildLocales(t *testing.T) {
	records := []FileRecord{
		{Name: "text.txt", Data: []byte("neutral")},
		{Name: "text.txt", Data: []byte("german"), Locale: 0x407},
	}
	img, err := Build(records, BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(img.BlockTable) != 2 {
		t.Errorf("%d blocks, want 2", len(img.BlockTable))
	}
}

func TestBuildGeneratedFiles(t *testing.T) {
	records := []FileRecord{
		{Name: `Data\A.txt`, Data: []byte("a")},
		{Name: `Data\Gone.txt`, DeleteMarker: true},
	}
	img, err := Build(records, BuildOptions{Listfile: true, Attributes: AttrCRC32 | AttrMD5})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	wantNames := []string{`Data\A.txt`, `Data\Gone.txt`, listfileName, attributesName}
	if len(img.Names) != len(wantNames) {
		t.Fatalf("Names = %q, want %q", img.Names, wantNames)
	}
	for i, name := range wantNames {
		if img.Names[i] != name {
			t.Errorf("Names[%d] = %q, want %q", i, img.Names[i], name)
		}
	}

	archive, err := OpenReader(bytes.NewReader(img.Data), int64(len(img.Data)))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}

	listfile, err := archive.ReadFile(listfileName)
	if err != nil {
		t.Fatalf("read listfile: %v", err)
	}
	if string(listfile) != `Data\A.txt` {
		t.Errorf("listfile = %q", listfile)
	}

	attrs, err := archive.Attributes()
	if err != nil {
		t.Fatalf("Attributes: %v", err)
	}
	if len(attrs.Entries) != 4 {
		t.Fatalf("%d attribute entries, want 4", len(attrs.Entries))
	}
	if attrs.Entries[0].CRC32 != crc32.ChecksumIEEE([]byte("a")) || attrs.Entries[0].MD5 != md5.Sum([]byte("a")) {
		t.Errorf("attributes of Data\\A.txt = %+v", attrs.Entries[0])
	}
	if attrs.Entries[1] != (FileAttributes{}) || attrs.Entries[3] != (FileAttributes{}) {
		t.Errorf("delete marker or (attributes) has checksums")
	}
}

func TestBuildKeepsUserListfile(t *testing.T) {
	records := []FileRecord{
		{Name: "a.txt", Data: []byte("a")},
		{Name: "(listfile)", Data: []byte("custom")},
	}
	img, err := Build(records, BuildOptions{Listfile: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(img.BlockTable) != 2 {
		t.Errorf("%d blocks, want 2", len(img.BlockTable))
	}
}

func TestWriteArchiveAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.mpq")

	// A failing build leaves nothing behind
	err := WriteArchive(path, []FileRecord{{Name: "a"}, {Name: "A"}}, BuildOptions{})
	if !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("WriteArchive error = %v, want ErrDuplicateEntry", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("directory not empty after failed build: %v", entries)
	}

	// A failing publish removes the temp file
	blocker := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocker, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(blocker, "keep"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	if err := WriteArchive(blocker, []FileRecord{{Name: "a"}}, BuildOptions{}); err == nil {
		t.Fatalf("WriteArchive over a non-empty directory succeeded")
	}
	entries, _ = os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temp file left behind: %v", entries)
	}

	if err := WriteArchive(path, []FileRecord{{Name: "a", Data: []byte("x")}}, BuildOptions{}); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("archive not published: %v", err)
	}
}

func TestWriterLifecycle(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	if err := os.WriteFile(src, []byte("from disk"), 0644); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "sub", "w.mpq")
	w, err := Create(path, BuildOptions{Listfile: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.AddFile(src, "Data/Src.txt"); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := w.AddRecord(FileRecord{Name: "mem.txt", Data: []byte("from memory")}); err != nil {
		t.Fatalf("AddRecord: %v", err)
	}
	if !w.HasFile(`data\src.txt`) || w.HasFile("missing.txt") {
		t.Errorf("HasFile does not reflect queued records")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.AddRecord(FileRecord{Name: "late.txt"}); !errors.Is(err, ErrNotWritable) {
		t.Errorf("AddRecord after Close = %v, want ErrNotWritable", err)
	}

	archive, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer archive.Close()
	data, err := archive.ReadFile(`Data\Src.txt`)
	if err != nil || string(data) != "from disk" {
		t.Errorf("ReadFile = %q, %v", data, err)
	}

	aborted := filepath.Join(dir, "aborted.mpq")
	w, err = Create(aborted, BuildOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w.AddRecord(FileRecord{Name: "x"})
	w.Abort()
	if err := w.Close(); !errors.Is(err, ErrNotWritable) {
		t.Errorf("Close after Abort = %v, want ErrNotWritable", err)
	}
	if _, err := os.Stat(aborted); !os.IsNotExist(err) {
		t.Errorf("aborted archive exists: %v", err)
	}
}
