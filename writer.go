// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"crypto/md5"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
)

// BuildOptions configures the archive encoder.
type BuildOptions struct {
	// Version selects the header revision.
	Version FormatVersion

	// HashTableSize is the requested hash table length and must be a power
	// of two. Zero selects 16. The table grows to the next power of two
	// when it is smaller than the number of entries.
	HashTableSize uint32

	// SectorSizeShift sets the sector size to 512<<shift. Zero selects 3.
	SectorSizeShift uint16

	// WithUserData prefixes the archive with a "MPQ\x1B" preamble holding
	// UserData. The header then starts at the next 512-byte boundary.
	WithUserData bool
	UserData     []byte

	// Listfile adds a generated (listfile) unless a record already has that name.
	Listfile bool

	// Attributes adds a generated (attributes) with the selected arrays.
	Attributes AttributeFlags

	Logger *slog.Logger
}

// applyDefaults fills zero-valued options with defaults.
func (opts *BuildOptions) applyDefaults() {
	if opts.HashTableSize == 0 {
		opts.HashTableSize = defaultHashTableSize
	}
	if opts.SectorSizeShift == 0 {
		opts.SectorSizeShift = defaultSectorSizeShift
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

func (opts *BuildOptions) validate() error {
	if opts.Version > FormatV4 {
		return fmt.Errorf("unsupported format version: %d", opts.Version)
	}
	if !isPowerOf2(opts.HashTableSize) {
		return fmt.Errorf("%w: %d", ErrInvalidHashTableSize, opts.HashTableSize)
	}
	if opts.SectorSizeShift > maxSectorSizeShift {
		return fmt.Errorf("sector size shift %d exceeds %d", opts.SectorSizeShift, maxSectorSizeShift)
	}
	return nil
}

// Image is a complete archive produced by Build.
type Image struct {
	// Data is the archive, including any user data preamble.
	Data []byte
	// HeaderOffset is the position of the MPQ header within Data. All
	// table and file positions are relative to it.
	HeaderOffset uint32
	Header       *Header
	UserData     *UserDataHeader
	HashTable    []HashTableEntry
	BlockTable   []BlockTableEntry
	// Names holds the archived name of every block table entry.
	Names []string
}

// Build lays out records, in order, into a complete archive image.
func Build(records []FileRecord, opts BuildOptions) (*Image, error) {
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger

	entries, attrIndex, err := collectEntries(records, opts)
	if err != nil {
		return nil, err
	}

	tableSize := opts.HashTableSize
	if uint64(len(entries)) > uint64(tableSize) {
		if uint64(len(entries)) > 1<<31 {
			return nil, &CapacityError{Entries: len(entries), TableSize: tableSize}
		}
		tableSize = nextPowerOf2(uint32(len(entries)))
		logger.Warn("hash table grown to fit entries",
			"configured", opts.HashTableSize, "size", tableSize, "entries", len(entries))
	}

	img := &Image{Names: make([]string, len(entries))}

	var headerOffset uint64
	if opts.WithUserData {
		headerOffset = alignUp(uint64(userDataHeaderSize + len(opts.UserData)))
		img.UserData = &UserDataHeader{
			UserDataSize:       uint32(headerOffset),
			HeaderOffset:       uint32(headerOffset),
			UserDataHeaderSize: userDataHeaderSize,
		}
	}

	var attrs *attributesWriter
	if attrIndex >= 0 {
		attrs = newAttributesWriter(len(entries), opts.Attributes)
	}

	// Write file data and build block table
	blocks := make([]BlockTableEntry, len(entries))
	regions := make([][]byte, len(entries))
	pos := uint64(dataStartOffset)

	for i := range entries {
		rec := entries[i]
		if i == attrIndex {
			attrs.setEntry(i, nil, rec.ModTime, false)
			rec.Data = attrs.build()
		}
		if pos > math.MaxUint32 {
			return nil, fmt.Errorf("place %s: %w", rec.Name, ErrSizeOverflow)
		}

		enc, err := EncodeFile(rec, uint32(pos), opts.SectorSizeShift)
		if err != nil {
			return nil, fmt.Errorf("encode file: %w", err)
		}

		blocks[i] = BlockTableEntry{
			FilePos:        uint32(pos),
			CompressedSize: enc.CompressedSize,
			FileSize:       uint32(len(rec.Data)),
			Flags:          enc.Flags,
		}
		regions[i] = enc.Data
		img.Names[i] = rec.Name

		if attrs != nil && i != attrIndex && !rec.DeleteMarker {
			data := rec.Data
			if data == nil {
				data = []byte{}
			}
			attrs.setEntry(i, data, rec.ModTime, rec.PatchFile)
		}

		logger.Debug("encoded file", "name", rec.Name, "pos", pos,
			"size", len(rec.Data), "stored", len(enc.Data), "flags", enc.Flags)
		pos = alignUp(pos + uint64(len(enc.Data)))
	}

	hashTable, err := placeEntries(entries, tableSize, logger)
	if err != nil {
		return nil, err
	}

	hashData := marshalHashTable(hashTable)
	EncryptBlock(hashData, HashString(hashTableKeyName, HashFileKey))
	blockData := marshalBlockTable(blocks)
	EncryptBlock(blockData, HashString(blockTableKeyName, HashFileKey))

	hashTablePos := pos
	blockTablePos := hashTablePos + uint64(len(hashData))
	archiveSize := blockTablePos + uint64(len(blockData))
	if headerOffset+archiveSize > math.MaxUint32 {
		return nil, fmt.Errorf("archive of %d bytes: %w", headerOffset+archiveSize, ErrSizeOverflow)
	}

	header := &Header{
		HeaderSize:        opts.Version.HeaderSize(),
		ArchiveSize:       uint32(archiveSize),
		FormatVersion:     opts.Version,
		SectorSizeShift:   opts.SectorSizeShift,
		HashTablePos:      uint32(hashTablePos),
		BlockTablePos:     uint32(blockTablePos),
		HashTableEntries:  tableSize,
		BlockTableEntries: uint32(len(blocks)),
	}
	if opts.Version >= FormatV2 {
		header.V2 = &HeaderV2{}
	}
	if opts.Version >= FormatV3 {
		header.V3 = &HeaderV3{ArchiveSize64: archiveSize}
	}
	if opts.Version >= FormatV4 {
		header.V4 = &HeaderV4{
			HashTableCompressedSize:  uint64(len(hashData)),
			BlockTableCompressedSize: uint64(len(blockData)),
			RawChunkSize:             defaultRawChunkSize,
			MD5BlockTable:            md5.Sum(blockData),
			MD5HashTable:             md5.Sum(hashData),
		}
	}
	headerData, err := marshalHeaderWithDigest(header)
	if err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	out := make([]byte, headerOffset+archiveSize)
	if img.UserData != nil {
		copy(out, img.UserData.marshal())
		copy(out[userDataHeaderSize:], opts.UserData)
	}
	base := out[headerOffset:]
	copy(base, headerData)
	for i, region := range regions {
		copy(base[blocks[i].FilePos:], region)
	}
	copy(base[hashTablePos:], hashData)
	copy(base[blockTablePos:], blockData)

	img.Data = out
	img.HeaderOffset = uint32(headerOffset)
	img.Header = header
	img.HashTable = hashTable
	img.BlockTable = blocks

	logger.Debug("archive built", "version", opts.Version, "files", len(blocks),
		"hash_table_size", tableSize, "archive_size", archiveSize)
	return img, nil
}

// marshalHeaderWithDigest encodes h, first filling in the v4 header MD5.
func marshalHeaderWithDigest(h *Header) ([]byte, error) {
	data, err := h.MarshalBinary()
	if err != nil || h.V4 == nil {
		return data, err
	}
	h.V4.MD5Header = md5.Sum(data[:md5HeaderSpan])
	return h.MarshalBinary()
}

// collectEntries validates records and appends the generated special
// files. attrIndex is the position of a generated (attributes), or -1.
func collectEntries(records []FileRecord, opts BuildOptions) (entries []FileRecord, attrIndex int, err error) {
	seen := make(map[identity]struct{}, len(records))
	names := make(map[string]struct{}, len(records))
	var listed []string

	for _, rec := range records {
		if rec.Name == "" {
			return nil, -1, ErrEmptyName
		}
		id := rec.identity()
		if _, ok := seen[id]; ok {
			return nil, -1, fmt.Errorf("%w: %s (locale 0x%04X)", ErrDuplicateEntry, rec.Name, rec.Locale)
		}
		seen[id] = struct{}{}

		if _, ok := names[id.name]; !ok && !rec.DeleteMarker {
			listed = append(listed, rec.Name)
		}
		names[id.name] = struct{}{}
	}

	entries = append(make([]FileRecord, 0, len(records)+2), records...)
	attrIndex = -1

	if _, ok := names[entryKey(listfileName)]; opts.Listfile && !ok {
		entries = append(entries, FileRecord{
			Name:     listfileName,
			Data:     buildListfile(listed),
			Compress: true,
		})
	}
	if _, ok := names[entryKey(attributesName)]; opts.Attributes != 0 && !ok {
		attrIndex = len(entries)
		entries = append(entries, FileRecord{
			Name:     attributesName,
			Compress: true,
		})
	}

	return entries, attrIndex, nil
}

// placeEntries builds the hash table for entries, in order, using linear
// probing from each name's preferred slot.
func placeEntries(entries []FileRecord, tableSize uint32, logger *slog.Logger) ([]HashTableEntry, error) {
	table := make([]HashTableEntry, tableSize)
	for i := range table {
		table[i] = emptyHashEntry
	}

	for i, rec := range entries {
		start := HashString(rec.Name, HashTableOffset) % tableSize
		placed := false

		for probe := uint32(0); probe < tableSize; probe++ {
			slot := (start + probe) % tableSize
			if table[slot].State() == SlotValid {
				continue
			}
			table[slot] = HashTableEntry{
				NameHashA:  HashString(rec.Name, HashNameA),
				NameHashB:  HashString(rec.Name, HashNameB),
				Locale:     rec.Locale,
				Platform:   rec.Platform,
				BlockIndex: uint32(i),
			}
			if probe > 0 {
				logger.Debug("hash collision", "name", rec.Name, "preferred", start, "slot", slot, "probes", probe)
			}
			placed = true
			break
		}

		if !placed {
			return nil, &CapacityError{Entries: len(entries), TableSize: tableSize}
		}
	}

	return table, nil
}

// WriteArchive builds records and publishes the archive at path. The file
// appears only when the whole archive was written; on failure nothing is
// left at path or in its directory.
func WriteArchive(path string, records []FileRecord, opts BuildOptions) error {
	img, err := Build(records, opts)
	if err != nil {
		return err
	}
	return img.WriteFile(path)
}

// WriteFile publishes the image at path with the same guarantees as
// WriteArchive.
func (img *Image) WriteFile(path string) error {
	return publish(path, img.Data)
}

// publish writes data to a temp file next to path and renames it into place.
func publish(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "mpq_*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync archive: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("save archive: %w", err)
	}
	return nil
}

// Writer accumulates records and writes the archive on Close.
type Writer struct {
	path    string
	opts    BuildOptions
	records []FileRecord
	done    bool
}

// Create starts a new archive that will be written to path on Close.
func Create(path string, opts BuildOptions) (*Writer, error) {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	return &Writer{path: path, opts: opts}, nil
}

// AddFile adds the file at srcPath under the archive name name, compressed
// with zlib. Forward slashes in name are stored as backslashes.
func (w *Writer) AddFile(srcPath, name string) error {
	rec, err := ReadFileRecord(srcPath, name)
	if err != nil {
		return err
	}
	return w.AddRecord(rec)
}

// AddRecord queues rec. Records are stored in the order they are added.
func (w *Writer) AddRecord(rec FileRecord) error {
	if w.done {
		return ErrNotWritable
	}
	w.records = append(w.records, rec)
	return nil
}

// HasFile reports whether a record with name has been added.
func (w *Writer) HasFile(name string) bool {
	key := entryKey(name)
	for _, rec := range w.records {
		if entryKey(rec.Name) == key {
			return true
		}
	}
	return false
}

// Close builds the archive and publishes it atomically.
func (w *Writer) Close() error {
	if w.done {
		return ErrNotWritable
	}
	w.done = true
	return WriteArchive(w.path, w.records, w.opts)
}

// Abort discards the queued records without writing anything.
func (w *Writer) Abort() {
	w.done = true
	w.records = nil
}
