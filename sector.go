// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
)

// EncodedFile is the on-disk form of one file produced by EncodeFile.
type EncodedFile struct {
	// Data is written verbatim at the file's position.
	Data []byte
	// CompressedSize is the value recorded in the block table. For
	// single-unit files it excludes the trailing CRC.
	CompressedSize uint32
	// Flags is the block table flag word for the file.
	Flags BlockFlags
	// SectorOffsets holds the N+1 plaintext offsets, relative to the start
	// of Data. Nil for single-unit files.
	SectorOffsets []uint32
	// SectorCRCs holds the CRC32 of every raw sector, or of the whole file
	// for single-unit files. Nil without FlagSectorCRC.
	SectorCRCs []uint32
}

// recordFlags assembles the block flags implied by a record.
func recordFlags(rec FileRecord) BlockFlags {
	if rec.DeleteMarker {
		return FlagExists | FlagDeleteMarker
	}
	flags := FlagExists
	if rec.Compress {
		flags |= FlagCompress
	}
	if rec.Encrypt {
		flags |= FlagEncrypted
	}
	if rec.FixKey {
		flags |= FlagFixKey
	}
	if rec.SingleUnit {
		flags |= FlagSingleUnit
	}
	if rec.SectorCRC {
		flags |= FlagSectorCRC
	}
	if rec.PatchFile {
		flags |= FlagPatchFile
	}
	return flags
}

// EncodeFile converts rec into its stored representation for a file that
// will be placed at filePos (relative to the header). rec.Data is not
// modified.
func EncodeFile(rec FileRecord, filePos uint32, sectorSizeShift uint16) (*EncodedFile, error) {
	if uint64(len(rec.Data)) > math.MaxUint32 {
		return nil, fmt.Errorf("%s: %w", rec.Name, ErrSizeOverflow)
	}

	flags := recordFlags(rec)
	if rec.DeleteMarker {
		return &EncodedFile{Flags: flags}, nil
	}

	method := rec.Compression
	if method == 0 {
		method = CompressionZlib
	}

	fileSize := uint32(len(rec.Data))
	key := FileKey(rec.Name, filePos, fileSize, flags)

	var (
		enc *EncodedFile
		err error
	)
	if rec.SingleUnit {
		enc, err = encodeSingleUnit(rec, method, key)
	} else {
		enc, err = encodeSectors(rec, method, key, 512<<sectorSizeShift)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rec.Name, err)
	}
	enc.Flags = flags
	return enc, nil
}

func encodeSingleUnit(rec FileRecord, method CompressionType, key uint32) (*EncodedFile, error) {
	payload := rec.Data
	if rec.Compress && len(payload) > 0 {
		compressed, err := compressData(payload, method)
		if err != nil {
			return nil, err
		}
		if len(compressed) < len(payload) {
			payload = compressed
		}
	}

	out := make([]byte, len(payload), len(payload)+4)
	copy(out, payload)
	enc := &EncodedFile{CompressedSize: uint32(len(out))}

	if rec.SectorCRC {
		sum := crc32.ChecksumIEEE(rec.Data)
		out = binary.LittleEndian.AppendUint32(out, sum)
		enc.SectorCRCs = []uint32{sum}
	}
	if rec.Encrypt {
		EncryptBlock(out, key)
	}

	enc.Data = out
	return enc, nil
}

func encodeSectors(rec FileRecord, method CompressionType, key uint32, sectorSize int) (*EncodedFile, error) {
	data := rec.Data
	count := (len(data) + sectorSize - 1) / sectorSize

	sectors := make([][]byte, 0, count)
	var crcs []uint32
	if rec.SectorCRC {
		crcs = make([]uint32, 0, count)
	}

	for start := 0; start < len(data); start += sectorSize {
		raw := data[start:min(start+sectorSize, len(data))]
		if rec.SectorCRC {
			crcs = append(crcs, crc32.ChecksumIEEE(raw))
		}

		stored := raw
		if rec.Compress {
			compressed, err := compressData(raw, method)
			if err != nil {
				return nil, fmt.Errorf("sector %d: %w", len(sectors), err)
			}
			if len(compressed) < len(raw) {
				stored = compressed
			}
		}
		sectors = append(sectors, stored)
	}

	tableLen := 4 * (count + 1)
	prefixLen := tableLen + 4*len(crcs)

	total := uint64(prefixLen)
	for _, s := range sectors {
		total += uint64(len(s))
	}
	if total > math.MaxUint32 {
		return nil, ErrSizeOverflow
	}

	offsets := make([]uint32, count+1)
	offsets[0] = uint32(prefixLen)
	for i, s := range sectors {
		offsets[i+1] = offsets[i] + uint32(len(s))
	}

	out := make([]byte, prefixLen, int(total))
	for i, off := range offsets {
		binary.LittleEndian.PutUint32(out[4*i:], off)
	}
	if rec.Encrypt {
		EncryptBlock(out[:tableLen], offsetTableKey(key))
	}
	for i, sum := range crcs {
		binary.LittleEndian.PutUint32(out[tableLen+4*i:], sum)
	}

	for i, s := range sectors {
		start := len(out)
		out = append(out, s...)
		if rec.Encrypt {
			EncryptBlock(out[start:], sectorKey(key, i))
		}
	}

	return &EncodedFile{
		Data:           out,
		CompressedSize: uint32(len(out)),
		SectorOffsets:  offsets,
		SectorCRCs:     crcs,
	}, nil
}

// storedSize is the number of bytes a block occupies at its position.
func storedSize(entry BlockTableEntry) uint32 {
	if entry.Flags.Has(FlagSingleUnit|FlagSectorCRC) && !entry.Flags.Has(FlagDeleteMarker) {
		return entry.CompressedSize + 4
	}
	return entry.CompressedSize
}

// DecodeFile reverses EncodeFile. stored must hold storedSize(entry) bytes
// read from the block's position. CRC mismatches do not stop decoding: the
// full content is returned together with the joined *IntegrityError values.
func DecodeFile(stored []byte, name string, entry BlockTableEntry, sectorSizeShift uint16) ([]byte, error) {
	if entry.Flags.Has(FlagDeleteMarker) {
		return nil, fmt.Errorf("%s: %w", name, ErrDeleted)
	}
	if entry.Flags.Has(FlagImplode) {
		return nil, fmt.Errorf("%s: %w: %s", name, ErrUnsupportedCompression, CompressionPKWare)
	}
	if sectorSizeShift > maxSectorSizeShift {
		return nil, formatErrorf("sectorSizeShift", "%s: %d exceeds %d", name, sectorSizeShift, maxSectorSizeShift)
	}
	if need := storedSize(entry); uint32(len(stored)) < need {
		return nil, formatErrorf("block", "%s: %d stored bytes, need %d", name, len(stored), need)
	}

	var key uint32
	if entry.Flags.Has(FlagEncrypted) {
		key = FileKey(name, entry.FilePos, entry.FileSize, entry.Flags)
	}

	if entry.Flags.Has(FlagSingleUnit) {
		return decodeSingleUnit(stored, name, entry, key)
	}
	return decodeSectors(stored, name, entry, key, 512<<sectorSizeShift)
}

func decodeSingleUnit(stored []byte, name string, entry BlockTableEntry, key uint32) ([]byte, error) {
	buf := make([]byte, storedSize(entry))
	copy(buf, stored)
	if key != 0 {
		DecryptBlock(buf, key)
	}

	body := buf[:entry.CompressedSize]
	data, err := expandSector(body, entry.FileSize, entry.Flags)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	if entry.Flags.Has(FlagSectorCRC) {
		want := binary.LittleEndian.Uint32(buf[entry.CompressedSize:])
		if got := crc32.ChecksumIEEE(data); got != want {
			return data, &IntegrityError{Name: name, Sector: -1, Want: want, Got: got}
		}
	}
	return data, nil
}

func decodeSectors(stored []byte, name string, entry BlockTableEntry, key uint32, sectorSize uint32) ([]byte, error) {
	count := uint32((uint64(entry.FileSize) + uint64(sectorSize) - 1) / uint64(sectorSize))
	tableLen := 4 * (count + 1)
	prefixLen := tableLen
	if entry.Flags.Has(FlagSectorCRC) {
		prefixLen += 4 * count
	}
	if uint32(len(stored)) < prefixLen {
		return nil, formatErrorf("sector table", "%s: %d bytes, need %d", name, len(stored), prefixLen)
	}

	table := make([]byte, tableLen)
	copy(table, stored)
	if key != 0 {
		DecryptBlock(table, offsetTableKey(key))
	}
	offsets := make([]uint32, count+1)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint32(table[4*i:])
	}

	// FileSize is untrusted; grow with the sectors actually decoded.
	result := make([]byte, 0, min(entry.FileSize, uint32(len(stored))))
	var integrity []error

	for i := uint32(0); i < count; i++ {
		start, end := offsets[i], offsets[i+1]
		if start < prefixLen || end < start || end > uint32(len(stored)) {
			return nil, formatErrorf("sector table", "%s: sector %d has invalid offsets %d-%d", name, i, start, end)
		}

		sector := make([]byte, end-start)
		copy(sector, stored[start:end])
		if key != 0 {
			DecryptBlock(sector, sectorKey(key, int(i)))
		}

		expected := min(sectorSize, entry.FileSize-i*sectorSize)
		raw, err := expandSector(sector, expected, entry.Flags)
		if err != nil {
			return nil, fmt.Errorf("%s: sector %d: %w", name, i, err)
		}

		if entry.Flags.Has(FlagSectorCRC) {
			want := binary.LittleEndian.Uint32(stored[tableLen+4*i:])
			if got := crc32.ChecksumIEEE(raw); got != want {
				integrity = append(integrity, &IntegrityError{Name: name, Sector: int(i), Want: want, Got: got})
			}
		}
		result = append(result, raw...)
	}

	return result, errors.Join(integrity...)
}

// expandSector returns the raw bytes of one stored unit of expected size.
func expandSector(data []byte, expected uint32, flags BlockFlags) ([]byte, error) {
	switch {
	case uint32(len(data)) == expected:
		return data, nil
	case uint32(len(data)) < expected && flags.Has(FlagCompress):
		return decompressData(data, expected)
	default:
		return nil, formatErrorf("sector", "stored %d bytes for %d raw bytes", len(data), expected)
	}
}
