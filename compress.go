// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	stdbzip2 "compress/bzip2"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zlib"
)

// CompressionType is the leading tag byte of a compressed sector.
type CompressionType uint8

// Compression type constants
const (
	CompressionHuffman   CompressionType = 0x01 // Huffman (used on wave files only)
	CompressionZlib      CompressionType = 0x02 // Zlib compression
	CompressionPKWare    CompressionType = 0x08 // PKWare DCL compression
	CompressionBzip2     CompressionType = 0x10 // BZip2 compression
	CompressionLZMA      CompressionType = 0x12 // LZMA compression (SC2+)
	CompressionSparse    CompressionType = 0x20 // Sparse/RLE compression (SC2+)
	CompressionADPCMMono CompressionType = 0x40 // ADPCM mono audio
	CompressionADPCM     CompressionType = 0x80 // ADPCM stereo audio
)

func (c CompressionType) String() string {
	switch c {
	case CompressionHuffman:
		return "huffman"
	case CompressionZlib:
		return "zlib"
	case CompressionPKWare:
		return "pkware"
	case CompressionBzip2:
		return "bzip2"
	case CompressionLZMA:
		return "lzma"
	case CompressionSparse:
		return "sparse"
	case CompressionADPCMMono:
		return "adpcm-mono"
	case CompressionADPCM:
		return "adpcm-stereo"
	default:
		return fmt.Sprintf("unknown(0x%02X)", uint8(c))
	}
}

// ParseCompressionType parses the writable compression names. An empty
// name selects zlib.
func ParseCompressionType(name string) (CompressionType, error) {
	switch strings.ToLower(name) {
	case "", "zlib":
		return CompressionZlib, nil
	case "bzip2":
		return CompressionBzip2, nil
	case "sparse":
		return CompressionSparse, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedCompression, name)
	}
}

// compressData compresses data and prefixes the compression type byte.
// The caller decides whether the result is worth keeping.
func compressData(data []byte, method CompressionType) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(method))

	switch method {
	case CompressionZlib:
		w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
		if err != nil {
			return nil, fmt.Errorf("create zlib writer: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("zlib write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("zlib close: %w", err)
		}

	case CompressionBzip2:
		w, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2.BestCompression})
		if err != nil {
			return nil, fmt.Errorf("create bzip2 writer: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("bzip2 write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("bzip2 close: %w", err)
		}

	case CompressionSparse:
		buf.Write(compressSparse(data))

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, method)
	}

	return buf.Bytes(), nil
}

// decompressData decompresses a tagged MPQ sector
func decompressData(data []byte, uncompressedSize uint32) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty compressed data")
	}

	method := CompressionType(data[0])
	payload := data[1:]

	var (
		result []byte
		err    error
	)
	switch method {
	case CompressionZlib:
		result, err = decompressZlib(payload, uncompressedSize)
	case CompressionBzip2:
		result, err = decompressBzip2(payload, uncompressedSize)
	case CompressionSparse:
		result, err = decompressSparse(payload, uncompressedSize)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, method)
	}
	if err != nil {
		return nil, err
	}

	if uint32(len(result)) != uncompressedSize {
		return nil, fmt.Errorf("%s: decompressed %d bytes, want %d", method, len(result), uncompressedSize)
	}
	return result, nil
}

// decompressZlib decompresses zlib-compressed data
func decompressZlib(data []byte, uncompressedSize uint32) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create zlib reader: %w", err)
	}
	defer r.Close()

	return readAtMost(r, uncompressedSize, "zlib")
}

// decompressBzip2 decompresses bzip2-compressed data
func decompressBzip2(data []byte, uncompressedSize uint32) ([]byte, error) {
	return readAtMost(stdbzip2.NewReader(bytes.NewReader(data)), uncompressedSize, "bzip2")
}

// readAtMost reads up to size bytes from r. The buffer grows with the
// output, so a forged size costs nothing until data arrives.
func readAtMost(r io.Reader, size uint32, method string) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(io.LimitReader(r, int64(size))); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%s decompress: %w", method, err)
	}
	return buf.Bytes(), nil
}
