// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import "fmt"

// Sparse stream framing: a control byte N <= 0x7F is followed by N literal
// bytes, 0x80|n is a run of n zero bytes, and 0xFF ends the stream. Zero
// runs are capped at 0x7E so that a run never encodes as the end marker.
const (
	sparseEnd         = 0xFF
	sparseZeroFlag    = 0x80
	sparseMaxLiterals = 0x7F
	sparseMaxZeros    = 0x7E
)

func compressSparse(data []byte) []byte {
	out := make([]byte, 0, len(data)/2+1)
	pos := 0

	for pos < len(data) {
		zeros := 0
		for pos < len(data) && data[pos] == 0 {
			pos++
			zeros++
		}
		for zeros > 0 {
			n := min(zeros, sparseMaxZeros)
			out = append(out, sparseZeroFlag|byte(n))
			zeros -= n
		}

		start := pos
		for pos < len(data) && data[pos] != 0 && pos-start < sparseMaxLiterals {
			pos++
		}
		if n := pos - start; n > 0 {
			out = append(out, byte(n))
			out = append(out, data[start:pos]...)
		}
	}

	return append(out, sparseEnd)
}

func decompressSparse(data []byte, uncompressedSize uint32) ([]byte, error) {
	out := make([]byte, 0, min(uncompressedSize, uint32(len(data))*sparseMaxZeros))
	pos := 0

	for pos < len(data) && uint32(len(out)) < uncompressedSize {
		control := data[pos]
		pos++

		switch {
		case control == sparseEnd:
			pos = len(data)
		case control&sparseZeroFlag != 0:
			n := int(control &^ sparseZeroFlag)
			out = append(out, make([]byte, n)...)
		default:
			n := int(control)
			if pos+n > len(data) {
				return nil, fmt.Errorf("sparse decompress: literal run of %d at %d overruns %d bytes", n, pos, len(data))
			}
			out = append(out, data[pos:pos+n]...)
			pos += n
		}
	}

	if uint32(len(out)) > uncompressedSize {
		out = out[:uncompressedSize]
	}
	return out, nil
}
