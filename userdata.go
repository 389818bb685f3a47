// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import "encoding/binary"

const userDataHeaderSize = 16

// UserDataHeader is the optional "MPQ\x1B" preamble that lets an archive
// be embedded behind foreign data. HeaderOffset is relative to the start
// of the preamble.
type UserDataHeader struct {
	UserDataSize       uint32
	HeaderOffset       uint32
	UserDataHeaderSize uint32
}

func (u *UserDataHeader) marshal() []byte {
	buf := make([]byte, 0, userDataHeaderSize)
	buf = binary.LittleEndian.AppendUint32(buf, userDataMagic)
	buf = binary.LittleEndian.AppendUint32(buf, u.UserDataSize)
	buf = binary.LittleEndian.AppendUint32(buf, u.HeaderOffset)
	buf = binary.LittleEndian.AppendUint32(buf, u.UserDataHeaderSize)
	return buf
}

func parseUserDataHeader(data []byte) (*UserDataHeader, error) {
	if len(data) < userDataHeaderSize {
		return nil, formatErrorf("user data", "truncated: %d bytes", len(data))
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != userDataMagic {
		return nil, formatErrorf("user data", "signature 0x%08X", magic)
	}
	u := &UserDataHeader{
		UserDataSize:       binary.LittleEndian.Uint32(data[4:8]),
		HeaderOffset:       binary.LittleEndian.Uint32(data[8:12]),
		UserDataHeaderSize: binary.LittleEndian.Uint32(data[12:16]),
	}
	if u.HeaderOffset < userDataHeaderSize {
		return nil, formatErrorf("user data", "header offset %d points into the preamble", u.HeaderOffset)
	}
	return u, nil
}
