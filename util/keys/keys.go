// Copyright 2022 QuarryDB.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package keys provides order-preserving key encoding. Encoded values
// compare bytewise in the same order as the source values, so composite
// primary keys can be compared with bytes.Compare.
package keys

import (
	"encoding/binary"
)

const (
	escapeByte     byte = 0x00
	escapedZero    byte = 0xFF
	terminatorByte byte = 0x01
)

// Clone clone the value
func Clone(value []byte) []byte {
	v := make([]byte, len(value))
	copy(v, value)
	return v
}

// EncodeInt64Ascending appends v to dst so that encoded values sort in
// numeric order. The sign bit is flipped to make negative values sort
// before positive ones.
func EncodeInt64Ascending(dst []byte, v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v)^(1<<63))
	return append(dst, b[:]...)
}

// DecodeInt64Ascending decodes a value written by EncodeInt64Ascending and
// returns the remainder of the buffer.
func DecodeInt64Ascending(src []byte) (int64, []byte) {
	v := binary.BigEndian.Uint64(src[:8])
	return int64(v ^ (1 << 63)), src[8:]
}

// EncodeBytesAscending appends v to dst so that encoded values sort in
// bytewise order of the source. Embedded 0x00 bytes are escaped as
// 0x00 0xFF and the value is terminated with 0x00 0x01, which sorts below
// any escaped content.
func EncodeBytesAscending(dst, v []byte) []byte {
	for _, b := range v {
		if b == escapeByte {
			dst = append(dst, escapeByte, escapedZero)
			continue
		}
		dst = append(dst, b)
	}
	return append(dst, escapeByte, terminatorByte)
}

// DecodeBytesAscending decodes a value written by EncodeBytesAscending and
// returns the remainder of the buffer.
func DecodeBytesAscending(src []byte) ([]byte, []byte) {
	var v []byte
	for i := 0; i < len(src); i++ {
		if src[i] != escapeByte {
			v = append(v, src[i])
			continue
		}
		if src[i+1] == terminatorByte {
			return v, src[i+2:]
		}
		v = append(v, escapeByte)
		i++
	}
	panic("malformed encoded bytes: missing terminator")
}

// EncodeBoolAscending appends v to dst, false before true.
func EncodeBoolAscending(dst []byte, v bool) []byte {
	if v {
		return append(dst, 1)
	}
	return append(dst, 0)
}

// DecodeBoolAscending decodes a value written by EncodeBoolAscending and
// returns the remainder of the buffer.
func DecodeBoolAscending(src []byte) (bool, []byte) {
	return src[0] != 0, src[1:]
}
