/*
Copyright 2024 The TiDB-Connector Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLenEncIntSizes(t *testing.T) {
	tests := []struct {
		value    uint64
		expected int
	}{
		{0, 1},
		{100, 1},
		{250, 1},
		{251, 3},
		{300, 3},
		{1 << 15, 3},
		{1 << 16, 4},
		{1 << 24, 9},
		{1<<64 - 1, 9},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, lenEncIntSize(test.value), "lenEncIntSize(%v)", test.value)
	}
}

func TestLenEncIntWire(t *testing.T) {
	tests := []struct {
		value    uint64
		expected []byte
	}{
		{100, []byte{0x64}},
		{250, []byte{0xfa}},
		{251, []byte{0xfc, 0xfb, 0x00}},
		{300, []byte{0xfc, 0x2c, 0x01}},
		{1 << 16, []byte{0xfd, 0x00, 0x00, 0x01}},
		{1 << 24, []byte{0xfe, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00}},
	}
	for _, test := range tests {
		data := make([]byte, len(test.expected))
		pos := writeLenEncInt(data, 0, test.value)
		assert.Equal(t, len(test.expected), pos)
		assert.Equal(t, test.expected, data, "writeLenEncInt(%v)", test.value)

		got, newPos, ok := readLenEncInt(data, 0)
		require.True(t, ok)
		assert.Equal(t, test.value, got)
		assert.Equal(t, len(test.expected), newPos)
	}
}

func TestLenEncIntTruncated(t *testing.T) {
	// A 0xfc tag with only one following byte must not decode.
	_, _, ok := readLenEncInt([]byte{0xfc, 0x2c}, 0)
	assert.False(t, ok)

	_, _, ok = readLenEncInt([]byte{0xfe, 0, 0, 0}, 0)
	assert.False(t, ok)

	_, _, ok = readLenEncInt(nil, 0)
	assert.False(t, ok)
}

func TestEncString(t *testing.T) {
	tests := []struct {
		value       string
		lenEncoded  []byte
		nullEncoded []byte
	}{
		{
			"",
			[]byte{0x00},
			[]byte{0x00},
		},
		{
			"a",
			[]byte{0x01, 'a'},
			[]byte{'a', 0x00},
		},
		{
			"0123456789",
			[]byte{0x0a, '0', '1', '2', '3', '4', '5', '6', '7', '8', '9'},
			[]byte{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 0x00},
		},
	}
	for _, test := range tests {
		// Length encoded.
		data := make([]byte, lenEncStringSize(test.value))
		pos := writeLenEncString(data, 0, test.value)
		assert.Equal(t, len(data), pos)
		assert.Equal(t, test.lenEncoded, data)

		got, _, ok := readLenEncString(data, 0)
		require.True(t, ok)
		assert.Equal(t, test.value, got)

		// Null terminated.
		data = make([]byte, len(test.value)+1)
		pos = writeNullString(data, 0, test.value)
		assert.Equal(t, len(data), pos)
		assert.Equal(t, test.nullEncoded, data)

		got, _, ok = readNullString(data, 0)
		require.True(t, ok)
		assert.Equal(t, test.value, got)
	}
}

func TestSkipLenEncString(t *testing.T) {
	data := make([]byte, lenEncStringSize("abcdef")+2)
	pos := writeLenEncString(data, 0, "abcdef")
	writeUint16(data, pos, 0x1234)

	newPos, ok := skipLenEncString(data, 0)
	require.True(t, ok)
	v, _, ok := readUint16(data, newPos)
	require.True(t, ok)
	assert.Equal(t, uint16(0x1234), v)
}

func TestFixedWidthInts(t *testing.T) {
	data := make([]byte, 2+3+4+8)
	pos := writeUint16(data, 0, 0xfedc)
	pos = writeUint24(data, pos, 0xfedcba)
	pos = writeUint32(data, pos, 0xfedcba98)
	pos = writeUint64(data, pos, 0xfedcba9876543210)
	require.Equal(t, len(data), pos)

	v16, pos, ok := readUint16(data, 0)
	require.True(t, ok)
	assert.Equal(t, uint16(0xfedc), v16)
	v24, pos, ok := readUint24(data, pos)
	require.True(t, ok)
	assert.Equal(t, uint32(0xfedcba), v24)
	v32, pos, ok := readUint32(data, pos)
	require.True(t, ok)
	assert.Equal(t, uint32(0xfedcba98), v32)
	v64, pos, ok := readUint64(data, pos)
	require.True(t, ok)
	assert.Equal(t, uint64(0xfedcba9876543210), v64)
	assert.Equal(t, len(data), pos)
}
