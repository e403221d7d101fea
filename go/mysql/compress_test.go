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
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compressRoundTrip(t *testing.T, algo CompressionAlgorithm, payload []byte) {
	var wire bytes.Buffer

	writer, err := newCompressedStream(&wire, algo)
	require.NoError(t, err)
	_, err = writer.Write(payload)
	require.NoError(t, err)
	require.NoError(t, writer.Flush())

	reader, err := newCompressedStream(&wire, algo)
	require.NoError(t, err)
	got := make([]byte, len(payload))
	_, err = io.ReadFull(reader, got)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestCompressedStreamZlib(t *testing.T) {
	compressRoundTrip(t, CompressionZlib, []byte(strings.Repeat("select * from t where id = ?;", 100)))
}

func TestCompressedStreamZstd(t *testing.T) {
	compressRoundTrip(t, CompressionZstd, []byte(strings.Repeat("select * from t where id = ?;", 100)))
}

func TestCompressedStreamSmallPayloadStored(t *testing.T) {
	// Payloads under the compression threshold go out stored, with a
	// zero uncompressed length in the frame header.
	payload := []byte("tiny")
	var wire bytes.Buffer

	writer, err := newCompressedStream(&wire, CompressionZlib)
	require.NoError(t, err)
	_, err = writer.Write(payload)
	require.NoError(t, err)
	require.NoError(t, writer.Flush())

	frame := wire.Bytes()
	require.Greater(t, len(frame), compressedHeaderSize)
	compLen, _, _ := readUint24(frame, 0)
	uncompLen, _, _ := readUint24(frame, 4)
	assert.Equal(t, uint32(len(payload)), compLen)
	assert.Equal(t, uint32(0), uncompLen, "small frame must be stored")
	assert.Equal(t, payload, frame[compressedHeaderSize:])

	reader, err := newCompressedStream(&wire, CompressionZlib)
	require.NoError(t, err)
	got := make([]byte, len(payload))
	_, err = io.ReadFull(reader, got)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestCompressedStreamSequence(t *testing.T) {
	var wire bytes.Buffer

	writer, err := newCompressedStream(&wire, CompressionZlib)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = writer.Write([]byte{byte(i)})
		require.NoError(t, err)
		require.NoError(t, writer.Flush())
	}
	assert.Equal(t, uint8(3), writer.sequence)

	reader, err := newCompressedStream(&wire, CompressionZlib)
	require.NoError(t, err)
	got := make([]byte, 3)
	_, err = io.ReadFull(reader, got)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, got)

	// A reader whose sequence was reset must reject the next frame.
	_, err = writer.Write([]byte{9})
	require.NoError(t, err)
	require.NoError(t, writer.Flush())
	reader.resetSequence()
	_, err = reader.Read(make([]byte, 1))
	require.Error(t, err)
	assert.Equal(t, CRMalformedPacket, err.(*SQLError).Number())
}

func TestCompressedStreamEmptyFlush(t *testing.T) {
	var wire bytes.Buffer
	writer, err := newCompressedStream(&wire, CompressionZlib)
	require.NoError(t, err)
	require.NoError(t, writer.Flush())
	assert.Zero(t, wire.Len(), "empty flush must not emit a frame")
}
