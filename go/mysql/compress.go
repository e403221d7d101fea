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
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// CompressionAlgorithm selects the compressed packet framing negotiated in
// the handshake.
type CompressionAlgorithm int

// Supported compression algorithms.
const (
	// CompressionNone disables the compressed layer.
	CompressionNone CompressionAlgorithm = iota

	// CompressionZlib is the classic CLIENT_COMPRESS framing.
	CompressionZlib

	// CompressionZstd is CLIENT_ZSTD_COMPRESSION_ALGORITHM framing.
	CompressionZstd
)

// minCompressLength is the payload size below which frames are sent stored.
// Compressing tiny packets costs more than it saves.
const minCompressLength = 50

// zstdCompressionLevel is the level advertised in the handshake response
// when zstd framing is negotiated.
const zstdCompressionLevel = 3

// compressedHeaderSize is the 3-byte compressed length, 1-byte sequence,
// 3-byte uncompressed length prefix of every compressed frame.
const compressedHeaderSize = 7

// compressedStream wraps a net.Conn with the compressed packet framing: an
// envelope of compressed frames, each carrying a chunk of the regular
// packet stream. It has its own sequence counter, reset together with the
// packet sequence at the start of every exchange.
type compressedStream struct {
	conn io.ReadWriter
	algo CompressionAlgorithm

	sequence uint8

	// writeBuf accumulates outgoing packet bytes until Flush builds one
	// compressed frame out of them.
	writeBuf bytes.Buffer

	// readBuf holds the decompressed bytes of the last frame that were not
	// consumed yet.
	readBuf bytes.Reader

	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder

	header [compressedHeaderSize]byte
}

func newCompressedStream(conn io.ReadWriter, algo CompressionAlgorithm) (*compressedStream, error) {
	cs := &compressedStream{
		conn: conn,
		algo: algo,
	}
	if algo == CompressionZstd {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		cs.zstdEnc = enc
		cs.zstdDec = dec
	}
	return cs, nil
}

func (cs *compressedStream) resetSequence() {
	cs.sequence = 0
}

// Write buffers outgoing bytes. The frame goes out on Flush, so a whole
// pipeline of commands can share one compressed frame.
func (cs *compressedStream) Write(p []byte) (int, error) {
	return cs.writeBuf.Write(p)
}

// Flush compresses and sends everything buffered since the last flush.
func (cs *compressedStream) Flush() error {
	payload := cs.writeBuf.Bytes()
	defer cs.writeBuf.Reset()

	if len(payload) == 0 {
		return nil
	}

	var frame []byte
	uncompressedLength := 0
	if len(payload) < minCompressLength {
		frame = payload
	} else {
		compressed, err := cs.compress(payload)
		if err != nil {
			return err
		}
		if len(compressed) < len(payload) {
			frame = compressed
			uncompressedLength = len(payload)
		} else {
			// Incompressible data is sent stored.
			frame = payload
		}
	}

	writeUint24(cs.header[:], 0, uint32(len(frame)))
	cs.header[3] = cs.sequence
	writeUint24(cs.header[:], 4, uint32(uncompressedLength))
	cs.sequence++

	if _, err := cs.conn.Write(cs.header[:]); err != nil {
		return err
	}
	_, err := cs.conn.Write(frame)
	return err
}

// Read serves bytes from the current decompressed frame, pulling the next
// frame off the wire when it runs dry.
func (cs *compressedStream) Read(p []byte) (int, error) {
	if cs.readBuf.Len() == 0 {
		if err := cs.readFrame(); err != nil {
			return 0, err
		}
	}
	return cs.readBuf.Read(p)
}

func (cs *compressedStream) readFrame() error {
	if _, err := io.ReadFull(cs.conn, cs.header[:]); err != nil {
		return err
	}
	compressedLength, _, _ := readUint24(cs.header[:], 0)
	sequence := cs.header[3]
	uncompressedLength, _, _ := readUint24(cs.header[:], 4)

	if sequence != cs.sequence {
		return newProtocolError("invalid compressed sequence, expected %v got %v", cs.sequence, sequence)
	}
	cs.sequence++

	frame := make([]byte, compressedLength)
	if _, err := io.ReadFull(cs.conn, frame); err != nil {
		return err
	}

	if uncompressedLength == 0 {
		// Stored frame.
		cs.readBuf.Reset(frame)
		return nil
	}

	payload, err := cs.decompress(frame, int(uncompressedLength))
	if err != nil {
		return err
	}
	if len(payload) != int(uncompressedLength) {
		return newProtocolError("compressed frame declared %v uncompressed bytes, got %v", uncompressedLength, len(payload))
	}
	cs.readBuf.Reset(payload)
	return nil
}

func (cs *compressedStream) compress(payload []byte) ([]byte, error) {
	switch cs.algo {
	case CompressionZlib:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		return cs.zstdEnc.EncodeAll(payload, nil), nil
	}
	return nil, fmt.Errorf("unsupported compression algorithm %v", cs.algo)
}

func (cs *compressedStream) decompress(frame []byte, uncompressedLength int) ([]byte, error) {
	switch cs.algo {
	case CompressionZlib:
		r, err := zlib.NewReader(bytes.NewReader(frame))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		payload := make([]byte, 0, uncompressedLength)
		buf := bytes.NewBuffer(payload)
		if _, err := io.Copy(buf, r); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		return cs.zstdDec.DecodeAll(frame, make([]byte, 0, uncompressedLength))
	}
	return nil, fmt.Errorf("unsupported compression algorithm %v", cs.algo)
}
