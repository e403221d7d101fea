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

var testSalt = []byte("01234567890123456789")

// buildGreetingPacket assembles a protocol version 10 server greeting.
func buildGreetingPacket(serverVersion string, capabilities uint32, extended uint32) []byte {
	length := 1 + len(serverVersion) + 1 + 4 + 8 + 1 + 2 + 1 + 2 + 2 + 1 + 6 + 4 + 13 + len(MysqlNativePassword) + 1
	data := make([]byte, length)
	pos := writeByte(data, 0, protocolVersion)
	pos = writeNullString(data, pos, serverVersion)
	pos = writeUint32(data, pos, 1234) // connection id
	pos += copy(data[pos:], testSalt[:8])
	pos = writeByte(data, pos, 0)
	pos = writeUint16(data, pos, uint16(capabilities))
	pos = writeByte(data, pos, CharacterSetUtf8mb4)
	pos = writeUint16(data, pos, ServerStatusAutocommit)
	pos = writeUint16(data, pos, uint16(capabilities>>16))
	pos = writeByte(data, pos, byte(len(testSalt)+1))
	pos = writeZeroes(data, pos, 6)
	pos = writeUint32(data, pos, extended)
	pos += copy(data[pos:], testSalt[8:])
	pos = writeByte(data, pos, 0) // salt terminator
	writeNullString(data, pos, MysqlNativePassword)
	return data
}

const testServerCapabilities = CapabilityClientProtocol41 |
	CapabilityClientLongPassword |
	CapabilityClientSecureConnection |
	CapabilityClientPluginAuth |
	CapabilityClientTransactions |
	CapabilityClientSessionTrack

// parseHandshakeResponse decodes enough of the client response packet to
// verify it: capability flags, extended flags, username and the auth
// payload.
func parseHandshakeResponse(t *testing.T, data []byte) (caps uint32, extended uint32, uname string, auth []byte) {
	caps, pos, ok := readUint32(data, 0)
	require.True(t, ok)
	_, pos, ok = readUint32(data, pos) // max packet size
	require.True(t, ok)
	_, pos, ok = readByte(data, pos) // charset
	require.True(t, ok)
	pos += 19
	extended, pos, ok = readUint32(data, pos)
	require.True(t, ok)
	uname, pos, ok = readNullString(data, pos)
	require.True(t, ok)
	auth, _, ok = readLenEncStringAsBytesCopy(data, pos)
	require.True(t, ok)
	return caps, extended, uname, auth
}

func TestClientHandshake(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	params := &ConnParams{Uname: "app", Pass: "secret"}

	go func() {
		serverWrite(t, sConn, buildGreetingPacket("8.0.11-TiDB-v7.5.1", testServerCapabilities, CapabilityMariaDBStmtBulkOperations))

		data, err := sConn.ReadPacket()
		require.NoError(t, err)
		caps, extended, uname, auth := parseHandshakeResponse(t, data)
		assert.NotZero(t, caps&CapabilityClientProtocol41)
		assert.Zero(t, caps&CapabilityClientConnectWithDB)
		assert.Equal(t, uint32(CapabilityMariaDBStmtBulkOperations), extended)
		assert.Equal(t, "app", uname)
		assert.Equal(t, scrambleNativePassword(testSalt, "secret"), auth)

		serverWrite(t, sConn, buildOKPacket(0, 0, ServerStatusAutocommit, 0))
	}()

	require.NoError(t, cConn.clientHandshake(params))
	assert.Equal(t, uint32(1234), cConn.ConnectionID)
	assert.Equal(t, "8.0.11-TiDB-v7.5.1", cConn.ServerVersion)
	assert.Equal(t, VendorTiDB, cConn.serverVersion.Vendor)
	assert.NotZero(t, cConn.Capabilities&CapabilityClientProtocol41)
	assert.True(t, cConn.supportsBulk())
}

func TestClientHandshakeAuthSwitch(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	params := &ConnParams{Uname: "app", Pass: "secret"}
	switchSalt := []byte("98765432109876543210")

	go func() {
		serverWrite(t, sConn, buildGreetingPacket("8.0.28", testServerCapabilities, 0))

		_, err := sConn.ReadPacket()
		require.NoError(t, err)

		// Ask the client to redo auth against a fresh salt.
		req := make([]byte, 1+len(MysqlNativePassword)+1+len(switchSalt)+1)
		pos := writeByte(req, 0, EOFPacket)
		pos = writeNullString(req, pos, MysqlNativePassword)
		pos += copy(req[pos:], switchSalt)
		writeByte(req, pos, 0)
		serverWrite(t, sConn, req)

		data, err := sConn.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, scrambleNativePassword(switchSalt, "secret"), data)

		serverWrite(t, sConn, buildOKPacket(0, 0, ServerStatusAutocommit, 0))
	}()

	require.NoError(t, cConn.clientHandshake(params))
}

func TestClientHandshakeBadProtocolVersion(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	go func() {
		greeting := buildGreetingPacket("5.0.0", testServerCapabilities, 0)
		greeting[0] = 9
		serverWrite(t, sConn, greeting)
	}()

	err := cConn.clientHandshake(&ConnParams{Uname: "app"})
	require.Error(t, err)
	assert.Equal(t, CRVersionError, err.(*SQLError).Number())
}

func TestClientHandshakeServerError(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	go func() {
		serverWrite(t, sConn, buildErrPacket(1040, "08004", "Too many connections"))
	}()

	err := cConn.clientHandshake(&ConnParams{Uname: "app"})
	require.Error(t, err)
	serr := err.(*SQLError)
	assert.Equal(t, CRServerHandshakeErr, serr.Number())
	assert.Contains(t, serr.Error(), "Too many connections")
}

func TestClientHandshakeLocalInfileRefused(t *testing.T) {
	listener, sConn, cConn := createSocketPair(t)
	defer func() {
		listener.Close()
		sConn.Close()
		cConn.Close()
	}()

	go func() {
		// A server that does not advertise CLIENT_LOCAL_FILES.
		serverWrite(t, sConn, buildGreetingPacket("8.0.28", testServerCapabilities, 0))
	}()

	err := cConn.clientHandshake(&ConnParams{Uname: "app", AllowLocalInfile: true})
	require.Error(t, err)
	assert.Equal(t, CRServerHandshakeErr, err.(*SQLError).Number())
}

func TestScrambleNativePassword(t *testing.T) {
	// Empty password sends an empty auth response.
	assert.Empty(t, scrambleNativePassword(testSalt, ""))

	scrambled := scrambleNativePassword(testSalt, "secret")
	assert.Len(t, scrambled, 20)
	// Deterministic for a given salt, distinct across salts.
	assert.Equal(t, scrambled, scrambleNativePassword(testSalt, "secret"))
	assert.NotEqual(t, scrambled, scrambleNativePassword([]byte("abcdefgh890123456789"), "secret"))
}
