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
	"crypto/tls"
	"os"
	"runtime"
	"strconv"

	"github.com/google/uuid"
)

// Handshaker performs authentication on a freshly dialed socket. The
// built-in implementation speaks the native password protocol; custom
// implementations can plug in other schemes without touching the
// packet layer.
type Handshaker interface {
	Handshake(c *Conn, params *ConnParams) error
}

type nativeHandshaker struct{}

func (nativeHandshaker) Handshake(c *Conn, params *ConnParams) error {
	return c.clientHandshake(params)
}

// clientInstanceID identifies this process in connection attributes; it
// lets server-side diagnostics group connections per client process.
var clientInstanceID = uuid.NewString()

// clientHandshake runs the client side of the initial handshake:
// reads the server greeting, optionally upgrades to TLS, sends the
// response with the authentication payload, and handles an auth switch
// if the server asks for one.
func (c *Conn) clientHandshake(params *ConnParams) error {
	// Client sequence starts at 1: the greeting was packet 0.
	data, err := c.readEphemeralPacket()
	if err != nil {
		return err
	}
	salt, authPluginName, err := c.parseInitialHandshakePacket(data)
	c.recycleReadPacket()
	if err != nil {
		return err
	}

	capabilities, err := c.negotiateCapabilities(params)
	if err != nil {
		return err
	}

	if params.TLSConfig != nil {
		if err := c.writeSSLRequest(capabilities, params); err != nil {
			return err
		}
		conn := tls.Client(c.conn, params.TLSConfig)
		if err := conn.Handshake(); err != nil {
			return NewSQLError(CRSSLConnectionError, SSNetError, "TLS handshake failed: %v", err)
		}
		c.conn = conn
		c.stream = conn
		c.bufferedReader.Reset(conn)
	}

	authResponse, err := authResponse(authPluginName, params.Pass, salt)
	if err != nil {
		return err
	}
	if err := c.writeHandshakeResponse41(capabilities, authPluginName, authResponse, params); err != nil {
		return err
	}
	if err := c.readAuthResult(params, salt); err != nil {
		return err
	}

	c.Capabilities = capabilities

	if params.Compression != CompressionNone {
		if err := c.enableCompression(params.Compression); err != nil {
			return err
		}
	}
	return nil
}

// parseInitialHandshakePacket parses the protocol version 10 greeting
// and fills in the connection's session context. It returns the auth
// salt and the server's default auth plugin.
func (c *Conn) parseInitialHandshakePacket(data []byte) ([]byte, string, error) {
	pos := 0

	pver, pos, ok := readByte(data, pos)
	if !ok {
		return nil, "", newProtocolError("server greeting is truncated")
	}
	if pver == ErrPacket {
		serr := ParseErrorPacket(data)
		serr.Num = CRServerHandshakeErr
		return nil, "", serr
	}
	if pver != protocolVersion {
		return nil, "", NewSQLError(CRVersionError, SSUnknownSQLState, "unsupported protocol version %v", pver)
	}

	c.ServerVersion, pos, ok = readNullString(data, pos)
	if !ok {
		return nil, "", newProtocolError("server greeting has no version")
	}
	c.serverVersion = ParseServerVersion(c.ServerVersion)

	c.ConnectionID, pos, ok = readUint32(data, pos)
	if !ok {
		return nil, "", newProtocolError("server greeting has no connection id")
	}

	saltPart1, pos, ok := readBytesCopy(data, pos, 8)
	if !ok {
		return nil, "", newProtocolError("server greeting has no salt")
	}
	salt := saltPart1

	// One filler byte.
	pos++

	capLower, pos, ok := readUint16(data, pos)
	if !ok {
		return nil, "", newProtocolError("server greeting has no capability flags")
	}
	capabilities := uint32(capLower)
	authPluginName := MysqlNativePassword

	// Everything after this point is optional for ancient servers.
	if pos < len(data) {
		var charset byte
		charset, pos, _ = readByte(data, pos)
		c.CharacterSet = charset

		c.StatusFlags, pos, _ = readUint16(data, pos)

		var capUpper uint16
		capUpper, pos, ok = readUint16(data, pos)
		if !ok {
			return nil, "", newProtocolError("server greeting capability flags truncated")
		}
		capabilities |= uint32(capUpper) << 16

		var authPluginDataLength byte
		authPluginDataLength, pos, ok = readByte(data, pos)
		if !ok {
			return nil, "", newProtocolError("server greeting auth data length truncated")
		}

		// Six reserved bytes, then four that MariaDB-lineage servers
		// use for their extended capability flags.
		pos += 6
		c.ExtendedCapabilities, pos, ok = readUint32(data, pos)
		if !ok {
			return nil, "", newProtocolError("server greeting reserved bytes truncated")
		}

		if capabilities&CapabilityClientSecureConnection != 0 {
			l := 13
			if int(authPluginDataLength)-8 > l {
				l = int(authPluginDataLength) - 8
			}
			var saltPart2 []byte
			saltPart2, pos, ok = readBytesCopy(data, pos, l)
			if !ok {
				return nil, "", newProtocolError("server greeting salt truncated")
			}
			// The second salt half is null terminated on the wire.
			if saltPart2[len(saltPart2)-1] == 0 {
				saltPart2 = saltPart2[:len(saltPart2)-1]
			}
			salt = append(salt, saltPart2...)
		}

		if capabilities&CapabilityClientPluginAuth != 0 {
			if name, _, ok := readNullString(data, pos); ok {
				authPluginName = name
			}
		}
	}

	c.serverCapabilities = capabilities
	return salt, authPluginName, nil
}

// negotiateCapabilities intersects what this client implements with
// what the server advertised and applies the per-connection options.
func (c *Conn) negotiateCapabilities(params *ConnParams) (uint32, error) {
	server := c.serverCapabilities
	if server&CapabilityClientProtocol41 == 0 {
		return 0, NewSQLError(CRVersionError, SSUnknownSQLState, "server does not support the 4.1 protocol")
	}

	capabilities := uint32(CapabilityClientLongPassword|
		CapabilityClientLongFlag|
		CapabilityClientProtocol41|
		CapabilityClientTransactions|
		CapabilityClientSecureConnection|
		CapabilityClientMultiResults|
		CapabilityClientPluginAuth|
		CapabilityClientConnectAttrs) | params.Flags

	capabilities |= server & (CapabilityClientDeprecateEOF | CapabilityClientSessionTrack)

	if params.DbName != "" {
		capabilities |= CapabilityClientConnectWithDB
	}
	if params.AllowLocalInfile {
		if server&CapabilityClientLocalFiles == 0 {
			return 0, NewSQLError(CRServerHandshakeErr, SSUnknownSQLState, "server does not allow LOCAL INFILE")
		}
		capabilities |= CapabilityClientLocalFiles
	}
	if params.TLSConfig != nil {
		if server&CapabilityClientSSL == 0 {
			return 0, NewSQLError(CRSSLConnectionError, SSNetError, "server does not support TLS")
		}
		capabilities |= CapabilityClientSSL
	}
	switch params.Compression {
	case CompressionNone:
	case CompressionZlib:
		if server&CapabilityClientCompress == 0 {
			return 0, NewSQLError(CRServerHandshakeErr, SSUnknownSQLState, "server does not support zlib compression")
		}
		capabilities |= CapabilityClientCompress
	case CompressionZstd:
		if server&CapabilityClientZstdCompression == 0 {
			return 0, NewSQLError(CRServerHandshakeErr, SSUnknownSQLState, "server does not support zstd compression")
		}
		capabilities |= CapabilityClientZstdCompression
	default:
		return 0, NewSQLError(CRServerHandshakeErr, SSUnknownSQLState, "unknown compression algorithm %v", params.Compression)
	}

	// Extended capabilities ride in the reserved handshake bytes and
	// are simply intersected.
	c.ExtendedCapabilities &= CapabilityMariaDBStmtBulkOperations | CapabilityMariaDBCacheMetadata

	return capabilities, nil
}

// writeSSLRequest sends the truncated handshake response that asks the
// server to switch the socket to TLS.
func (c *Conn) writeSSLRequest(capabilities uint32, params *ConnParams) error {
	data := c.startEphemeralPacket(4 + 4 + 1 + 23)
	pos := writeUint32(data, 0, capabilities)
	pos = writeUint32(data, pos, 0)
	pos = writeByte(data, pos, params.charsetID())
	writeZeroes(data, pos, 23)
	if err := c.writeEphemeralPacket(); err != nil {
		return err
	}
	return c.flushStream()
}

// writeHandshakeResponse41 sends the full authenticated handshake
// response.
func (c *Conn) writeHandshakeResponse41(capabilities uint32, authPluginName string, authResponse []byte, params *ConnParams) error {
	attrs := connAttrs(params)

	length := 4 + 4 + 1 + 19 + 4 +
		lenNullString(params.Uname) +
		lenEncBytesSize(authResponse) +
		lenNullString(authPluginName) +
		lenEncIntSize(uint64(len(attrs))) + len(attrs)
	if params.DbName != "" {
		length += lenNullString(params.DbName)
	}
	if capabilities&CapabilityClientZstdCompression != 0 {
		length++
	}

	data := c.startEphemeralPacket(length)
	pos := writeUint32(data, 0, capabilities)
	pos = writeUint32(data, pos, 0)
	pos = writeByte(data, pos, params.charsetID())
	pos = writeZeroes(data, pos, 19)
	// MariaDB-lineage extended client capabilities live in the last
	// four filler bytes.
	pos = writeUint32(data, pos, c.ExtendedCapabilities)
	pos = writeNullString(data, pos, params.Uname)
	pos = writeLenEncBytes(data, pos, authResponse)
	if params.DbName != "" {
		pos = writeNullString(data, pos, params.DbName)
	}
	pos = writeNullString(data, pos, authPluginName)
	pos = writeLenEncInt(data, pos, uint64(len(attrs)))
	pos += copy(data[pos:], attrs)
	if capabilities&CapabilityClientZstdCompression != 0 {
		pos = writeByte(data, pos, zstdCompressionLevel)
	}
	_ = pos

	if err := c.writeEphemeralPacket(); err != nil {
		return err
	}
	return c.flushStream()
}

// connAttrs builds the CLIENT_CONNECT_ATTRS payload: the built-in
// attributes plus anything the caller configured.
func connAttrs(params *ConnParams) []byte {
	kv := [][2]string{
		{"_client_name", "tidb-connector"},
		{"_client_version", connectorVersion},
		{"_os", runtime.GOOS},
		{"_platform", runtime.GOARCH},
		{"_pid", pidString()},
		{"_client_instance", clientInstanceID},
	}
	for k, v := range params.ConnAttrs {
		kv = append(kv, [2]string{k, v})
	}

	length := 0
	for _, pair := range kv {
		length += lenEncStringSize(pair[0]) + lenEncStringSize(pair[1])
	}
	data := make([]byte, length)
	pos := 0
	for _, pair := range kv {
		pos = writeLenEncString(data, pos, pair[0])
		pos = writeLenEncString(data, pos, pair[1])
	}
	return data
}

func pidString() string {
	return strconv.Itoa(os.Getpid())
}

// readAuthResult reads the packet that ends authentication: an OK, an
// ERR, or an auth switch request that restarts the dance with another
// plugin.
func (c *Conn) readAuthResult(params *ConnParams, salt []byte) error {
	data, err := c.readEphemeralPacket()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		c.recycleReadPacket()
		return newProtocolError("empty auth result packet")
	}

	switch data[0] {
	case OKPacket:
		_, err := c.parseOKPacket(data)
		c.recycleReadPacket()
		return err
	case ErrPacket:
		serr := ParseErrorPacket(data)
		c.recycleReadPacket()
		return serr
	case EOFPacket:
		// Auth switch request: plugin name then fresh plugin data.
		pluginName, pos, ok := readNullString(data, 1)
		if !ok {
			c.recycleReadPacket()
			return newProtocolError("auth switch request is truncated")
		}
		switchSalt := make([]byte, len(data)-pos)
		copy(switchSalt, data[pos:])
		c.recycleReadPacket()
		if n := len(switchSalt); n > 0 && switchSalt[n-1] == 0 {
			switchSalt = switchSalt[:n-1]
		}

		authResponse, err := authResponse(pluginName, params.Pass, switchSalt)
		if err != nil {
			return err
		}
		if err := c.writeAuthSwitchResponse(authResponse); err != nil {
			return err
		}
		return c.readAuthResult(params, switchSalt)
	default:
		c.recycleReadPacket()
		return newProtocolError("unexpected packet during authentication: %v", data[0])
	}
}

func (c *Conn) writeAuthSwitchResponse(authResponse []byte) error {
	data := c.startEphemeralPacket(len(authResponse))
	copy(data, authResponse)
	if err := c.writeEphemeralPacket(); err != nil {
		return err
	}
	return c.flushStream()
}
