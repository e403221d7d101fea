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
	"net"
	"strconv"
	"time"
)

// ConnParams contains all the parameters to use to connect to the server.
// It is validated by the configuration layer; this package consumes it
// as-is.
type ConnParams struct {
	Host       string
	Port       int
	UnixSocket string
	Uname      string
	Pass       string
	DbName     string
	Charset    string

	// Flags are extra client capability flags to advertise, e.g.
	// CapabilityClientFoundRows.
	Flags uint32

	// ConnectTimeout bounds the TCP dial plus the handshake.
	ConnectTimeout time.Duration

	// SocketTimeout bounds every socket read and write once connected.
	// Exceeding it force-closes the connection.
	SocketTimeout time.Duration

	// TLSConfig, when set, upgrades the socket after the initial handshake
	// packet (CLIENT_SSL). Building the config (CA, client certs,
	// verification mode) is the TLS collaborator's concern.
	TLSConfig *tls.Config

	// Compression enables the compressed packet framing.
	Compression CompressionAlgorithm

	// UseBulkStmts permits COM_STMT_BULK_EXECUTE for batches when the
	// server advertises the capability.
	UseBulkStmts bool

	// UseResetConnection permits COM_RESET_CONNECTION in ResetSession on
	// servers that support it. Off, the reset falls back to replaying
	// session defaults statement by statement.
	UseResetConnection bool

	// DisablePipeline forces one-at-a-time exchanges for batches instead
	// of write-all-then-read-all pipelining.
	DisablePipeline bool

	// PrepStmtCacheSize bounds the per-connection prepared statement
	// cache. Zero disables caching.
	PrepStmtCacheSize int

	// AllowLocalInfile permits answering server LOCAL INFILE requests.
	AllowLocalInfile bool

	// InfileProvider opens the stream for a LOCAL INFILE request. Required
	// when AllowLocalInfile is set.
	InfileProvider InfileProvider

	// InfilePolicy, when set, is consulted with the requested filename
	// before InfileProvider is invoked. Returning false denies the
	// request. A nil policy allows any name the provider accepts.
	InfilePolicy func(filename string) bool

	// AutoRetry allows Execute to transparently replay a replayable
	// command batch on a freshly established connection after a
	// connection error.
	AutoRetry bool

	// ReadOnly and IsolationLevel are the configured session defaults,
	// restored by ResetSession when marked dirty.
	ReadOnly       bool
	IsolationLevel string

	// Handshaker performs authentication on a new socket. Left nil, the
	// built-in native-password handshake is used.
	Handshaker Handshaker

	// ConnAttrs are extra connection attributes reported to the server
	// (CLIENT_CONNECT_ATTRS) on top of the built-in ones.
	ConnAttrs map[string]string

	// Dialer overrides net.DialTimeout, mostly for tests and for failover
	// layers that supply their own candidate endpoints.
	Dialer func(network, addr string, timeout time.Duration) (net.Conn, error)
}

// address returns the dial network and address.
func (cp *ConnParams) address() (string, string) {
	if cp.UnixSocket != "" {
		return "unix", cp.UnixSocket
	}
	return "tcp", net.JoinHostPort(cp.Host, strconv.Itoa(cp.Port))
}

// charsetID resolves the configured charset name, defaulting to utf8mb4.
func (cp *ConnParams) charsetID() uint8 {
	if cp.Charset == "" {
		return CharacterSetUtf8mb4
	}
	if id, ok := CharacterSetMap[cp.Charset]; ok {
		return id
	}
	return CharacterSetUtf8mb4
}
