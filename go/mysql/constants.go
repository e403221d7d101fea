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

const (
	// MaxPacketSize is the maximum payload length of a packet the server
	// supports. Larger payloads are split into continuation packets.
	MaxPacketSize = (1 << 24) - 1

	// protocolVersion is the current version of the protocol. Always 10.
	protocolVersion = 10

	// connectorVersion is reported to the server in the connection
	// attributes.
	connectorVersion = "1.0.0"
)

// Supported auth forms.
const (
	// MysqlNativePassword uses a salt and transmits a SHA1 hash on the wire.
	MysqlNativePassword = "mysql_native_password"

	// MysqlClearPassword transmits the password in the clear.
	MysqlClearPassword = "mysql_clear_password"
)

// Capability flags.
// Originally found in include/mysql/mysql_com.h
const (
	// CapabilityClientLongPassword is CLIENT_LONG_PASSWORD.
	// New more secure passwords. Assumed to be set since 4.1.1.
	CapabilityClientLongPassword = 1

	// CapabilityClientFoundRows is CLIENT_FOUND_ROWS.
	// Return the number of found (matched) rows, not changed rows.
	CapabilityClientFoundRows = 1 << 1

	// CapabilityClientLongFlag is CLIENT_LONG_FLAG.
	// Longer flags in Protocol::ColumnDefinition320.
	// Set it everywhere, not used, as we use Protocol::ColumnDefinition41.
	CapabilityClientLongFlag = 1 << 2

	// CapabilityClientConnectWithDB is CLIENT_CONNECT_WITH_DB.
	// One can specify db on connect.
	CapabilityClientConnectWithDB = 1 << 3

	// CapabilityClientCompress is CLIENT_COMPRESS.
	// zlib compressed packet framing below the packet layer.
	CapabilityClientCompress = 1 << 5

	// CapabilityClientLocalFiles is CLIENT_LOCAL_FILES.
	// Client can answer a LOCAL INFILE request of LOAD DATA.
	CapabilityClientLocalFiles = 1 << 7

	// CapabilityClientProtocol41 is CLIENT_PROTOCOL_41.
	// New 4.1 protocol. Enforced everywhere.
	CapabilityClientProtocol41 = 1 << 9

	// CapabilityClientSSL is CLIENT_SSL.
	// Switch to SSL after the initial handshake packet.
	CapabilityClientSSL = 1 << 11

	// CapabilityClientTransactions is CLIENT_TRANSACTIONS.
	// Can send status flags in EOF_Packet.
	CapabilityClientTransactions = 1 << 13

	// CapabilityClientSecureConnection is CLIENT_SECURE_CONNECTION.
	// New 4.1 authentication. Always set, expected, never checked.
	CapabilityClientSecureConnection = 1 << 15

	// CapabilityClientMultiStatements is CLIENT_MULTI_STATEMENTS.
	// Can handle multiple statements per COM_QUERY and COM_STMT_PREPARE.
	CapabilityClientMultiStatements = 1 << 16

	// CapabilityClientMultiResults is CLIENT_MULTI_RESULTS.
	// Can send multiple resultsets for COM_QUERY.
	CapabilityClientMultiResults = 1 << 17

	// CapabilityClientPluginAuth is CLIENT_PLUGIN_AUTH.
	// Client supports plugin authentication.
	CapabilityClientPluginAuth = 1 << 19

	// CapabilityClientConnectAttrs is CLIENT_CONNECT_ATTRS.
	// Permits connection attributes in Protocol::HandshakeResponse41.
	CapabilityClientConnectAttrs = 1 << 20

	// CapabilityClientPluginAuthLenencClientData is
	// CLIENT_PLUGIN_AUTH_LENENC_CLIENT_DATA.
	CapabilityClientPluginAuthLenencClientData = 1 << 21

	// CapabilityClientSessionTrack is CLIENT_SESSION_TRACK.
	// The server may send session-state change data after an OK packet.
	CapabilityClientSessionTrack = 1 << 23

	// CapabilityClientDeprecateEOF is CLIENT_DEPRECATE_EOF.
	// Expects an OK (instead of EOF) after the resultset rows of a Text
	// Resultset.
	CapabilityClientDeprecateEOF = 1 << 24

	// CapabilityClientZstdCompression is CLIENT_ZSTD_COMPRESSION_ALGORITHM.
	// zstd compressed packet framing below the packet layer.
	CapabilityClientZstdCompression = 1 << 26
)

// Extended capability flags, negotiated through the reserved tail of the
// initial handshake packet by MariaDB-lineage servers. TiDB advertises the
// bulk operation bit starting with v7.
const (
	// CapabilityMariaDBStmtBulkOperations is MARIADB_CLIENT_STMT_BULK_OPERATIONS:
	// support for COM_STMT_BULK_EXECUTE.
	CapabilityMariaDBStmtBulkOperations uint32 = 1 << 2

	// CapabilityMariaDBExtendedMetadata is MARIADB_CLIENT_EXTENDED_METADATA.
	CapabilityMariaDBExtendedMetadata uint32 = 1 << 3

	// CapabilityMariaDBCacheMetadata is MARIADB_CLIENT_CACHE_METADATA:
	// permits skipping column definitions on execute when cached.
	CapabilityMariaDBCacheMetadata uint32 = 1 << 4
)

// Packet types.
// Originally found in include/mysql/mysql_com.h
const (
	// ComQuit is COM_QUIT.
	ComQuit = 0x01

	// ComInitDB is COM_INIT_DB.
	ComInitDB = 0x02

	// ComQuery is COM_QUERY.
	ComQuery = 0x03

	// ComPing is COM_PING.
	ComPing = 0x0e

	// ComStmtPrepare is COM_STMT_PREPARE.
	ComStmtPrepare = 0x16

	// ComStmtExecute is COM_STMT_EXECUTE.
	ComStmtExecute = 0x17

	// ComStmtSendLongData is COM_STMT_SEND_LONG_DATA.
	ComStmtSendLongData = 0x18

	// ComStmtClose is COM_STMT_CLOSE. Fire-and-forget, no reply.
	ComStmtClose = 0x19

	// ComStmtReset is COM_STMT_RESET.
	ComStmtReset = 0x1a

	// ComSetOption is COM_SET_OPTION.
	ComSetOption = 0x1b

	// ComResetConnection is COM_RESET_CONNECTION.
	ComResetConnection = 0x1f

	// ComStmtBulkExecute is MariaDB's COM_STMT_BULK_EXECUTE.
	ComStmtBulkExecute = 0xfa

	// OKPacket is the header of the OK packet.
	OKPacket = 0x00

	// LocalInfilePacket is the header of the local infile request packet.
	LocalInfilePacket = 0xfb

	// EOFPacket is the header of the EOF packet.
	EOFPacket = 0xfe

	// ErrPacket is the header of the error packet.
	ErrPacket = 0xff

	// NullValue is the encoded value of NULL in the text protocol.
	NullValue = 0xfb
)

// Bulk execute flags and per-value indicator bytes for COM_STMT_BULK_EXECUTE.
const (
	// BulkSendTypesToServer tells the server the frame carries the
	// parameter type header.
	BulkSendTypesToServer = 128

	// BulkIndicatorNone precedes a regular bound value.
	BulkIndicatorNone = 0

	// BulkIndicatorNull marks a NULL value, no bytes follow.
	BulkIndicatorNull = 1

	// BulkIndicatorDefault asks the server to apply the column default.
	BulkIndicatorDefault = 2
)

// Status flags. They are returned by the server in a few cases.
// Originally found in include/mysql/mysql_com.h
// See http://dev.mysql.com/doc/internals/en/status-flags.html
const (
	// ServerStatusInTrans is SERVER_STATUS_IN_TRANS.
	ServerStatusInTrans = 0x0001

	// ServerStatusAutocommit is SERVER_STATUS_AUTOCOMMIT.
	ServerStatusAutocommit = 0x0002

	// ServerMoreResultsExists is SERVER_MORE_RESULTS_EXISTS.
	ServerMoreResultsExists = 0x0008

	// ServerStatusCursorExists is SERVER_STATUS_CURSOR_EXISTS.
	ServerStatusCursorExists = 0x0040

	// ServerStatusLastRowSent is SERVER_STATUS_LAST_ROW_SENT.
	ServerStatusLastRowSent = 0x0080

	// ServerSessionStateChanged is SERVER_SESSION_STATE_CHANGED.
	ServerSessionStateChanged = 0x4000
)

// State flags mark session properties changed since connect (or since the
// last reset). ResetSession only restores the dirty ones.
const (
	// StateNetworkTimeout marks a changed socket timeout.
	StateNetworkTimeout uint8 = 1 << 0

	// StateDatabase marks a changed default database.
	StateDatabase uint8 = 1 << 1

	// StateReadOnly marks a changed read-only flag.
	StateReadOnly uint8 = 1 << 2

	// StateAutocommit marks a changed autocommit flag.
	StateAutocommit uint8 = 1 << 3

	// StateTransactionIsolation marks a changed isolation level.
	StateTransactionIsolation uint8 = 1 << 4
)

// Session-track types sent after an OK packet when CLIENT_SESSION_TRACK is on.
const (
	// SessionTrackSystemVariables is SESSION_TRACK_SYSTEM_VARIABLES.
	SessionTrackSystemVariables = 0x00

	// SessionTrackSchema is SESSION_TRACK_SCHEMA.
	SessionTrackSchema = 0x01

	// SessionTrackStateChange is SESSION_TRACK_STATE_CHANGE.
	SessionTrackStateChange = 0x02
)

// FieldType is the type byte of a column definition, also used to tag bound
// parameter values in the binary protocol.
type FieldType uint8

// Field types.
// Originally found in include/mysql/mysql_com.h (enum_field_types).
const (
	TypeDecimal    FieldType = 0
	TypeTiny       FieldType = 1
	TypeShort      FieldType = 2
	TypeLong       FieldType = 3
	TypeFloat      FieldType = 4
	TypeDouble     FieldType = 5
	TypeNull       FieldType = 6
	TypeTimestamp  FieldType = 7
	TypeLongLong   FieldType = 8
	TypeInt24      FieldType = 9
	TypeDate       FieldType = 10
	TypeTime       FieldType = 11
	TypeDatetime   FieldType = 12
	TypeYear       FieldType = 13
	TypeVarchar    FieldType = 15
	TypeBit        FieldType = 16
	TypeJSON       FieldType = 245
	TypeNewDecimal FieldType = 246
	TypeTinyBlob   FieldType = 249
	TypeMediumBlob FieldType = 250
	TypeLongBlob   FieldType = 251
	TypeBlob       FieldType = 252
	TypeVarString  FieldType = 253
	TypeString     FieldType = 254
	TypeGeometry   FieldType = 255
)

// Column definition flags.
const (
	// NotNullFlag is NOT_NULL_FLAG.
	NotNullFlag = 1

	// PriKeyFlag is PRI_KEY_FLAG.
	PriKeyFlag = 1 << 1

	// UnsignedFlag is UNSIGNED_FLAG.
	UnsignedFlag = 1 << 5

	// BinaryFlag is BINARY_FLAG.
	BinaryFlag = 1 << 7
)

// A few interesting character set values.
// See http://dev.mysql.com/doc/internals/en/character-set.html
const (
	// CharacterSetUtf8mb4 is the modern default.
	CharacterSetUtf8mb4 = 45

	// CharacterSetUtf8 is the legacy 3-byte utf8.
	CharacterSetUtf8 = 33

	// CharacterSetBinary is for binary. Used by blob and integer fields.
	CharacterSetBinary = 63
)

// CharacterSetMap maps the charset name (used in ConnParams) to the
// integer value. Interesting ones have their own constant above.
var CharacterSetMap = map[string]uint8{
	"big5":    1,
	"latin1":  8,
	"latin2":  9,
	"ascii":   11,
	"sjis":    13,
	"hebrew":  16,
	"tis620":  18,
	"euckr":   19,
	"gb2312":  24,
	"greek":   25,
	"cp1250":  26,
	"gbk":     28,
	"latin5":  30,
	"utf8":    CharacterSetUtf8,
	"ucs2":    35,
	"cp866":   36,
	"utf8mb4": CharacterSetUtf8mb4,
	"cp1251":  51,
	"utf16":   54,
	"cp1256":  57,
	"cp1257":  59,
	"utf32":   60,
	"binary":  CharacterSetBinary,
	"cp932":   95,
	"eucjpms": 97,
}

// IsNum returns true if a field type holds a numeric value.
func (t FieldType) IsNum() bool {
	return (t <= TypeInt24 && t != TypeTimestamp) || t == TypeYear || t == TypeNewDecimal
}

// IsTemporal returns true for the date/time family.
func (t FieldType) IsTemporal() bool {
	switch t {
	case TypeTimestamp, TypeDate, TypeTime, TypeDatetime:
		return true
	}
	return false
}
