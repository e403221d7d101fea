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
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
)

// Error codes for client-side errors.
// Originally found in include/mysql/errmsg.h
const (
	// CRUnknownError is CR_UNKNOWN_ERROR.
	CRUnknownError = 2000

	// CRConnHostError is CR_CONN_HOST_ERROR.
	// This is returned if a connection via a TCP socket fails.
	CRConnHostError = 2003

	// CRServerGone is CR_SERVER_GONE_ERROR.
	// This is returned if the client tries to send a command on a closed
	// connection.
	CRServerGone = 2006

	// CRVersionError is CR_VERSION_ERROR: the server speaks a protocol
	// this client does not.
	CRVersionError = 2007

	// CRServerHandshakeErr is CR_SERVER_HANDSHAKE_ERR.
	CRServerHandshakeErr = 2012

	// CRServerLost is CR_SERVER_LOST.
	// This is returned if the connection dies mid-exchange. The command may
	// already have been received and executed by the server, so it is only
	// safe to retry if the engine knows the command is replayable.
	CRServerLost = 2013

	// CRCommandsOutOfSync is CR_COMMANDS_OUT_OF_SYNC.
	// Sent when protocol calls are made in the wrong order.
	CRCommandsOutOfSync = 2014

	// CRNamedPipeStateError is CR_NAMEDPIPESETSTATE_ERROR.
	// This is the highest possible number for a connection error.
	CRNamedPipeStateError = 2018

	// CRSSLConnectionError is CR_SSL_CONNECTION_ERROR.
	CRSSLConnectionError = 2026

	// CRMalformedPacket is CR_MALFORMED_PACKET.
	CRMalformedPacket = 2027

	// CRUnsupportedParamType is CR_UNSUPPORTED_PARAM_TYPE. Used for value
	// decode failures: fatal for the current result set, not for the
	// connection.
	CRUnsupportedParamType = 2036

	// CRNetReadTimeout is ER_NET_READ_INTERRUPTED, reused by the client for
	// a socket timeout mid-exchange. The connection is force-closed.
	CRNetReadTimeout = 1159
)

// Error codes for server-side errors.
// Originally found in include/mysql/mysqld_error.h
const (
	// ERAccessDeniedError is ER_ACCESS_DENIED_ERROR.
	ERAccessDeniedError = 1045

	// ERServerShutdown is ER_SERVER_SHUTDOWN.
	ERServerShutdown = 1053

	// ERDupEntry is ER_DUP_ENTRY.
	ERDupEntry = 1062

	// ERUnknownError is ER_UNKNOWN_ERROR.
	ERUnknownError = 1105

	// ERQueryInterrupted is ER_QUERY_INTERRUPTED.
	ERQueryInterrupted = 1317

	// ERLockWaitTimeout is ER_LOCK_WAIT_TIMEOUT.
	ERLockWaitTimeout = 1205

	// ERLockDeadlock is ER_LOCK_DEADLOCK.
	ERLockDeadlock = 1213

	// ERUnknownStmtHandler is ER_UNKNOWN_STMT_HANDLER: the server no
	// longer knows the statement id we sent.
	ERUnknownStmtHandler = 1243

	// ERConnectionKilled is ER_CONNECTION_KILLED.
	ERConnectionKilled = 1927
)

// SQL states for errors.
const (
	// SSUnknownSQLState is the default SQLSTATE, "HY000" (general error).
	SSUnknownSQLState = "HY000"

	// SSNetError is the SQLSTATE for network errors.
	SSNetError = "08S01"

	// SSDupKey is ER_DUP_KEY.
	SSDupKey = "23000"

	// SSAccessDeniedError is ER_ACCESS_DENIED_ERROR.
	SSAccessDeniedError = "28000"

	// SSQueryInterrupted is ER_QUERY_INTERRUPTED.
	SSQueryInterrupted = "70100"

	// SSLockDeadlock is ER_LOCK_DEADLOCK.
	SSLockDeadlock = "40001"
)

// SQLError is the error structure returned for every failure surfaced by
// this package: server errors carry the server's code and SQLSTATE
// unchanged, client-side failures carry a CR* code and wrap the underlying
// cause.
type SQLError struct {
	Num     int
	State   string
	Message string
	Query   string
	cause   error
}

// NewSQLError creates a new SQLError.
// If sqlState is left empty, it will default to "HY000" (general error).
func NewSQLError(number int, sqlState string, format string, args ...any) *SQLError {
	if sqlState == "" {
		sqlState = SSUnknownSQLState
	}
	return &SQLError{
		Num:     number,
		State:   sqlState,
		Message: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (se *SQLError) Error() string {
	buf := &bytes.Buffer{}
	buf.WriteString(se.Message)

	// Add the errno and SQLSTATE in a format that can be parsed back by
	// NewSQLErrorFromError, since errors are flattened to strings at some
	// call boundaries.
	fmt.Fprintf(buf, " (errno %v) (sqlstate %v)", se.Num, se.State)

	if se.Query != "" {
		fmt.Fprintf(buf, " during query: %s", truncateForLog(se.Query))
	}

	return buf.String()
}

// Number returns the internal MySQL error code.
func (se *SQLError) Number() int {
	return se.Num
}

// SQLState returns the SQLSTATE value.
func (se *SQLError) SQLState() string {
	return se.State
}

// Unwrap returns the underlying cause for client-side errors, so callers
// can reach the net.Error with errors.As.
func (se *SQLError) Unwrap() error {
	return se.cause
}

const maxQueryLengthInLogs = 256

func truncateForLog(query string) string {
	if len(query) <= maxQueryLengthInLogs {
		return query
	}
	return query[:maxQueryLengthInLogs] + " [TRUNCATED]"
}

var errExtract = regexp.MustCompile(`.*\(errno ([0-9]*)\) \(sqlstate ([0-9a-zA-Z]{5})\).*`)

// NewSQLErrorFromError returns a *SQLError from the provided error.
// If it's not the right type, it still tries to get it from a regexp.
func NewSQLErrorFromError(err error) error {
	if err == nil {
		return nil
	}

	var serr *SQLError
	if errors.As(err, &serr) {
		return serr
	}

	msg := err.Error()
	match := errExtract.FindStringSubmatch(msg)
	if len(match) < 3 {
		return &SQLError{
			Num:     ERUnknownError,
			State:   SSUnknownSQLState,
			Message: msg,
			cause:   err,
		}
	}

	num, atoiErr := strconv.Atoi(match[1])
	if atoiErr != nil {
		num = ERUnknownError
	}
	return &SQLError{
		Num:     num,
		State:   match[2],
		Message: msg,
		cause:   err,
	}
}

// newConnError wraps a socket-level failure. Timeouts get their own code
// because the caller must treat the session as poisoned either way, but only
// timeouts are reported as such.
func newConnError(err error, desc string) *SQLError {
	num := CRServerLost
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		num = CRNetReadTimeout
	}
	return &SQLError{
		Num:     num,
		State:   SSNetError,
		Message: fmt.Sprintf("%s: %v", desc, err),
		cause:   err,
	}
}

// newProtocolError reports a malformed or unexpected packet. Fatal to the
// connection.
func newProtocolError(format string, args ...any) *SQLError {
	return NewSQLError(CRMalformedPacket, SSNetError, format, args...)
}

// newDecodeError reports an unrecognized type byte or a malformed value in
// a result set. The result set is lost, the connection survives.
func newDecodeError(format string, args ...any) *SQLError {
	return NewSQLError(CRUnsupportedParamType, SSUnknownSQLState, format, args...)
}

// newValidationError reports a local precondition failure (missing bound
// parameter, batch shape mismatch). Raised before any bytes are written, so
// the connection remains usable.
func newValidationError(format string, args ...any) *SQLError {
	return NewSQLError(CRCommandsOutOfSync, SSUnknownSQLState, format, args...)
}

// IsConnErr returns true if the error means the connection is unusable and
// must be closed.
func IsConnErr(err error) bool {
	var serr *SQLError
	if !errors.As(err, &serr) {
		return false
	}
	num := serr.Number()
	if num == CRNetReadTimeout {
		return true
	}
	// CRCommandsOutOfSync is local validation, nothing was sent.
	if num == CRCommandsOutOfSync {
		return false
	}
	// A malformed packet means framing state cannot be trusted anymore.
	if num == CRMalformedPacket {
		return true
	}
	return num >= CRUnknownError && num <= CRNamedPipeStateError
}

// IsTimeout returns true if the error was a read or write timeout.
func IsTimeout(err error) bool {
	var serr *SQLError
	return errors.As(err, &serr) && serr.Number() == CRNetReadTimeout
}

// IsValidationErr reports a local error that was raised before any network
// I/O. The connection is still usable.
func IsValidationErr(err error) bool {
	var serr *SQLError
	return errors.As(err, &serr) && serr.Number() == CRCommandsOutOfSync
}

// Per-row outcome sentinels for batch execution, matching the JDBC
// executeBatch contract.
const (
	// SuccessNoInfo means the server acknowledged the row without an
	// affected-row count (the bulk protocol default).
	SuccessNoInfo int64 = -2

	// ExecuteFailed means the row failed, or its fate is unknown because an
	// earlier row aborted the batch.
	ExecuteFailed int64 = -3
)

// BatchPartialError aggregates per-row outcomes when a batch fails partway.
// Outcomes for rows completed before the failing row are preserved.
type BatchPartialError struct {
	// Outcomes has one entry per parameter set: an affected-row count,
	// SuccessNoInfo, or ExecuteFailed.
	Outcomes []int64
	// Cause is the first server error encountered.
	Cause *SQLError
}

// Error implements the error interface.
func (be *BatchPartialError) Error() string {
	return fmt.Sprintf("batch failed: %v", be.Cause)
}

// Unwrap makes errors.Is/As see the underlying server error.
func (be *BatchPartialError) Unwrap() error {
	return be.Cause
}
