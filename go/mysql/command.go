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
	"io"
)

// ClientMessage is one client-to-server command. Implementations write
// their own packet(s) and report how many server completions to expect,
// so the pipeline layer can interleave writes and reads. The set of
// implementations is closed; use the NewXxxMessage constructors.
type ClientMessage interface {
	// writeTo encodes the command onto the connection. The caller owns
	// sequence reset and flushing.
	writeTo(c *Conn) error

	// expectedReplies is the number of completions the server will send
	// back for this message. Zero means fire-and-forget.
	expectedReplies() int

	// ensureReplayable makes the message safe to write a second time,
	// buffering any streamed parameter. It returns an error when the
	// message consumed a stream that cannot be replayed.
	ensureReplayable() error

	// description is a short form used in error and log messages.
	description() string
}

// longDataChunkSize is the payload size for COM_STMT_SEND_LONG_DATA chunks.
const longDataChunkSize = 1 << 20

// NewQueryMessage builds a COM_QUERY message. When binds is non-empty
// the values are interpolated into the statement text client side, one
// per '?' placeholder.
func NewQueryMessage(sql string, binds ...Value) ClientMessage {
	if len(binds) == 0 {
		return &queryMessage{sql: sql}
	}
	return &queryMessage{sql: sql, params: binds}
}

// NewExecuteMessage builds a COM_STMT_EXECUTE message for a prepared
// statement handle.
func NewExecuteMessage(stmt *Stmt, params ...Value) ClientMessage {
	return &executeMessage{stmt: stmt.prepare, params: params}
}

// NewPingMessage builds a COM_PING message.
func NewPingMessage() ClientMessage { return pingMessage{} }

//
// COM_QUERY
//

type queryMessage struct {
	sql string

	// params, when non-nil, are interpolated into the sql text client
	// side before sending. Used for text-protocol parameterized queries.
	params []Value
}

func (m *queryMessage) writeTo(c *Conn) error {
	sql := m.sql
	if m.params != nil {
		var err error
		sql, err = interpolateQuery(m.sql, m.params)
		if err != nil {
			return err
		}
	}
	data := c.startEphemeralPacket(1 + len(sql))
	data[0] = ComQuery
	copy(data[1:], sql)
	return c.writeEphemeralPacket()
}

func (m *queryMessage) expectedReplies() int { return 1 }

func (m *queryMessage) ensureReplayable() error {
	for i := range m.params {
		if err := m.params[i].buffer(); err != nil {
			return err
		}
	}
	return nil
}

func (m *queryMessage) description() string { return truncateForLog(m.sql) }

//
// COM_STMT_PREPARE
//

type prepareMessage struct {
	sql string
}

func (m *prepareMessage) writeTo(c *Conn) error {
	data := c.startEphemeralPacket(1 + len(m.sql))
	data[0] = ComStmtPrepare
	copy(data[1:], m.sql)
	return c.writeEphemeralPacket()
}

func (m *prepareMessage) expectedReplies() int { return 1 }

func (m *prepareMessage) ensureReplayable() error { return nil }

func (m *prepareMessage) description() string { return truncateForLog(m.sql) }

//
// COM_STMT_EXECUTE (with COM_STMT_SEND_LONG_DATA for streamed params)
//

type executeMessage struct {
	stmt   *PrepareData
	params []Value
}

func (m *executeMessage) validate() error {
	if len(m.params) != int(m.stmt.ParamsCount) {
		return newValidationError("execute expects %v parameters, got %v for %v",
			m.stmt.ParamsCount, len(m.params), truncateForLog(m.stmt.PrepareStmt))
	}
	return nil
}

func (m *executeMessage) writeTo(c *Conn) error {
	if err := m.validate(); err != nil {
		return err
	}

	// Streamed parameters go out first, chunked, with no server reply.
	for i := range m.params {
		if m.params[i].isStream() {
			if err := m.writeLongData(c, uint16(i), m.params[i].stream); err != nil {
				return err
			}
		}
	}

	length := 1 + 4 + 1 + 4
	paramCount := len(m.params)
	if paramCount > 0 {
		length += (paramCount+7)/8 + 1 + 2*paramCount
		for i := range m.params {
			if m.params[i].isStream() {
				continue
			}
			size, err := binaryValueSize(m.params[i])
			if err != nil {
				return err
			}
			length += size
		}
	}

	data := c.startEphemeralPacket(length)
	pos := writeByte(data, 0, ComStmtExecute)
	pos = writeUint32(data, pos, m.stmt.StatementID)
	pos = writeByte(data, pos, 0) // no cursor
	pos = writeUint32(data, pos, 1)

	if paramCount > 0 {
		bitmapPos := pos
		pos = writeZeroes(data, pos, (paramCount+7)/8)
		for i := range m.params {
			if m.params[i].null {
				data[bitmapPos+i/8] |= 1 << (uint(i) & 7)
			}
		}
		pos = writeByte(data, pos, 1) // new-params-bound
		for i := range m.params {
			typ, flags := binaryTypeTag(m.params[i])
			pos = writeByte(data, pos, byte(typ))
			pos = writeByte(data, pos, flags)
		}
		for i := range m.params {
			if m.params[i].isStream() {
				continue
			}
			var err error
			pos, err = writeBinaryValue(data, pos, m.params[i])
			if err != nil {
				c.recycleWritePacket()
				return err
			}
		}
	}
	_ = pos
	return c.writeEphemeralPacket()
}

// writeLongData sends one streamed parameter as a sequence of
// COM_STMT_SEND_LONG_DATA packets. The server acknowledges nothing.
func (m *executeMessage) writeLongData(c *Conn, paramID uint16, r io.Reader) error {
	chunk := make([]byte, longDataChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			data := c.startEphemeralPacket(1 + 4 + 2 + n)
			pos := writeByte(data, 0, ComStmtSendLongData)
			pos = writeUint32(data, pos, m.stmt.StatementID)
			pos = writeUint16(data, pos, paramID)
			copy(data[pos:], chunk[:n])
			if werr := c.writeEphemeralPacket(); werr != nil {
				return werr
			}
			// Each long data command is its own packet sequence.
			c.resetSequence()
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return newConnError(err, "reading long data parameter")
		}
	}
}

func (m *executeMessage) expectedReplies() int { return 1 }

func (m *executeMessage) ensureReplayable() error {
	for i := range m.params {
		if err := m.params[i].buffer(); err != nil {
			return err
		}
	}
	return nil
}

func (m *executeMessage) description() string { return truncateForLog(m.stmt.PrepareStmt) }

//
// COM_STMT_BULK_EXECUTE (MariaDB-lineage, supported by TiDB)
//

type bulkExecuteMessage struct {
	stmt *PrepareData
	rows [][]Value
}

func (m *bulkExecuteMessage) validate() error {
	paramCount := int(m.stmt.ParamsCount)
	for _, row := range m.rows {
		if len(row) != paramCount {
			return newValidationError("bulk execute expects %v parameters, got %v for %v",
				paramCount, len(row), truncateForLog(m.stmt.PrepareStmt))
		}
	}
	return nil
}

func (m *bulkExecuteMessage) writeTo(c *Conn) error {
	if err := m.validate(); err != nil {
		return err
	}

	paramCount := int(m.stmt.ParamsCount)
	length := 1 + 4 + 2 + 2*paramCount
	for _, row := range m.rows {
		for i := range row {
			length++ // indicator
			if row[i].null {
				continue
			}
			size, err := binaryValueSize(row[i])
			if err != nil {
				return err
			}
			length += size
		}
	}

	data := c.startEphemeralPacket(length)
	pos := writeByte(data, 0, ComStmtBulkExecute)
	pos = writeUint32(data, pos, m.stmt.StatementID)
	pos = writeUint16(data, pos, BulkSendTypesToServer)
	if len(m.rows) > 0 {
		for i := range m.rows[0] {
			typ, flags := binaryTypeTag(m.rows[0][i])
			pos = writeByte(data, pos, byte(typ))
			pos = writeByte(data, pos, flags)
		}
	}
	for _, row := range m.rows {
		for i := range row {
			if row[i].null {
				pos = writeByte(data, pos, BulkIndicatorNull)
				continue
			}
			pos = writeByte(data, pos, BulkIndicatorNone)
			var err error
			pos, err = writeBinaryValue(data, pos, row[i])
			if err != nil {
				c.recycleWritePacket()
				return err
			}
		}
	}
	_ = pos
	return c.writeEphemeralPacket()
}

func (m *bulkExecuteMessage) expectedReplies() int { return 1 }

func (m *bulkExecuteMessage) ensureReplayable() error {
	for _, row := range m.rows {
		for i := range row {
			if err := row[i].buffer(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *bulkExecuteMessage) description() string { return truncateForLog(m.stmt.PrepareStmt) }

//
// Single-byte commands.
//

type pingMessage struct{}

func (pingMessage) writeTo(c *Conn) error {
	data := c.startEphemeralPacket(1)
	data[0] = ComPing
	return c.writeEphemeralPacket()
}

func (pingMessage) expectedReplies() int    { return 1 }
func (pingMessage) ensureReplayable() error { return nil }
func (pingMessage) description() string     { return "PING" }

type resetMessage struct{}

func (resetMessage) writeTo(c *Conn) error {
	data := c.startEphemeralPacket(1)
	data[0] = ComResetConnection
	return c.writeEphemeralPacket()
}

func (resetMessage) expectedReplies() int    { return 1 }
func (resetMessage) ensureReplayable() error { return nil }
func (resetMessage) description() string     { return "RESET CONNECTION" }

type quitMessage struct{}

func (quitMessage) writeTo(c *Conn) error {
	data := c.startEphemeralPacket(1)
	data[0] = ComQuit
	return c.writeEphemeralPacket()
}

func (quitMessage) expectedReplies() int    { return 0 }
func (quitMessage) ensureReplayable() error { return nil }
func (quitMessage) description() string     { return "QUIT" }

//
// COM_INIT_DB
//

type initDBMessage struct {
	db string
}

func (m *initDBMessage) writeTo(c *Conn) error {
	data := c.startEphemeralPacket(1 + len(m.db))
	data[0] = ComInitDB
	copy(data[1:], m.db)
	return c.writeEphemeralPacket()
}

func (m *initDBMessage) expectedReplies() int    { return 1 }
func (m *initDBMessage) ensureReplayable() error { return nil }
func (m *initDBMessage) description() string     { return "USE " + m.db }

//
// COM_STMT_CLOSE
//

type closeStmtMessage struct {
	statementID uint32
}

func (m *closeStmtMessage) writeTo(c *Conn) error {
	data := c.startEphemeralPacket(1 + 4)
	pos := writeByte(data, 0, ComStmtClose)
	writeUint32(data, pos, m.statementID)
	return c.writeEphemeralPacket()
}

func (m *closeStmtMessage) expectedReplies() int    { return 0 }
func (m *closeStmtMessage) ensureReplayable() error { return nil }
func (m *closeStmtMessage) description() string     { return "DEALLOCATE PREPARE" }
