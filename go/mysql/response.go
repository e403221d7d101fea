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

// This file parses server responses: OK / EOF / ERR packets, result set
// headers, column definitions and rows, and the COM_STMT_PREPARE response.

// isEOFPacket determines whether a data packet is a legacy EOF. The
// length check distinguishes it from a length-encoded integer prefix in
// a row packet.
func isEOFPacket(data []byte) bool {
	return len(data) > 0 && data[0] == EOFPacket && len(data) < 9
}

// parseEOFPacket returns the warning count and status flags of an EOF.
func parseEOFPacket(data []byte) (warnings uint16, statusFlags uint16, err error) {
	warnings, pos, ok := readUint16(data, 1)
	if !ok {
		return 0, 0, newProtocolError("invalid EOF packet warnings: %v", data)
	}
	statusFlags, _, ok = readUint16(data, pos)
	if !ok {
		return 0, 0, newProtocolError("invalid EOF packet status: %v", data)
	}
	return warnings, statusFlags, nil
}

// ParseErrorPacket parses the ERR packet and returns a SQLError.
func ParseErrorPacket(data []byte) *SQLError {
	// Error code is 2 bytes after the header byte.
	code, pos, ok := readUint16(data, 1)
	if !ok {
		return NewSQLError(CRUnknownError, SSUnknownSQLState, "invalid error packet code: %v", data)
	}

	// '#' marker followed by the 5-byte SQLSTATE.
	if pos < len(data) && data[pos] == '#' {
		pos++
		if pos+5 > len(data) {
			return NewSQLError(CRUnknownError, SSUnknownSQLState, "invalid error packet sqlstate: %v", data)
		}
		sqlState := string(data[pos : pos+5])
		pos += 5
		return NewSQLError(int(code), sqlState, "%v", string(data[pos:]))
	}
	return NewSQLError(int(code), SSUnknownSQLState, "%v", string(data[pos:]))
}

// parseOKPacket parses an OK packet and applies its session state to the
// connection: status flags, warning count and session tracking payloads.
func (c *Conn) parseOKPacket(data []byte) (*OK, error) {
	ok := &OK{}
	fail := func(format string, args ...any) (*OK, error) {
		return nil, newProtocolError(format, args...)
	}

	var pos int
	var read bool
	ok.AffectedRows, pos, read = readLenEncInt(data, 1)
	if !read {
		return fail("invalid OK packet affected rows: %v", data)
	}
	ok.InsertID, pos, read = readLenEncInt(data, pos)
	if !read {
		return fail("invalid OK packet insert id: %v", data)
	}
	ok.StatusFlags, pos, read = readUint16(data, pos)
	if !read {
		return fail("invalid OK packet status flags: %v", data)
	}
	ok.Warnings, pos, read = readUint16(data, pos)
	if !read {
		return fail("invalid OK packet warnings: %v", data)
	}

	if c.Capabilities&CapabilityClientSessionTrack != 0 {
		// Info is length encoded when session tracking was negotiated,
		// and may be absent entirely.
		if pos < len(data) {
			ok.Info, pos, read = readLenEncString(data, pos)
			if !read {
				return fail("invalid OK packet info: %v", data)
			}
		}
		if ok.StatusFlags&ServerSessionStateChanged != 0 {
			if err := c.parseSessionStateChanges(data, pos); err != nil {
				return nil, err
			}
		}
	} else {
		ok.Info = string(data[pos:])
	}

	c.applyStatus(ok.StatusFlags, ok.Warnings)
	return ok, nil
}

// parseSessionStateChanges walks the session tracking block of an OK
// packet. Only schema changes affect client-side state; everything else
// is skipped.
func (c *Conn) parseSessionStateChanges(data []byte, pos int) error {
	length, pos, read := readLenEncInt(data, pos)
	if !read {
		return newProtocolError("invalid OK packet session state length: %v", data)
	}
	end := pos + int(length)
	if end > len(data) {
		return newProtocolError("invalid OK packet session state block: %v", data)
	}
	for pos < end {
		trackType, newPos, read := readByte(data, pos)
		if !read {
			return newProtocolError("invalid session state type: %v", data)
		}
		entry, newPos, read := readLenEncStringAsBytes(data, newPos)
		if !read {
			return newProtocolError("invalid session state entry: %v", data)
		}
		if trackType == SessionTrackSchema {
			schema, _, read := readLenEncString(entry, 0)
			if !read {
				return newProtocolError("invalid session track schema: %v", entry)
			}
			c.schemaName = schema
		}
		pos = newPos
	}
	return nil
}

// applyStatus records the post-statement status on the connection.
func (c *Conn) applyStatus(statusFlags uint16, warnings uint16) {
	c.StatusFlags = statusFlags
	c.warnings = warnings
}

// readCompletion reads one server completion for a command: an OK, an
// ERR (returned as a value, the connection stays usable), or a full
// result set. binary selects the row wire format.
func (c *Conn) readCompletion(binary bool) (Completion, error) {
	data, err := c.readEphemeralPacket()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		c.recycleReadPacket()
		return nil, newProtocolError("empty reply packet")
	}

	switch data[0] {
	case OKPacket:
		okp, err := c.parseOKPacket(data)
		c.recycleReadPacket()
		if err != nil {
			return nil, err
		}
		return okp, nil
	case ErrPacket:
		serr := ParseErrorPacket(data)
		c.recycleReadPacket()
		return serr, nil
	case LocalInfilePacket:
		filename := string(data[1:])
		c.recycleReadPacket()
		if err := c.sendLocalInfile(filename); err != nil {
			return nil, err
		}
		return c.readCompletion(binary)
	}

	colCount, _, read := readLenEncInt(data, 0)
	c.recycleReadPacket()
	if !read {
		return nil, newProtocolError("invalid result set header: %v", data)
	}
	return c.readResultSet(int(colCount), binary)
}

// readResultSet reads colCount column definitions and then every row
// until the terminating EOF or error. Rows are fully buffered; the
// protocol does not allow interleaving other commands with a partially
// read result.
func (c *Conn) readResultSet(colCount int, binary bool) (*Result, error) {
	result := &Result{
		Fields: make([]*Field, colCount),
	}
	for i := 0; i < colCount; i++ {
		field := &Field{}
		if err := c.readColumnDefinition(field, i); err != nil {
			return nil, err
		}
		result.Fields[i] = field
	}

	if c.Capabilities&CapabilityClientDeprecateEOF == 0 {
		// Old servers send an EOF between the columns and the rows.
		data, err := c.readEphemeralPacket()
		if err != nil {
			return nil, err
		}
		if !isEOFPacket(data) {
			defer c.recycleReadPacket()
			return nil, newProtocolError("expected EOF after column definitions, got %v", data[0])
		}
		c.recycleReadPacket()
	}

	for {
		data, err := c.ReadPacket()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, newProtocolError("empty row packet")
		}

		if data[0] == EOFPacket && c.Capabilities&CapabilityClientDeprecateEOF != 0 {
			// With CLIENT_DEPRECATE_EOF the terminator is an OK packet
			// wearing the 0xfe header, whatever its length.
			okp, err := c.parseOKPacket(data)
			if err != nil {
				return nil, err
			}
			result.Warnings = okp.Warnings
			result.StatusFlags = okp.StatusFlags
			return result, nil
		}
		if isEOFPacket(data) {
			warnings, statusFlags, err := parseEOFPacket(data)
			if err != nil {
				return nil, err
			}
			result.Warnings = warnings
			result.StatusFlags = statusFlags
			c.applyStatus(statusFlags, warnings)
			return result, nil
		}
		if data[0] == ErrPacket {
			return nil, ParseErrorPacket(data)
		}

		var row []Value
		if binary {
			row, err = parseBinaryRow(data, result.Fields)
		} else {
			row, err = parseTextRow(data, result.Fields)
		}
		if err != nil {
			// A decode error poisons the result set but not the
			// connection; drain the remaining rows first.
			if derr := c.drainRows(); derr != nil {
				return nil, derr
			}
			return nil, err
		}
		result.Rows = append(result.Rows, row)
	}
}

// readColumnDefinition reads one column definition packet into field.
func (c *Conn) readColumnDefinition(field *Field, index int) error {
	data, err := c.readEphemeralPacket()
	if err != nil {
		return err
	}
	defer c.recycleReadPacket()
	return parseColumnDefinition(data, field, index)
}

// readColumnDefinitionType reads one column definition packet keeping
// only the type information. Used for parameter definitions, whose
// names are placeholders anyway.
func (c *Conn) readColumnDefinitionType(field *Field, index int) error {
	data, err := c.readEphemeralPacket()
	if err != nil {
		return err
	}
	defer c.recycleReadPacket()
	return parseColumnDefinitionType(data, field, index)
}

// drainRows reads and discards packets until the current result set
// terminator, leaving the connection in sync.
func (c *Conn) drainRows() error {
	for {
		data, err := c.readEphemeralPacket()
		if err != nil {
			return err
		}
		if len(data) > 0 && data[0] == EOFPacket && c.Capabilities&CapabilityClientDeprecateEOF != 0 {
			_, err := c.parseOKPacket(data)
			c.recycleReadPacket()
			return err
		}
		if isEOFPacket(data) {
			_, statusFlags, err := parseEOFPacket(data)
			c.recycleReadPacket()
			if err != nil {
				return err
			}
			c.StatusFlags = statusFlags
			return nil
		}
		if len(data) > 0 && data[0] == ErrPacket {
			serr := ParseErrorPacket(data)
			c.recycleReadPacket()
			return serr
		}
		c.recycleReadPacket()
	}
}

// readPrepareResponse reads the COM_STMT_PREPARE response: the prepare
// OK packet, then parameter and column definitions.
func (c *Conn) readPrepareResponse(sql string) (*PrepareData, error) {
	data, err := c.readEphemeralPacket()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		c.recycleReadPacket()
		return nil, newProtocolError("empty prepare response packet")
	}

	if data[0] == ErrPacket {
		serr := ParseErrorPacket(data)
		c.recycleReadPacket()
		serr.Query = truncateForLog(sql)
		return nil, serr
	}
	if data[0] != OKPacket {
		defer c.recycleReadPacket()
		return nil, newProtocolError("unexpected prepare response header: %v", data[0])
	}

	prepare := &PrepareData{PrepareStmt: sql}
	pos := 1
	var read bool
	prepare.StatementID, pos, read = readUint32(data, pos)
	if !read {
		defer c.recycleReadPacket()
		return nil, newProtocolError("invalid prepare statement id: %v", data)
	}
	prepare.ColumnCount, pos, read = readUint16(data, pos)
	if !read {
		defer c.recycleReadPacket()
		return nil, newProtocolError("invalid prepare column count: %v", data)
	}
	prepare.ParamsCount, pos, read = readUint16(data, pos)
	if !read {
		defer c.recycleReadPacket()
		return nil, newProtocolError("invalid prepare param count: %v", data)
	}
	// One filler byte, then the warning count.
	pos++
	if warnings, _, ok := readUint16(data, pos); ok {
		c.warnings = warnings
	}
	c.recycleReadPacket()

	if prepare.ParamsCount > 0 {
		prepare.ParamFields = make([]*Field, prepare.ParamsCount)
		for i := 0; i < int(prepare.ParamsCount); i++ {
			field := &Field{}
			if err := c.readColumnDefinitionType(field, i); err != nil {
				return nil, err
			}
			prepare.ParamFields[i] = field
		}
		if err := c.skipIntermediateEOF(); err != nil {
			return nil, err
		}
	}
	if prepare.ColumnCount > 0 {
		prepare.ColumnFields = make([]*Field, prepare.ColumnCount)
		for i := 0; i < int(prepare.ColumnCount); i++ {
			field := &Field{}
			if err := c.readColumnDefinition(field, i); err != nil {
				return nil, err
			}
			prepare.ColumnFields[i] = field
		}
		if err := c.skipIntermediateEOF(); err != nil {
			return nil, err
		}
	}
	return prepare, nil
}

// skipIntermediateEOF consumes the EOF separator old servers send after
// definition blocks.
func (c *Conn) skipIntermediateEOF() error {
	if c.Capabilities&CapabilityClientDeprecateEOF != 0 {
		return nil
	}
	data, err := c.readEphemeralPacket()
	if err != nil {
		return err
	}
	eof := isEOFPacket(data)
	c.recycleReadPacket()
	if !eof {
		return newProtocolError("expected EOF after definitions")
	}
	return nil
}
