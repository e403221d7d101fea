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
	"strings"
)

// This file implements the text protocol side of the value codec: encoding
// values as escaped SQL literals for interpolated queries, and decoding
// text-protocol result rows.

// encodeTextValue renders the value as a SQL literal fragment, with all
// quoting and escaping applied.
func encodeTextValue(buf *strings.Builder, v Value) {
	switch {
	case v.null:
		buf.WriteString("NULL")
	case v.typ.IsNum():
		// Numbers go inline without quotes.
		buf.Write(v.val)
	case v.typ == TypeDouble || v.typ == TypeFloat:
		buf.Write(v.val)
	default:
		writeEscapedString(buf, v.val)
	}
}

// writeEscapedString writes a quoted, escaped string literal. Backslash,
// both quote characters, NUL and the control bytes MySQL cares about are
// escaped; everything else passes through.
func writeEscapedString(buf *strings.Builder, val []byte) {
	buf.WriteByte('\'')
	for _, ch := range val {
		switch ch {
		case 0x00:
			buf.WriteString(`\0`)
		case '\'':
			buf.WriteString(`\'`)
		case '"':
			buf.WriteString(`\"`)
		case '\b':
			buf.WriteString(`\b`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case 0x1a: // ctrl-Z, ends the statement for some tools
			buf.WriteString(`\Z`)
		case '\\':
			buf.WriteString(`\\`)
		default:
			buf.WriteByte(ch)
		}
	}
	buf.WriteByte('\'')
}

// interpolateQuery substitutes '?' placeholders with escaped literal
// values. Placeholders inside quoted strings or comments are not
// recognized; the statement layer hands us pre-parsed SQL.
func interpolateQuery(query string, binds []Value) (string, error) {
	if len(binds) == 0 {
		return query, nil
	}
	var buf strings.Builder
	buf.Grow(len(query) + 32*len(binds))

	arg := 0
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch != '?' {
			buf.WriteByte(ch)
			continue
		}
		if arg >= len(binds) {
			return "", newValidationError("query has more placeholders than the %v bound parameters", len(binds))
		}
		encodeTextValue(&buf, binds[arg])
		arg++
	}
	if arg != len(binds) {
		return "", newValidationError("query has %v placeholders but %v parameters are bound", arg, len(binds))
	}
	return buf.String(), nil
}

// parseTextRow decodes one text-protocol row packet into values typed
// according to the column definitions. The NULL sentinel byte 0xfb marks a
// NULL column; everything else is a length-encoded string.
func parseTextRow(data []byte, fields []*Field) ([]Value, error) {
	row := make([]Value, len(fields))
	pos := 0
	for i, field := range fields {
		if pos >= len(data) {
			return nil, newProtocolError("text row too short for %v columns", len(fields))
		}
		if data[pos] == NullValue {
			pos++
			row[i] = Value{typ: field.Type, null: true}
			continue
		}
		val, newPos, ok := readLenEncStringAsBytesCopy(data, pos)
		if !ok {
			return nil, newProtocolError("decoding text value for column %v failed", field.Name)
		}
		pos = newPos
		row[i] = Value{typ: field.Type, unsigned: field.IsUnsigned(), val: val}
	}
	return row, nil
}
