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

// Field describes one column of a result set or one parameter of a
// prepared statement, parsed from a Protocol::ColumnDefinition41 packet.
// Immutable once parsed.
type Field struct {
	Name     string
	Table    string
	OrgTable string
	Database string
	OrgName  string

	// Type is the declared SQL type byte.
	Type FieldType

	// Charset is the column collation id. CharacterSetBinary for blobs and
	// numbers.
	Charset uint16

	// ColumnLength is the declared display length.
	ColumnLength uint32

	// Flags carries NotNullFlag, UnsignedFlag, BinaryFlag, ...
	Flags uint16

	// Decimals is the scale for decimal and temporal types.
	Decimals uint8
}

// IsUnsigned returns true for unsigned integer columns. Decoders must pick
// unsigned decoding based on it, not on the type byte.
func (f *Field) IsUnsigned() bool {
	return f.Flags&UnsignedFlag != 0
}

// IsNullable returns true when the column may hold NULL.
func (f *Field) IsNullable() bool {
	return f.Flags&NotNullFlag == 0
}

// parseColumnDefinition parses the full column definition packet into the
// given Field.
func parseColumnDefinition(data []byte, field *Field, index int) error {
	pos, ok := skipLenEncString(data, 0) // catalog, always "def"
	if !ok {
		return newProtocolError("skipping col %v catalog failed", index)
	}

	field.Database, pos, ok = readLenEncString(data, pos)
	if !ok {
		return newProtocolError("extracting col %v database failed", index)
	}
	field.Table, pos, ok = readLenEncString(data, pos)
	if !ok {
		return newProtocolError("extracting col %v table failed", index)
	}
	field.OrgTable, pos, ok = readLenEncString(data, pos)
	if !ok {
		return newProtocolError("extracting col %v org_table failed", index)
	}
	field.Name, pos, ok = readLenEncString(data, pos)
	if !ok {
		return newProtocolError("extracting col %v name failed", index)
	}
	field.OrgName, pos, ok = readLenEncString(data, pos)
	if !ok {
		return newProtocolError("extracting col %v org_name failed", index)
	}

	// Skip the length of fixed-length fields, always 0x0c.
	pos++

	field.Charset, pos, ok = readUint16(data, pos)
	if !ok {
		return newProtocolError("extracting col %v charset failed", index)
	}
	field.ColumnLength, pos, ok = readUint32(data, pos)
	if !ok {
		return newProtocolError("extracting col %v length failed", index)
	}
	t, pos, ok := readByte(data, pos)
	if !ok {
		return newProtocolError("extracting col %v type failed", index)
	}
	field.Type = FieldType(t)
	field.Flags, pos, ok = readUint16(data, pos)
	if !ok {
		return newProtocolError("extracting col %v flags failed", index)
	}
	field.Decimals, _, ok = readByte(data, pos)
	if !ok {
		return newProtocolError("extracting col %v decimals failed", index)
	}
	return nil
}

// parseColumnDefinitionType parses just the type information of a column
// definition packet, for callers that do not need the names.
func parseColumnDefinitionType(data []byte, field *Field, index int) error {
	// Skip catalog, database, table, org_table, name and org_name.
	pos := 0
	var ok bool
	for i := 0; i < 6; i++ {
		pos, ok = skipLenEncString(data, pos)
		if !ok {
			return newProtocolError("skipping col %v strings failed", index)
		}
	}

	// Skip the filler and the charset/length block before the type.
	pos += 1 + 2 + 4

	t, pos, ok := readByte(data, pos)
	if !ok {
		return newProtocolError("extracting col %v type failed", index)
	}
	field.Type = FieldType(t)
	field.Flags, _, ok = readUint16(data, pos)
	if !ok {
		return newProtocolError("extracting col %v flags failed", index)
	}
	return nil
}
