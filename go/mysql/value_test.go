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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueConversions(t *testing.T) {
	v := NewInt64(-42)
	i, err := v.ToInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(-42), i)
	assert.Equal(t, "-42", v.String())
	assert.False(t, v.IsNull())

	u := NewUint64(1 << 63)
	uv, err := u.ToUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<63), uv)
	assert.True(t, u.IsUnsigned())

	f := NewFloat64(3.25)
	fv, err := f.ToFloat64()
	require.NoError(t, err)
	assert.Equal(t, 3.25, fv)

	n := NewNullValue()
	assert.True(t, n.IsNull())
	assert.Equal(t, "NULL", n.String())
	_, err = n.ToInt64()
	assert.Error(t, err)
}

func TestStreamValueBuffering(t *testing.T) {
	v := NewStreamValue(strings.NewReader("payload"))
	assert.True(t, v.isStream())
	require.NoError(t, v.buffer())
	assert.False(t, v.isStream())
	assert.Equal(t, []byte("payload"), v.Raw())
}

func TestInterpolateQuery(t *testing.T) {
	query, err := interpolateQuery("select * from t where id = ? and name = ?",
		[]Value{NewInt64(5), NewVarChar("o'brien")})
	require.NoError(t, err)
	assert.Equal(t, `select * from t where id = 5 and name = 'o\'brien'`, query)

	// NULL binds render as the keyword.
	query, err = interpolateQuery("update t set a = ?", []Value{NewNullValue()})
	require.NoError(t, err)
	assert.Equal(t, "update t set a = NULL", query)

	// Placeholder count must match exactly, both ways.
	_, err = interpolateQuery("select ?", []Value{NewInt64(1), NewInt64(2)})
	require.Error(t, err)
	assert.True(t, IsValidationErr(err))

	_, err = interpolateQuery("select ?, ?", []Value{NewInt64(1)})
	require.Error(t, err)
	assert.True(t, IsValidationErr(err))
}

func TestWriteEscapedString(t *testing.T) {
	var buf strings.Builder
	writeEscapedString(&buf, []byte("a\x00b'c\"d\\e\nf"))
	assert.Equal(t, `'a\0b\'c\"d\\e\nf'`, buf.String())
}

func TestParseTextRow(t *testing.T) {
	fields := []*Field{
		{Name: "id", Type: TypeLong},
		{Name: "name", Type: TypeVarString},
		{Name: "note", Type: TypeBlob},
	}

	// Row: 42, NULL, "hi".
	data := make([]byte, 0, 16)
	data = append(data, 2, '4', '2')
	data = append(data, NullValue)
	data = append(data, 2, 'h', 'i')

	row, err := parseTextRow(data, fields)
	require.NoError(t, err)
	require.Len(t, row, 3)
	assert.Equal(t, "42", row[0].String())
	assert.True(t, row[1].IsNull())
	assert.Equal(t, "hi", row[2].String())
}

func TestParseTextRowTruncated(t *testing.T) {
	fields := []*Field{
		{Name: "a", Type: TypeLong},
		{Name: "b", Type: TypeLong},
	}
	_, err := parseTextRow([]byte{1, '1'}, fields)
	require.Error(t, err)
	assert.Equal(t, CRMalformedPacket, err.(*SQLError).Number())
}

func TestBinaryValueRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		value    Value
		field    *Field
		expected string
	}{
		{"int64", NewInt64(-123456789), &Field{Name: "c", Type: TypeLongLong}, "-123456789"},
		{"uint64", NewUint64(1 << 63), &Field{Name: "c", Type: TypeLongLong, Flags: UnsignedFlag}, "9223372036854775808"},
		{"double", NewFloat64(2.5), &Field{Name: "c", Type: TypeDouble}, "2.5"},
		{"varchar", NewVarChar("hello"), &Field{Name: "c", Type: TypeVarString}, "hello"},
		{"decimal", NewDecimal("12.34"), &Field{Name: "c", Type: TypeNewDecimal}, "12.34"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			size, err := binaryValueSize(test.value)
			require.NoError(t, err)
			data := make([]byte, size)
			pos, err := writeBinaryValue(data, 0, test.value)
			require.NoError(t, err)
			require.Equal(t, size, pos)

			decoded, newPos, err := decodeBinaryValue(data, 0, test.field)
			require.NoError(t, err)
			assert.Equal(t, size, newPos)
			assert.Equal(t, test.expected, decoded.String())
		})
	}
}

func TestBinaryDatetimeRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 5, 10, 20, 30, 0, time.UTC)
	v := NewDatetime(ts)

	size, err := binaryValueSize(v)
	require.NoError(t, err)
	// Length byte + year/month/day/hour/minute/second.
	assert.Equal(t, 1+7, size)

	data := make([]byte, size)
	_, err = writeBinaryValue(data, 0, v)
	require.NoError(t, err)
	assert.Equal(t, byte(7), data[0])

	decoded, _, err := decodeBinaryValue(data, 0, &Field{Name: "c", Type: TypeDatetime})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05 10:20:30", decoded.String())

	// Date-only values use the short form.
	d := NewDate(ts)
	size, err = binaryValueSize(d)
	require.NoError(t, err)
	assert.Equal(t, 1+4, size)

	data = make([]byte, size)
	_, err = writeBinaryValue(data, 0, d)
	require.NoError(t, err)
	decoded, _, err = decodeBinaryValue(data, 0, &Field{Name: "c", Type: TypeDate})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05", decoded.String())
}

func TestParseBinaryRow(t *testing.T) {
	fields := []*Field{
		{Name: "id", Type: TypeLong},
		{Name: "name", Type: TypeVarString},
		{Name: "score", Type: TypeDouble},
	}

	// Row: 7, NULL, 1.5. Column 1 maps to bit 3 of the bitmap, and a
	// NULL column contributes no value bytes.
	data := make([]byte, 1+1+4+8)
	pos := writeByte(data, 0, 0x00)
	pos = writeByte(data, pos, 1<<3)
	pos = writeUint32(data, pos, 7)
	writeUint64(data, pos, 0x3FF8000000000000) // 1.5

	row, err := parseBinaryRow(data, fields)
	require.NoError(t, err)
	require.Len(t, row, 3)
	assert.Equal(t, "7", row[0].String())
	assert.True(t, row[1].IsNull())
	assert.Equal(t, "1.5", row[2].String())
}

func TestParseBinaryRowBadHeader(t *testing.T) {
	_, err := parseBinaryRow([]byte{0x01, 0x00}, []*Field{{Name: "a", Type: TypeLong}})
	require.Error(t, err)
	assert.Equal(t, CRMalformedPacket, err.(*SQLError).Number())
}

func TestDecodeUnknownTypeByte(t *testing.T) {
	_, _, err := decodeBinaryValue([]byte{0x01}, 0, &Field{Name: "c", Type: FieldType(0xee)})
	require.Error(t, err)
	serr := err.(*SQLError)
	assert.Equal(t, CRUnsupportedParamType, serr.Number())
	assert.False(t, IsConnErr(serr))
}
