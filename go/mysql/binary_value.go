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
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Icemap/tidb-connector-j/go/hack"
)

// This file implements the binary protocol side of the value codec, used by
// COM_STMT_EXECUTE / COM_STMT_BULK_EXECUTE and their result sets.

// binaryTypeTag returns the 2-byte parameter type header for a bound value:
// the type byte plus the unsigned flag in the high byte.
func binaryTypeTag(v Value) (FieldType, byte) {
	typ := v.typ
	switch typ {
	case TypeNull:
		typ = TypeNull
	case TypeTinyBlob, TypeMediumBlob, TypeLongBlob:
		typ = TypeLongBlob
	}
	var flags byte
	if v.unsigned {
		flags = 0x80
	}
	return typ, flags
}

// binaryValueSize returns the number of bytes writeBinaryValue will use.
func binaryValueSize(v Value) (int, error) {
	if v.null {
		return 0, nil
	}
	switch v.typ {
	case TypeLongLong:
		return 8, nil
	case TypeDouble:
		return 8, nil
	case TypeDatetime, TypeTimestamp, TypeDate:
		l, err := binaryDatetimeSize(hack.String(v.val))
		if err != nil {
			return 0, err
		}
		return 1 + l, nil
	case TypeTime:
		l, err := binaryTimeSize(hack.String(v.val))
		if err != nil {
			return 0, err
		}
		return 1 + l, nil
	default:
		return lenEncBytesSize(v.val), nil
	}
}

// writeBinaryValue writes the wire form of one bound value. NULL values
// write nothing: their position is carried by the null bitmap.
func writeBinaryValue(data []byte, pos int, v Value) (int, error) {
	if v.null {
		return pos, nil
	}
	switch v.typ {
	case TypeLongLong:
		if v.unsigned {
			u, err := v.ToUint64()
			if err != nil {
				return 0, err
			}
			return writeUint64(data, pos, u), nil
		}
		i, err := v.ToInt64()
		if err != nil {
			return 0, err
		}
		return writeUint64(data, pos, uint64(i)), nil
	case TypeDouble:
		f, err := v.ToFloat64()
		if err != nil {
			return 0, err
		}
		return writeUint64(data, pos, math.Float64bits(f)), nil
	case TypeDatetime, TypeTimestamp, TypeDate:
		return writeBinaryDatetime(data, pos, hack.String(v.val))
	case TypeTime:
		return writeBinaryTime(data, pos, hack.String(v.val))
	default:
		return writeLenEncBytes(data, pos, v.val), nil
	}
}

//
// Temporal encoding. The wire format is a length byte followed by 0, 4, 7
// or 11 bytes for datetime (year, month, day, then time, then micros), and
// 0, 8 or 12 bytes for time (sign, days, time, micros).
//

func splitDatetime(val string) (year, month, day, hour, minute, second, micro int, err error) {
	datePart := val
	if idx := strings.IndexByte(val, ' '); idx >= 0 {
		datePart = val[:idx]
		timePart := val[idx+1:]
		if idx := strings.IndexByte(timePart, '.'); idx >= 0 {
			micro, err = parseMicros(timePart[idx+1:])
			if err != nil {
				return
			}
			timePart = timePart[:idx]
		}
		var parts []string
		parts = strings.SplitN(timePart, ":", 3)
		if len(parts) != 3 {
			err = fmt.Errorf("invalid time part in datetime %q", val)
			return
		}
		hour, _ = strconv.Atoi(parts[0])
		minute, _ = strconv.Atoi(parts[1])
		second, _ = strconv.Atoi(parts[2])
	}
	parts := strings.SplitN(datePart, "-", 3)
	if len(parts) != 3 {
		err = fmt.Errorf("invalid date part in datetime %q", val)
		return
	}
	year, _ = strconv.Atoi(parts[0])
	month, _ = strconv.Atoi(parts[1])
	day, _ = strconv.Atoi(parts[2])
	return
}

func parseMicros(frac string) (int, error) {
	if len(frac) > 6 {
		frac = frac[:6]
	}
	micro, err := strconv.Atoi(frac)
	if err != nil {
		return 0, err
	}
	for i := len(frac); i < 6; i++ {
		micro *= 10
	}
	return micro, nil
}

func binaryDatetimeSize(val string) (int, error) {
	_, _, _, hour, minute, second, micro, err := splitDatetime(val)
	if err != nil {
		return 0, err
	}
	switch {
	case micro != 0:
		return 11, nil
	case hour != 0 || minute != 0 || second != 0:
		return 7, nil
	default:
		return 4, nil
	}
}

func writeBinaryDatetime(data []byte, pos int, val string) (int, error) {
	year, month, day, hour, minute, second, micro, err := splitDatetime(val)
	if err != nil {
		return 0, err
	}
	length, _ := binaryDatetimeSize(val)
	pos = writeByte(data, pos, byte(length))
	pos = writeUint16(data, pos, uint16(year))
	pos = writeByte(data, pos, byte(month))
	pos = writeByte(data, pos, byte(day))
	if length > 4 {
		pos = writeByte(data, pos, byte(hour))
		pos = writeByte(data, pos, byte(minute))
		pos = writeByte(data, pos, byte(second))
	}
	if length > 7 {
		pos = writeUint32(data, pos, uint32(micro))
	}
	return pos, nil
}

func splitTime(val string) (negative bool, days, hour, minute, second, micro int, err error) {
	if strings.HasPrefix(val, "-") {
		negative = true
		val = val[1:]
	}
	if idx := strings.IndexByte(val, '.'); idx >= 0 {
		micro, err = parseMicros(val[idx+1:])
		if err != nil {
			return
		}
		val = val[:idx]
	}
	parts := strings.SplitN(val, ":", 3)
	if len(parts) != 3 {
		err = fmt.Errorf("invalid time %q", val)
		return
	}
	hours, _ := strconv.Atoi(parts[0])
	days = hours / 24
	hour = hours % 24
	minute, _ = strconv.Atoi(parts[1])
	second, _ = strconv.Atoi(parts[2])
	return
}

func binaryTimeSize(val string) (int, error) {
	_, _, _, _, _, micro, err := splitTime(val)
	if err != nil {
		return 0, err
	}
	if micro != 0 {
		return 12, nil
	}
	return 8, nil
}

func writeBinaryTime(data []byte, pos int, val string) (int, error) {
	negative, days, hour, minute, second, micro, err := splitTime(val)
	if err != nil {
		return 0, err
	}
	length, _ := binaryTimeSize(val)
	pos = writeByte(data, pos, byte(length))
	var neg byte
	if negative {
		neg = 1
	}
	pos = writeByte(data, pos, neg)
	pos = writeUint32(data, pos, uint32(days))
	pos = writeByte(data, pos, byte(hour))
	pos = writeByte(data, pos, byte(minute))
	pos = writeByte(data, pos, byte(second))
	if length > 8 {
		pos = writeUint32(data, pos, uint32(micro))
	}
	return pos, nil
}

//
// Binary row decoding.
//

// parseBinaryRow decodes one binary-protocol row packet: the 0x00 header,
// the null bitmap (two bit offset), then one wire value per non-NULL
// column, decoded into the canonical text form.
func parseBinaryRow(data []byte, fields []*Field) ([]Value, error) {
	if len(data) == 0 || data[0] != 0x00 {
		return nil, newProtocolError("binary row does not start with 0x00")
	}
	pos := 1

	bitmapLength := (len(fields) + 7 + 2) / 8
	if pos+bitmapLength > len(data) {
		return nil, newProtocolError("binary row too short for null bitmap")
	}
	nullBitmap := data[pos : pos+bitmapLength]
	pos += bitmapLength

	row := make([]Value, len(fields))
	for i, field := range fields {
		// Column i maps to bit i+2 of the bitmap.
		byteIdx := (i + 2) / 8
		bitMask := byte(1 << (uint(i+2) & 7))
		if nullBitmap[byteIdx]&bitMask != 0 {
			row[i] = Value{typ: field.Type, null: true}
			continue
		}
		v, newPos, err := decodeBinaryValue(data, pos, field)
		if err != nil {
			return nil, err
		}
		row[i] = v
		pos = newPos
	}
	return row, nil
}

func decodeBinaryValue(data []byte, pos int, field *Field) (Value, int, error) {
	unsigned := field.IsUnsigned()
	switch field.Type {
	case TypeTiny:
		b, newPos, ok := readByte(data, pos)
		if !ok {
			return Value{}, 0, newDecodeError("short tiny value for column %v", field.Name)
		}
		return intValue(field, int64(int8(b)), uint64(b), unsigned), newPos, nil
	case TypeShort, TypeYear:
		u, newPos, ok := readUint16(data, pos)
		if !ok {
			return Value{}, 0, newDecodeError("short int2 value for column %v", field.Name)
		}
		return intValue(field, int64(int16(u)), uint64(u), unsigned), newPos, nil
	case TypeInt24, TypeLong:
		u, newPos, ok := readUint32(data, pos)
		if !ok {
			return Value{}, 0, newDecodeError("short int4 value for column %v", field.Name)
		}
		return intValue(field, int64(int32(u)), uint64(u), unsigned), newPos, nil
	case TypeLongLong:
		u, newPos, ok := readUint64(data, pos)
		if !ok {
			return Value{}, 0, newDecodeError("short int8 value for column %v", field.Name)
		}
		return intValue(field, int64(u), u, unsigned), newPos, nil
	case TypeFloat:
		u, newPos, ok := readUint32(data, pos)
		if !ok {
			return Value{}, 0, newDecodeError("short float value for column %v", field.Name)
		}
		f := math.Float32frombits(u)
		return Value{typ: field.Type, val: strconv.AppendFloat(nil, float64(f), 'g', -1, 32)}, newPos, nil
	case TypeDouble:
		u, newPos, ok := readUint64(data, pos)
		if !ok {
			return Value{}, 0, newDecodeError("short double value for column %v", field.Name)
		}
		f := math.Float64frombits(u)
		return Value{typ: field.Type, val: strconv.AppendFloat(nil, f, 'g', -1, 64)}, newPos, nil
	case TypeDate, TypeDatetime, TypeTimestamp:
		return decodeBinaryDatetime(data, pos, field)
	case TypeTime:
		return decodeBinaryTime(data, pos, field)
	case TypeDecimal, TypeNewDecimal, TypeVarchar, TypeVarString, TypeString,
		TypeBlob, TypeTinyBlob, TypeMediumBlob, TypeLongBlob,
		TypeJSON, TypeBit, TypeGeometry:
		val, newPos, ok := readLenEncStringAsBytesCopy(data, pos)
		if !ok {
			return Value{}, 0, newDecodeError("short string value for column %v", field.Name)
		}
		return Value{typ: field.Type, val: val}, newPos, nil
	case TypeNull:
		return Value{typ: TypeNull, null: true}, pos, nil
	default:
		return Value{}, 0, newDecodeError("unrecognized type byte %v for column %v", field.Type, field.Name)
	}
}

func intValue(field *Field, signed int64, us uint64, unsigned bool) Value {
	if unsigned {
		return Value{typ: field.Type, unsigned: true, val: strconv.AppendUint(nil, us, 10)}
	}
	return Value{typ: field.Type, val: strconv.AppendInt(nil, signed, 10)}
}

func decodeBinaryDatetime(data []byte, pos int, field *Field) (Value, int, error) {
	length, pos, ok := readByte(data, pos)
	if !ok {
		return Value{}, 0, newDecodeError("short datetime length for column %v", field.Name)
	}
	switch length {
	case 0:
		return Value{typ: field.Type, val: []byte("0000-00-00 00:00:00")}, pos, nil
	case 4, 7, 11:
	default:
		return Value{}, 0, newDecodeError("invalid datetime length %v for column %v", length, field.Name)
	}
	var year uint16
	var month, day, hour, minute, second byte
	var micro uint32
	year, pos, ok = readUint16(data, pos)
	if !ok {
		return Value{}, 0, newDecodeError("short datetime value for column %v", field.Name)
	}
	month, pos, _ = readByte(data, pos)
	day, pos, ok = readByte(data, pos)
	if !ok {
		return Value{}, 0, newDecodeError("short datetime value for column %v", field.Name)
	}
	if length >= 7 {
		hour, pos, _ = readByte(data, pos)
		minute, pos, _ = readByte(data, pos)
		second, pos, ok = readByte(data, pos)
		if !ok {
			return Value{}, 0, newDecodeError("short datetime value for column %v", field.Name)
		}
	}
	if length == 11 {
		micro, pos, ok = readUint32(data, pos)
		if !ok {
			return Value{}, 0, newDecodeError("short datetime value for column %v", field.Name)
		}
	}

	var val string
	if field.Type == TypeDate {
		val = fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	} else if length == 11 {
		val = fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d.%06d", year, month, day, hour, minute, second, micro)
	} else {
		val = fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", year, month, day, hour, minute, second)
	}
	return Value{typ: field.Type, val: []byte(val)}, pos, nil
}

func decodeBinaryTime(data []byte, pos int, field *Field) (Value, int, error) {
	length, pos, ok := readByte(data, pos)
	if !ok {
		return Value{}, 0, newDecodeError("short time length for column %v", field.Name)
	}
	switch length {
	case 0:
		return Value{typ: field.Type, val: []byte("00:00:00")}, pos, nil
	case 8, 12:
	default:
		return Value{}, 0, newDecodeError("invalid time length %v for column %v", length, field.Name)
	}
	negative, pos, _ := readByte(data, pos)
	days, pos, ok := readUint32(data, pos)
	if !ok {
		return Value{}, 0, newDecodeError("short time value for column %v", field.Name)
	}
	hour, pos, _ := readByte(data, pos)
	minute, pos, _ := readByte(data, pos)
	second, pos, ok := readByte(data, pos)
	if !ok {
		return Value{}, 0, newDecodeError("short time value for column %v", field.Name)
	}
	var micro uint32
	if length == 12 {
		micro, pos, ok = readUint32(data, pos)
		if !ok {
			return Value{}, 0, newDecodeError("short time value for column %v", field.Name)
		}
	}

	sign := ""
	if negative == 1 {
		sign = "-"
	}
	hours := int(days)*24 + int(hour)
	var val string
	if length == 12 {
		val = fmt.Sprintf("%s%02d:%02d:%02d.%06d", sign, hours, minute, second, micro)
	} else {
		val = fmt.Sprintf("%s%02d:%02d:%02d", sign, hours, minute, second)
	}
	return Value{typ: field.Type, val: []byte(val)}, pos, nil
}
