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
	"io"
	"strconv"
	"time"

	"github.com/Icemap/tidb-connector-j/go/hack"
)

// Value is a typed value as stored in a result-set row or bound to a
// prepared statement parameter. The payload is kept in its canonical text
// form; the binary codec converts to and from the wire representation.
//
// A Value is immutable after construction, except for reader-backed values
// which buffer their stream on ensureReplayable.
type Value struct {
	typ      FieldType
	unsigned bool
	null     bool
	val      []byte

	// stream is a lazily-read payload for large blobs. It is exclusive
	// with val until buffered.
	stream io.Reader
}

// NewInt64 builds a Value for an int64.
func NewInt64(v int64) Value {
	return Value{typ: TypeLongLong, val: strconv.AppendInt(nil, v, 10)}
}

// NewUint64 builds a Value for an uint64.
func NewUint64(v uint64) Value {
	return Value{typ: TypeLongLong, unsigned: true, val: strconv.AppendUint(nil, v, 10)}
}

// NewFloat64 builds a Value for a float64.
func NewFloat64(v float64) Value {
	return Value{typ: TypeDouble, val: strconv.AppendFloat(nil, v, 'g', -1, 64)}
}

// NewVarChar builds a Value for a string.
func NewVarChar(v string) Value {
	return Value{typ: TypeVarString, val: []byte(v)}
}

// NewBlob builds a Value for raw bytes.
func NewBlob(v []byte) Value {
	return Value{typ: TypeBlob, val: v}
}

// NewDecimal builds a Value for a decimal held in its text form.
func NewDecimal(v string) Value {
	return Value{typ: TypeNewDecimal, val: []byte(v)}
}

// NewJSON builds a Value for a JSON document.
func NewJSON(v string) Value {
	return Value{typ: TypeJSON, val: []byte(v)}
}

// NewDatetime builds a Value for a point in time, microsecond precision.
func NewDatetime(t time.Time) Value {
	return Value{typ: TypeDatetime, val: []byte(t.Format("2006-01-02 15:04:05.000000"))}
}

// NewDate builds a Value for a date.
func NewDate(t time.Time) Value {
	return Value{typ: TypeDate, val: []byte(t.Format("2006-01-02"))}
}

// NewNullValue builds the NULL value.
func NewNullValue() Value {
	return Value{typ: TypeNull, null: true}
}

// NewStreamValue builds a reader-backed blob value. It is read lazily when
// the command is written, unless the command must be replayable, in which
// case ensureReplayable buffers it first.
func NewStreamValue(r io.Reader) Value {
	return Value{typ: TypeLongBlob, stream: r}
}

// IsNull returns true for the NULL value.
func (v Value) IsNull() bool {
	return v.null
}

// Type returns the value's type tag.
func (v Value) Type() FieldType {
	return v.typ
}

// IsUnsigned is true for values built from unsigned integers.
func (v Value) IsUnsigned() bool {
	return v.unsigned
}

// Raw returns the canonical text bytes. It is nil for NULL.
func (v Value) Raw() []byte {
	return v.val
}

// String returns the canonical text form, or "NULL".
func (v Value) String() string {
	if v.null {
		return "NULL"
	}
	return hack.String(v.val)
}

// ToInt64 parses the value as an int64.
func (v Value) ToInt64() (int64, error) {
	if v.null {
		return 0, fmt.Errorf("NULL cannot be converted to int64")
	}
	return strconv.ParseInt(hack.String(v.val), 10, 64)
}

// ToUint64 parses the value as an uint64.
func (v Value) ToUint64() (uint64, error) {
	if v.null {
		return 0, fmt.Errorf("NULL cannot be converted to uint64")
	}
	return strconv.ParseUint(hack.String(v.val), 10, 64)
}

// ToFloat64 parses the value as a float64.
func (v Value) ToFloat64() (float64, error) {
	if v.null {
		return 0, fmt.Errorf("NULL cannot be converted to float64")
	}
	return strconv.ParseFloat(hack.String(v.val), 64)
}

// isStream is true while the payload is still reader-backed.
func (v Value) isStream() bool {
	return v.stream != nil
}

// buffer reads a stream-backed payload fully into memory, making the value
// safe to retransmit. No-op for regular values.
func (v *Value) buffer() error {
	if v.stream == nil {
		return nil
	}
	data, err := io.ReadAll(v.stream)
	if err != nil {
		return err
	}
	v.val = data
	v.stream = nil
	return nil
}
