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
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLErrorFromError(t *testing.T) {
	// A *SQLError passes through untouched.
	serr := NewSQLError(ERDupEntry, SSDupKey, "Duplicate entry")
	assert.Equal(t, serr, NewSQLErrorFromError(serr))

	// A flattened error string is re-parsed.
	flattened := fmt.Errorf("got error: %v", serr.Error())
	got := NewSQLErrorFromError(flattened)
	var reparsed *SQLError
	require.True(t, errors.As(got, &reparsed))
	assert.Equal(t, ERDupEntry, reparsed.Number())
	assert.Equal(t, SSDupKey, reparsed.SQLState())

	// Anything else becomes an unknown error.
	got = NewSQLErrorFromError(errors.New("random failure"))
	require.True(t, errors.As(got, &reparsed))
	assert.Equal(t, ERUnknownError, reparsed.Number())
	assert.Equal(t, SSUnknownSQLState, reparsed.SQLState())
}

func TestErrorTaxonomy(t *testing.T) {
	// Socket errors are connection-fatal.
	assert.True(t, IsConnErr(newConnError(errors.New("broken pipe"), "write")))

	// Protocol errors are connection-fatal: framing state is lost.
	assert.True(t, IsConnErr(newProtocolError("bad packet")))

	// Decode errors kill the result set, not the connection.
	assert.False(t, IsConnErr(newDecodeError("bad type byte")))

	// Validation errors happen before any bytes are written.
	verr := newValidationError("wrong parameter count")
	assert.False(t, IsConnErr(verr))
	assert.True(t, IsValidationErr(verr))

	// Server errors never poison the connection.
	assert.False(t, IsConnErr(NewSQLError(ERDupEntry, SSDupKey, "dup")))

	// A closed-connection error fails fast and is fatal.
	assert.True(t, IsConnErr(NewSQLError(CRServerGone, SSNetError, "closed")))
}

func TestIsTimeout(t *testing.T) {
	terr := newConnError(&timeoutNetError{}, "read")
	assert.True(t, IsTimeout(terr))
	assert.True(t, IsConnErr(terr))
	assert.Equal(t, CRNetReadTimeout, terr.Number())

	assert.False(t, IsTimeout(newConnError(errors.New("reset"), "read")))
}

func TestErrorQueryTruncation(t *testing.T) {
	serr := NewSQLError(ERDupEntry, SSDupKey, "dup")
	serr.Query = strings.Repeat("x", 1000)
	msg := serr.Error()
	assert.Contains(t, msg, "[TRUNCATED]")
	assert.Less(t, len(msg), 500)
}

func TestBatchPartialError(t *testing.T) {
	cause := NewSQLError(ERDupEntry, SSDupKey, "dup")
	berr := &BatchPartialError{
		Outcomes: []int64{1, ExecuteFailed, 1},
		Cause:    cause,
	}

	var serr *SQLError
	require.True(t, errors.As(berr, &serr))
	assert.Equal(t, ERDupEntry, serr.Number())
	assert.Contains(t, berr.Error(), "batch failed")
}

// timeoutNetError implements net.Error with Timeout() true.
type timeoutNetError struct{}

func (*timeoutNetError) Error() string   { return "i/o timeout" }
func (*timeoutNetError) Timeout() bool   { return true }
func (*timeoutNetError) Temporary() bool { return false }
