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

// Package sqlescape escapes identifiers that end up inside generated SQL,
// such as the database name in a USE statement.
package sqlescape

import "strings"

// EscapeID returns a backticked identifier given an input string.
func EscapeID(in string) string {
	var buf strings.Builder
	WriteEscapeID(&buf, in)
	return buf.String()
}

// WriteEscapeID writes a backticked identifier from an input string into buf.
func WriteEscapeID(buf *strings.Builder, in string) {
	// Room for the backticks on each end, plus a little extra in case
	// backticks inside the identifier need doubling.
	buf.Grow(4 + len(in))

	buf.WriteByte('`')
	for i := 0; i < len(in); i++ {
		buf.WriteByte(in[i])
		if in[i] == '`' {
			buf.WriteByte('`')
		}
	}
	buf.WriteByte('`')
}

// UnescapeID reverses any backticking in the input string.
func UnescapeID(in string) string {
	l := len(in)
	if l >= 2 && in[0] == '`' && in[l-1] == '`' {
		return in[1 : l-1]
	}
	return in
}
