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

// Completion is one server response to one client command: an OK, a
// result set, or a server error. The set of implementations is closed.
type Completion interface {
	// isCompletion restricts implementations to this package.
	isCompletion()
}

// OK is the parsed form of an OK packet.
type OK struct {
	// AffectedRows is the row count reported by the server for DML.
	AffectedRows uint64

	// InsertID is the first auto-generated id of the statement, if any.
	InsertID uint64

	// StatusFlags is the post-statement session status.
	StatusFlags uint16

	// Warnings is the warning count of the statement.
	Warnings uint16

	// Info is the human-readable trailer, when the server sent one.
	Info string
}

func (*OK) isCompletion() {}

// Result is a fully-read result set plus its terminating status. For
// statements that return no rows it carries the OK packet counters
// instead.
type Result struct {
	Fields []*Field
	Rows   [][]Value

	// RowsAffected and InsertID are only set for row-less completions.
	RowsAffected uint64
	InsertID     uint64

	// StatusFlags and Warnings come from the terminating EOF or OK.
	StatusFlags uint16
	Warnings    uint16
}

func (*Result) isCompletion() {}

func (*SQLError) isCompletion() {}

// RowsAffected returns the affected row count of a completion, or zero
// for result sets.
func RowsAffected(cpl Completion) uint64 {
	if ok, isOK := cpl.(*OK); isOK {
		return ok.AffectedRows
	}
	return 0
}

// Err returns the completion as an error when it is one.
func Err(cpl Completion) error {
	if serr, isErr := cpl.(*SQLError); isErr {
		return serr
	}
	return nil
}
