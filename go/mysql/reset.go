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
	"context"

	"github.com/Icemap/tidb-connector-j/go/sqlescape"
)

// ResetSession returns the connection to its configured defaults, so it
// can be handed to another logical user.
//
// With params.UseResetConnection, servers that support
// COM_RESET_CONNECTION get the real thing: open transaction rolled
// back, locks released, session variables cleared, server-side prepared
// statements deallocated. Otherwise an open transaction gets a
// best-effort ROLLBACK. Either way, session properties marked dirty
// since connect (autocommit, default database, read-only mode) are
// restored with follow-up statements in the same pipeline; only the
// isolation level is covered by the reset command itself.
func (c *Conn) ResetSession(ctx context.Context) error {
	usedReset := c.params != nil && c.params.UseResetConnection && c.serverVersion.SupportsReset()

	var msgs []ClientMessage
	if usedReset {
		msgs = append(msgs, resetMessage{})
	} else if c.InTransaction() {
		msgs = append(msgs, NewQueryMessage("ROLLBACK"))
	}
	msgs = append(msgs, c.restoreMessages(usedReset)...)

	if len(msgs) > 0 {
		completions, err := c.ExecutePipeline(ctx, msgs...)
		if err != nil {
			return err
		}
		for _, cpl := range completions {
			if serr := Err(cpl); serr != nil {
				return serr
			}
		}
	}

	if usedReset {
		// Server-side statement handles died with the reset.
		c.stmtCache.invalidateAll()
	}
	if c.stateFlags&StateNetworkTimeout != 0 {
		c.networkTimeoutSet = false
		c.networkTimeout = 0
	}
	if c.stateFlags&StateDatabase != 0 && c.params.DbName != "" {
		c.schemaName = c.params.DbName
	}
	c.stateFlags = 0
	return nil
}

// restoreMessages builds the statements that undo the dirty session
// properties. Autocommit, database and read-only are replayed even
// after a real reset; the isolation level is the one property the reset
// command restores by itself.
func (c *Conn) restoreMessages(usedReset bool) []ClientMessage {
	flags := c.stateFlags
	var msgs []ClientMessage

	if flags&StateAutocommit != 0 {
		msgs = append(msgs, NewQueryMessage("SET autocommit=1"))
	}
	if flags&StateDatabase != 0 && c.params.DbName != "" {
		msgs = append(msgs, &initDBMessage{db: c.params.DbName})
	}
	if flags&StateReadOnly != 0 {
		if c.params.ReadOnly {
			msgs = append(msgs, NewQueryMessage("SET SESSION TRANSACTION READ ONLY"))
		} else {
			msgs = append(msgs, NewQueryMessage("SET SESSION TRANSACTION READ WRITE"))
		}
	}
	if !usedReset && flags&StateTransactionIsolation != 0 && c.params.IsolationLevel != "" {
		msgs = append(msgs, NewQueryMessage("SET SESSION TRANSACTION ISOLATION LEVEL "+c.params.IsolationLevel))
	}
	return msgs
}

// SetDefaultDB is a reset helper for callers that track their own
// default database: it issues USE with a properly escaped identifier.
func (c *Conn) SetDefaultDB(db string) error {
	completions, err := c.Execute(context.Background(), NewQueryMessage("USE "+sqlescape.EscapeID(db)))
	if err != nil {
		return err
	}
	if serr := Err(completions[0]); serr != nil {
		return serr
	}
	c.schemaName = db
	c.markDirty(StateDatabase)
	return nil
}
