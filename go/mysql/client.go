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
	"net"
	"time"

	"github.com/Icemap/tidb-connector-j/go/log"
)

// pipelineChunkSize bounds how many commands are written to the socket
// before their replies are read. Writing without bound can deadlock on
// the socket buffers once the server starts replying.
const pipelineChunkSize = 250

// Connect dials the server described by params, runs the handshake and
// returns a live connection. The returned Conn is ready for commands;
// closing it is the caller's responsibility.
func Connect(ctx context.Context, params *ConnParams) (*Conn, error) {
	conn, err := dial(ctx, params)
	if err != nil {
		return nil, NewSQLError(CRConnHostError, SSNetError, "net.Dial(%v) failed: %v", errAddr(params), err)
	}

	c := newConn(conn)
	c.params = params
	c.stmtCache = newStmtCache(params.PrepStmtCacheSize)

	// The whole handshake runs under the connect timeout.
	if params.ConnectTimeout != 0 {
		conn.SetDeadline(time.Now().Add(params.ConnectTimeout))
	}
	handshaker := params.Handshaker
	if handshaker == nil {
		handshaker = nativeHandshaker{}
	}
	err = c.withCancellation(ctx, func() error {
		return handshaker.Handshake(c, params)
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	return c, nil
}

func dial(ctx context.Context, params *ConnParams) (net.Conn, error) {
	network, addr := params.address()
	timeout := params.ConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); timeout == 0 || remaining < timeout {
			timeout = remaining
		}
	}
	if params.Dialer != nil {
		return params.Dialer(network, addr, timeout)
	}
	return net.DialTimeout(network, addr, timeout)
}

func errAddr(params *ConnParams) string {
	_, addr := params.address()
	return addr
}

// withCancellation runs f while watching ctx; cancellation or deadline
// expiry closes the socket, which unblocks f with a connection error.
func (c *Conn) withCancellation(ctx context.Context, f func() error) error {
	if ctx.Done() == nil {
		return f()
	}
	done := make(chan struct{})
	canceled := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.Cancel()
			close(canceled)
		case <-done:
			close(canceled)
		}
	}()
	err := f()
	close(done)
	<-canceled
	if ctxErr := ctx.Err(); ctxErr != nil {
		return NewSQLError(CRServerLost, SSNetError, "interrupted (%v): %v", ctxErr, errOrOK(err))
	}
	return err
}

func errOrOK(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}

// Execute runs one or more client messages as a single exchange and
// returns one completion per server reply, in order. Server-side errors
// come back as *SQLError completions with a nil error; a non-nil error
// means the exchange itself broke.
//
// With params.AutoRetry, a connection error on a fully replayable batch
// outside a transaction triggers one transparent reconnect and replay.
func (c *Conn) Execute(ctx context.Context, msgs ...ClientMessage) ([]Completion, error) {
	retryable := c.params != nil && c.params.AutoRetry && !c.InTransaction() && replayable(msgs)

	completions, err := c.executeOnce(ctx, msgs)
	if err == nil || !retryable || !IsConnErr(err) {
		return completions, err
	}

	log.Warningf("retrying %v after connection error: %v", msgs[0].description(), err)
	if rerr := c.reconnect(ctx); rerr != nil {
		return nil, rerr
	}
	return c.executeOnce(ctx, msgs)
}

func (c *Conn) executeOnce(ctx context.Context, msgs []ClientMessage) ([]Completion, error) {
	unlock, err := c.startExchange()
	if err != nil {
		return nil, err
	}
	defer unlock()

	var completions []Completion
	err = c.withCancellation(ctx, func() error {
		var ierr error
		completions, ierr = c.pipelineLocked(msgs)
		return ierr
	})
	c.endOfExchange(err)
	return completions, err
}

// ExecutePipeline is Execute without the retry layer: the messages are
// written back to back and the replies read afterwards, in chunks.
func (c *Conn) ExecutePipeline(ctx context.Context, msgs ...ClientMessage) ([]Completion, error) {
	return c.executeOnce(ctx, msgs)
}

// ExecutePipelineDropLeading runs a pipeline and discards the first n
// completions, returning only the rest. A server error among the
// dropped completions is promoted to the returned error: the leading
// messages are preludes whose failure invalidates the whole exchange.
func (c *Conn) ExecutePipelineDropLeading(ctx context.Context, n int, msgs ...ClientMessage) ([]Completion, error) {
	completions, err := c.executeOnce(ctx, msgs)
	if err != nil {
		return nil, err
	}
	if len(completions) < n {
		return nil, newProtocolError("pipeline returned %v completions, expected at least %v", len(completions), n)
	}
	for _, cpl := range completions[:n] {
		if serr, isErr := cpl.(*SQLError); isErr {
			return nil, serr
		}
	}
	return completions[n:], nil
}

// pipelineLocked writes msgs in bounded bursts and reads their
// completions. Caller holds the exchange lock.
func (c *Conn) pipelineLocked(msgs []ClientMessage) ([]Completion, error) {
	// Validation and replay buffering happen before any bytes are
	// written, so a bad message cannot leave the wire half-spoken.
	for _, msg := range msgs {
		if v, ok := msg.(interface{ validate() error }); ok {
			if err := v.validate(); err != nil {
				return nil, err
			}
		}
	}

	completions := make([]Completion, 0, len(msgs))
	for start := 0; start < len(msgs); start += pipelineChunkSize {
		end := start + pipelineChunkSize
		if end > len(msgs) {
			end = len(msgs)
		}
		chunk := msgs[start:end]

		// Write burst. Each message restarts the packet sequence; the
		// post-write counter is kept so the matching reply can be
		// sequence checked later.
		replySeqs := make([]uint8, len(chunk))
		c.startWriterBuffering()
		var werr error
		for i, msg := range chunk {
			c.resetSequence()
			if werr = msg.writeTo(c); werr != nil {
				break
			}
			replySeqs[i] = c.sequence
		}
		if ferr := c.flush(); werr == nil {
			werr = ferr
		}
		if werr != nil {
			return completions, werr
		}

		// Read burst.
		for i, msg := range chunk {
			binary := binaryResults(msg)
			for r := 0; r < msg.expectedReplies(); r++ {
				c.sequence = replySeqs[i]
				for {
					cpl, err := c.readCompletion(binary)
					if err != nil {
						return completions, err
					}
					completions = append(completions, cpl)
					if serr, isErr := cpl.(*SQLError); isErr {
						serr.Query = msg.description()
						break
					}
					if !c.MoreResults() {
						break
					}
				}
			}
		}
	}
	return completions, nil
}

// binaryResults reports whether a message's result sets use the binary
// row format.
func binaryResults(msg ClientMessage) bool {
	switch msg.(type) {
	case *executeMessage, *bulkExecuteMessage:
		return true
	}
	return false
}

// replayable reports whether every message in the batch survives a
// reconnect: statement-handle messages do not, their ids die with the
// connection.
func replayable(msgs []ClientMessage) bool {
	for _, msg := range msgs {
		switch msg.(type) {
		case *executeMessage, *bulkExecuteMessage, *closeStmtMessage:
			return false
		}
		if err := msg.ensureReplayable(); err != nil {
			return false
		}
	}
	return true
}

// reconnect re-establishes the underlying connection and adopts the new
// session context wholesale. Prepared statement handles are
// invalidated; callers re-prepare on next use.
func (c *Conn) reconnect(ctx context.Context) error {
	c.Close()

	nc, err := Connect(ctx, c.params)
	if err != nil {
		return err
	}

	c.conn = nc.conn
	c.stream = nc.stream
	c.bufferedReader = nc.bufferedReader
	c.bufferedWriter = nil
	c.ConnectionID = nc.ConnectionID
	c.ServerVersion = nc.ServerVersion
	c.serverVersion = nc.serverVersion
	c.Capabilities = nc.Capabilities
	c.ExtendedCapabilities = nc.ExtendedCapabilities
	c.CharacterSet = nc.CharacterSet
	c.StatusFlags = nc.StatusFlags
	c.schemaName = nc.schemaName
	c.stateFlags = 0
	c.sequence = 0
	c.stmtCache.invalidateAll()
	c.closed.Store(false)
	return nil
}

// ExecuteFetch executes a query and returns the result as one buffered
// Result. For statements without a result set the affected row counters
// are filled in instead.
//
// maxrows bounds how many rows the caller is willing to buffer; an
// over-long result is an error, not a truncation. A negative maxrows
// means no bound. wantfields controls whether column definitions are
// kept on the result.
func (c *Conn) ExecuteFetch(query string, maxrows int, wantfields bool) (*Result, error) {
	completions, err := c.Execute(context.Background(), NewQueryMessage(query))
	if err != nil {
		return nil, err
	}
	switch r := completions[0].(type) {
	case *SQLError:
		return nil, r
	case *OK:
		return &Result{
			RowsAffected: r.AffectedRows,
			InsertID:     r.InsertID,
			StatusFlags:  r.StatusFlags,
			Warnings:     r.Warnings,
		}, nil
	case *Result:
		if maxrows >= 0 && len(r.Rows) > maxrows {
			return nil, newValidationError("query returned more than %v rows: %v", maxrows, truncateForLog(query))
		}
		if !wantfields {
			r.Fields = nil
		}
		return r, nil
	}
	return nil, newProtocolError("unexpected completion type for query")
}

// Prepare returns a statement handle for sql, served from the
// per-connection cache when possible.
func (c *Conn) Prepare(sql string) (*Stmt, error) {
	if prepare := c.stmtCache.get(sql); prepare != nil && !prepare.invalid {
		return &Stmt{conn: c, prepare: prepare}, nil
	}

	prepare, err := c.roundTripPrepare(sql)
	if err != nil {
		return nil, err
	}

	evicted := c.stmtCache.put(sql, prepare)
	for _, victim := range evicted {
		if cerr := c.closeStmt(victim.StatementID); cerr != nil {
			log.Warningf("closing evicted prepared statement %v: %v", victim.StatementID, cerr)
		}
	}
	return &Stmt{conn: c, prepare: prepare}, nil
}

func (c *Conn) roundTripPrepare(sql string) (*PrepareData, error) {
	unlock, err := c.startExchange()
	if err != nil {
		return nil, err
	}
	defer unlock()

	var prepare *PrepareData
	err = func() error {
		c.startWriterBuffering()
		c.resetSequence()
		msg := &prepareMessage{sql: sql}
		if werr := msg.writeTo(c); werr != nil {
			c.flush()
			return werr
		}
		if ferr := c.flush(); ferr != nil {
			return ferr
		}
		var rerr error
		prepare, rerr = c.readPrepareResponse(sql)
		return rerr
	}()
	c.endOfExchange(err)
	return prepare, err
}

// Execute binds params and runs the prepared statement once. A handle
// invalidated by reconnect or server-side deallocation is transparently
// re-prepared.
func (s *Stmt) Execute(ctx context.Context, params ...Value) (Completion, error) {
	if err := s.revalidate(); err != nil {
		return nil, err
	}

	completions, err := s.conn.Execute(ctx, &executeMessage{stmt: s.prepare, params: params})
	if err != nil {
		return nil, err
	}
	if serr, isErr := completions[0].(*SQLError); isErr && serr.Num == ERUnknownStmtHandler {
		// The server dropped our handle. Re-prepare once and replay.
		s.conn.stmtCache.invalidate(s.prepare)
		if err := s.revalidate(); err != nil {
			return nil, err
		}
		completions, err = s.conn.Execute(ctx, &executeMessage{stmt: s.prepare, params: params})
		if err != nil {
			return nil, err
		}
	}
	return completions[0], nil
}

// revalidate swaps in a fresh handle when the current one is dead.
func (s *Stmt) revalidate() error {
	if !s.prepare.invalid {
		return nil
	}
	fresh, err := s.conn.Prepare(s.prepare.PrepareStmt)
	if err != nil {
		return err
	}
	s.prepare = fresh.prepare
	return nil
}

// Ping checks that the connection is alive with a COM_PING round trip.
func (c *Conn) Ping(ctx context.Context) error {
	completions, err := c.Execute(ctx, pingMessage{})
	if err != nil {
		return err
	}
	return Err(completions[0])
}

// ChangeDB switches the default database with COM_INIT_DB and marks the
// session dirty for reset purposes.
func (c *Conn) ChangeDB(db string) error {
	completions, err := c.Execute(context.Background(), &initDBMessage{db: db})
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
