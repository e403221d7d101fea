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
	"container/list"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// PrepareData is a server-side prepared statement handle plus its
// metadata. Handles are reference counted: the cache holds one
// reference while the statement is cached, and every open Stmt holds
// another. The server-side handle is closed when the count reaches
// zero.
type PrepareData struct {
	// StatementID is the server-assigned id, scoped to one connection.
	StatementID uint32

	// PrepareStmt is the SQL text the statement was prepared from.
	PrepareStmt string

	ParamsCount uint16
	ColumnCount uint16

	ParamFields  []*Field
	ColumnFields []*Field

	// refs, cached and invalid are guarded by the owning cache mutex.
	refs    int
	cached  bool
	invalid bool
}

// stmtCache caches prepared statements per connection, keyed by the
// xxhash of the SQL text with a full-text check against collisions.
// Eviction is LRU over statements and applies once size exceeds the
// configured bound; an evicted statement that is still referenced by a
// Stmt is closed only when its last reference drops.
type stmtCache struct {
	mu sync.Mutex

	maxSize int
	entries map[uint64][]*cacheEntry
	lru     *list.List
}

type cacheEntry struct {
	sql     string
	prepare *PrepareData
	element *list.Element
}

func newStmtCache(maxSize int) *stmtCache {
	return &stmtCache{
		maxSize: maxSize,
		entries: make(map[uint64][]*cacheEntry),
		lru:     list.New(),
	}
}

// get returns the cached handle for sql, bumping its reference count
// and recency, or nil on a miss.
func (s *stmtCache) get(sql string) *PrepareData {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := xxhash.Sum64String(sql)
	for _, entry := range s.entries[key] {
		if entry.sql != sql {
			continue
		}
		entry.prepare.refs++
		s.lru.MoveToBack(entry.element)
		return entry.prepare
	}
	return nil
}

// put inserts a freshly prepared statement. The returned list holds
// statements evicted with no outstanding references; the caller must
// close them server side. The inserted statement comes back with two
// references: the cache's own and the caller's.
func (s *stmtCache) put(sql string, prepare *PrepareData) (evicted []*PrepareData) {
	if s == nil || s.maxSize <= 0 {
		prepare.refs = 1
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := xxhash.Sum64String(sql)
	entry := &cacheEntry{sql: sql, prepare: prepare}
	entry.element = s.lru.PushBack(entry)
	s.entries[key] = append(s.entries[key], entry)
	prepare.cached = true
	prepare.refs = 2

	for s.lru.Len() > s.maxSize {
		oldest := s.lru.Front()
		victim := oldest.Value.(*cacheEntry)
		s.removeLocked(victim)
		victim.prepare.refs--
		if victim.prepare.refs == 0 {
			evicted = append(evicted, victim.prepare)
		}
	}
	return evicted
}

// release drops one reference. It reports whether the server-side
// handle must now be closed.
func (s *stmtCache) release(prepare *PrepareData) bool {
	if s == nil {
		if prepare.refs > 0 {
			prepare.refs--
		}
		return prepare.refs == 0 && !prepare.invalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if prepare.refs > 0 {
		prepare.refs--
	}
	return prepare.refs == 0 && !prepare.cached && !prepare.invalid
}

// invalidateAll empties the cache and marks every handle dead. Called
// when the connection is reset or re-established: statement ids do not
// survive either, so no server-side close is needed.
func (s *stmtCache) invalidateAll() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entries := range s.entries {
		for _, entry := range entries {
			entry.prepare.invalid = true
			entry.prepare.cached = false
		}
	}
	s.entries = make(map[uint64][]*cacheEntry)
	s.lru.Init()
}

// invalidate removes one handle from the cache and marks it dead, so
// the next Prepare of the same SQL re-prepares. Used when the server
// reports the statement id unknown.
func (s *stmtCache) invalidate(prepare *PrepareData) {
	prepare.invalid = true
	if s == nil || !prepare.cached {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := xxhash.Sum64String(prepare.PrepareStmt)
	for _, entry := range s.entries[key] {
		if entry.prepare == prepare {
			s.removeLocked(entry)
			prepare.refs--
			break
		}
	}
}

func (s *stmtCache) removeLocked(entry *cacheEntry) {
	s.lru.Remove(entry.element)
	key := xxhash.Sum64String(entry.sql)
	bucket := s.entries[key]
	for i := range bucket {
		if bucket[i] == entry {
			s.entries[key] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(s.entries[key]) == 0 {
		delete(s.entries, key)
	}
	entry.prepare.cached = false
}

// Stmt is a client-side handle on a prepared statement. It is bound to
// the connection that prepared it.
type Stmt struct {
	conn    *Conn
	prepare *PrepareData
	closed  bool
}

// ParamCount returns the number of parameter markers in the statement.
func (s *Stmt) ParamCount() int {
	return int(s.prepare.ParamsCount)
}

// Fields returns the result column definitions reported at prepare
// time, or nil for statements that produce no result set.
func (s *Stmt) Fields() []*Field {
	return s.prepare.ColumnFields
}

// Close releases this handle's reference. The server-side statement is
// deallocated once no cache entry and no other Stmt reference it. The
// close command expects no server reply. Closing an already closed
// Stmt is a no-op.
func (s *Stmt) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.conn.stmtCache.release(s.prepare) {
		return nil
	}
	return s.conn.closeStmt(s.prepare.StatementID)
}

// closeStmt sends a fire-and-forget COM_STMT_CLOSE.
func (c *Conn) closeStmt(statementID uint32) error {
	unlock, err := c.startExchange()
	if err != nil {
		return err
	}
	defer unlock()

	msg := &closeStmtMessage{statementID: statementID}
	c.resetSequence()
	err = msg.writeTo(c)
	if err == nil {
		err = c.flushStream()
	}
	c.endOfExchange(err)
	return err
}
