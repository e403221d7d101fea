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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStmtCacheHitAndRefs(t *testing.T) {
	cache := newStmtCache(4)

	p := &PrepareData{StatementID: 1, PrepareStmt: "select 1"}
	evicted := cache.put("select 1", p)
	assert.Empty(t, evicted)
	assert.Equal(t, 2, p.refs)
	assert.True(t, p.cached)

	hit := cache.get("select 1")
	require.Same(t, p, hit)
	assert.Equal(t, 3, p.refs)

	assert.Nil(t, cache.get("select 2"))

	// Releasing caller references never closes a cached statement.
	assert.False(t, cache.release(p))
	assert.False(t, cache.release(p))
	assert.Equal(t, 1, p.refs)
}

func TestStmtCacheEviction(t *testing.T) {
	cache := newStmtCache(2)

	a := &PrepareData{StatementID: 1, PrepareStmt: "a"}
	b := &PrepareData{StatementID: 2, PrepareStmt: "b"}
	c := &PrepareData{StatementID: 3, PrepareStmt: "c"}

	cache.put("a", a)
	cache.put("b", b)
	require.False(t, cache.release(a))
	require.False(t, cache.release(b))

	// a is the LRU entry and has no holders left: evicted and reported
	// for server-side close.
	evicted := cache.put("c", c)
	require.Len(t, evicted, 1)
	assert.Same(t, a, evicted[0])
	assert.False(t, a.cached)
	assert.Zero(t, a.refs)

	// b survived and is still served.
	assert.Same(t, b, cache.get("b"))
	assert.Nil(t, cache.get("a"))
	_ = c
}

func TestStmtCacheRecencyOrder(t *testing.T) {
	cache := newStmtCache(2)

	a := &PrepareData{StatementID: 1, PrepareStmt: "a"}
	b := &PrepareData{StatementID: 2, PrepareStmt: "b"}
	c := &PrepareData{StatementID: 3, PrepareStmt: "c"}

	cache.put("a", a)
	cache.put("b", b)
	cache.release(a)
	cache.release(b)

	// Touching a makes b the eviction candidate.
	require.Same(t, a, cache.get("a"))
	cache.release(a)

	evicted := cache.put("c", c)
	require.Len(t, evicted, 1)
	assert.Same(t, b, evicted[0])
}

func TestStmtCacheEvictedStillReferenced(t *testing.T) {
	cache := newStmtCache(1)

	a := &PrepareData{StatementID: 1, PrepareStmt: "a"}
	b := &PrepareData{StatementID: 2, PrepareStmt: "b"}

	cache.put("a", a)
	// The caller still holds a when b evicts it: the close is deferred
	// to the last release.
	evicted := cache.put("b", b)
	assert.Empty(t, evicted)
	assert.False(t, a.cached)
	assert.Equal(t, 1, a.refs)

	assert.True(t, cache.release(a))
}

func TestStmtCacheInvalidate(t *testing.T) {
	cache := newStmtCache(4)

	a := &PrepareData{StatementID: 1, PrepareStmt: "a"}
	cache.put("a", a)

	cache.invalidate(a)
	assert.True(t, a.invalid)
	assert.False(t, a.cached)
	assert.Nil(t, cache.get("a"))

	// An invalid handle is never closed server side: its id is dead.
	assert.False(t, cache.release(a))
}

func TestStmtCacheInvalidateAll(t *testing.T) {
	cache := newStmtCache(4)

	a := &PrepareData{StatementID: 1, PrepareStmt: "a"}
	b := &PrepareData{StatementID: 2, PrepareStmt: "b"}
	cache.put("a", a)
	cache.put("b", b)

	cache.invalidateAll()
	assert.True(t, a.invalid)
	assert.True(t, b.invalid)
	assert.Nil(t, cache.get("a"))
	assert.Nil(t, cache.get("b"))
	assert.False(t, cache.release(a))
}

func TestStmtCacheDisabled(t *testing.T) {
	cache := newStmtCache(0)

	a := &PrepareData{StatementID: 1, PrepareStmt: "a"}
	assert.Empty(t, cache.put("a", a))
	assert.Equal(t, 1, a.refs)
	assert.False(t, a.cached)
	assert.Nil(t, cache.get("a"))

	// The sole reference is the caller's: dropping it closes the handle.
	assert.True(t, cache.release(a))
}

func TestStmtCacheManyStatements(t *testing.T) {
	cache := newStmtCache(8)

	for i := 0; i < 100; i++ {
		sql := fmt.Sprintf("select %d", i)
		p := &PrepareData{StatementID: uint32(i), PrepareStmt: sql}
		cache.put(sql, p)
		cache.release(p)
	}
	assert.Equal(t, 8, cache.lru.Len())

	// Only the most recent survive.
	assert.Nil(t, cache.get("select 0"))
	assert.NotNil(t, cache.get("select 99"))
	assert.NotNil(t, cache.get("select 92"))
	assert.Nil(t, cache.get("select 91"))
}
