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

package bucketpool

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPool(t *testing.T) {
	maxSize := 16384
	pool := New(1024, maxSize)
	require.Equal(t, maxSize, pool.maxSize)
	require.Len(t, pool.pools, 5)

	buf := pool.Get(64)
	require.Len(t, *buf, 64)
	require.Equal(t, 1024, cap(*buf))
	pool.Put(buf)

	// get boundary size
	buf = pool.Get(1024)
	require.Len(t, *buf, 1024)
	require.Equal(t, 1024, cap(*buf))
	pool.Put(buf)

	// get from the middle
	buf = pool.Get(5000)
	require.Len(t, *buf, 5000)
	require.Equal(t, 8192, cap(*buf))
	pool.Put(buf)

	// check last pool
	buf = pool.Get(16383)
	require.Len(t, *buf, 16383)
	require.Equal(t, 16384, cap(*buf))
	pool.Put(buf)

	// get big buffer
	buf = pool.Get(16385)
	require.Len(t, *buf, 16385)
	require.Equal(t, 16385, cap(*buf))
	pool.Put(buf)
}

func TestPoolOneSize(t *testing.T) {
	pool := New(1024, 1024)
	require.Len(t, pool.pools, 1)

	buf := pool.Get(64)
	require.Len(t, *buf, 64)
	require.Equal(t, 1024, cap(*buf))
	pool.Put(buf)

	buf = pool.Get(1025)
	require.Len(t, *buf, 1025)
	require.Equal(t, 1025, cap(*buf))
	pool.Put(buf)
}

func TestPoolTwoSizeNotMultiplier(t *testing.T) {
	pool := New(1024, 2000)
	require.Len(t, pool.pools, 2)

	buf := pool.Get(1500)
	require.Len(t, *buf, 1500)
	require.Equal(t, 2000, cap(*buf))
	pool.Put(buf)
}

func TestFuzz(t *testing.T) {
	maxTestSize := 16384
	for i := 0; i < 20000; i++ {
		minSize := rand.Intn(maxTestSize)
		maxSize := rand.Intn(maxTestSize-minSize) + minSize
		p := New(minSize, maxSize)
		bufSize := rand.Intn(maxTestSize)
		buf := p.Get(bufSize)
		require.Len(t, *buf, bufSize)
		sp := p.findPool(bufSize)
		if sp == nil {
			require.Equal(t, len(*buf), cap(*buf))
		} else {
			require.Equal(t, sp.size, cap(*buf))
		}
		p.Put(buf)
	}
}
