// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParallelFor(t *testing.T) {
	for _, pool := range []*Pool{New(0), New(3), New(-1), Sequential()} {
		for _, n := range []int{0, 1, 7, 100, 1001} {
			visited := make([]int32, n)
			pool.ParallelFor(n, 10, func(start, end int) {
				for ii := start; ii < end; ii++ {
					atomic.AddInt32(&visited[ii], 1)
				}
			})
			for ii, count := range visited {
				require.Equalf(t, int32(1), count, "parallelism=%d, n=%d: element %d visited %d times",
					pool.MaxParallelism(), n, ii, count)
			}
		}
	}
}

func TestParallelForChunks(t *testing.T) {
	pool := New(4)
	var mu sync.Mutex
	var chunks [][2]int
	pool.ParallelFor(100, 10, func(start, end int) {
		mu.Lock()
		chunks = append(chunks, [2]int{start, end})
		mu.Unlock()
	})
	assert.Len(t, chunks, 4)

	// Below the minimum chunk size everything runs in one call.
	chunks = nil
	pool.ParallelFor(15, 10, func(start, end int) {
		chunks = append(chunks, [2]int{start, end})
	})
	assert.Equal(t, [][2]int{{0, 15}}, chunks)
}

func TestWaitToStart(t *testing.T) {
	pool := New(2)
	var count atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		pool.WaitToStart(func() {
			defer wg.Done()
			count.Add(1)
		})
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Timeout before all tasks were executed.")
	}
	assert.Equal(t, int32(10), count.Load())
}

func TestStartIfAvailable(t *testing.T) {
	pool := New(1)
	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, pool.StartIfAvailable(func() {
		close(started)
		<-release
	}))
	<-started
	assert.False(t, pool.StartIfAvailable(func() {}))
	close(release)
}
