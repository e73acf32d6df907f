package daq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkQueue_DropsOldestOnOverflow(t *testing.T) {
	q := newChunkQueue(2)
	c1 := Chunk{Channels: [][]float64{{1}}}
	c2 := Chunk{Channels: [][]float64{{2}}}
	c3 := Chunk{Channels: [][]float64{{3}}}

	assert.False(t, q.Submit(c1))
	assert.False(t, q.Submit(c2))
	assert.True(t, q.Submit(c3)) // drops c1

	got, ok := q.Get(time.Second)
	require.True(t, ok)
	assert.Equal(t, c2, got)

	got, ok = q.Get(time.Second)
	require.True(t, ok)
	assert.Equal(t, c3, got)
}

func TestChunkQueue_GetTimesOutWhenEmpty(t *testing.T) {
	q := newChunkQueue(3)
	start := time.Now()
	_, ok := q.Get(50 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestChunkQueue_CloseUnblocksGet(t *testing.T) {
	q := newChunkQueue(3)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Get(5 * time.Second)
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Get did not unblock after Close")
	}
}
