package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDropOldestEvictsHead(t *testing.T) {
	q := New(2, DropOldest)
	_, ok := q.Enqueue(Item{Text: "a"})
	require.True(t, ok)
	_, ok = q.Enqueue(Item{Text: "b"})
	require.True(t, ok)

	dropped, ok := q.Enqueue(Item{Text: "c"})
	require.True(t, ok)
	assert.Equal(t, 1, dropped)

	assert.Equal(t, "b", q.Dequeue().Text)
	assert.Equal(t, "c", q.Dequeue().Text)
}

func TestEnqueueRejectRefusesWhenFull(t *testing.T) {
	q := New(1, Reject)
	_, ok := q.Enqueue(Item{Text: "a"})
	require.True(t, ok)

	dropped, ok := q.Enqueue(Item{Text: "b"})
	assert.False(t, ok)
	assert.Equal(t, 0, dropped)
	assert.Equal(t, "a", q.Dequeue().Text)
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New(4, DropOldest)
	result := make(chan Item, 1)
	go func() { result <- q.Dequeue() }()

	q.Enqueue(Item{Text: "hello"})
	item := <-result
	assert.Equal(t, "hello", item.Text)
}
