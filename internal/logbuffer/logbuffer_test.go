package logbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferTailTruncates(t *testing.T) {
	b := New(3)
	b.Append("a")
	b.Append("b")
	b.Append("c")
	b.Append("d")

	require.Equal(t, []string{"b", "c", "d"}, b.Tail(0))
	assert.Equal(t, []string{"c", "d"}, b.Tail(2))
}

func TestSubscribeReceivesInitialAndLive(t *testing.T) {
	b := New(10)
	b.Append("a")
	b.Append("b")

	sub := b.Subscribe(4, 5)
	assert.Equal(t, []string{"a", "b"}, sub.Initial)

	b.Append("c")
	assert.Equal(t, "c", <-sub.Lines)

	b.Unsubscribe(sub.ID)
	_, ok := <-sub.Lines
	assert.False(t, ok)
}

func TestSlowSubscriberDropsFramesWithoutBlockingIngestion(t *testing.T) {
	b := New(100)
	sub := b.Subscribe(2, 0)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			b.Append("line")
		}
		close(done)
	}()

	<-done
	assert.Equal(t, 50, len(b.Tail(0)))
	b.Unsubscribe(sub.ID)
}
