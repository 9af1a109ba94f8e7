package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_HistoryThenLive(t *testing.T) {
	b := newBus(10)
	b.publish(Event{Type: EventStatus, Message: "before"})

	_, ch, history := b.subscribe()
	require.Len(t, history, 1)
	assert.Equal(t, "before", history[0].Message)
	assert.False(t, history[0].Timestamp.IsZero())

	b.publish(Event{Type: EventStatus, Message: "after"})
	ev := <-ch
	assert.Equal(t, "after", ev.Message)
}

func TestBus_SlowSubscriberDropsEvents(t *testing.T) {
	b := newBus(10)
	_, ch, _ := b.subscribe()

	for i := 0; i < defaultSubscriberBufCap+5; i++ {
		b.publish(Event{Type: EventStatus, Message: fmt.Sprintf("e%d", i)})
	}

	assert.Len(t, ch, defaultSubscriberBufCap)
	assert.Equal(t, "e0", (<-ch).Message)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := newBus(10)
	id, ch, _ := b.subscribe()

	b.unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)

	b.unsubscribe(id)
	b.publish(Event{Type: EventStatus})
}

func TestBus_Close(t *testing.T) {
	b := newBus(10)
	_, ch, _ := b.subscribe()
	b.publish(Event{Type: EventStatus, Message: "last"})

	b.close()
	b.publish(Event{Type: EventStatus, Message: "dropped"})

	ev, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, "last", ev.Message)
	_, ok = <-ch
	assert.False(t, ok)

	_, late, history := b.subscribe()
	_, ok = <-late
	assert.False(t, ok)
	require.Len(t, history, 1)
	assert.Equal(t, "last", history[0].Message)
}
