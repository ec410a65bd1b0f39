package app

import (
	"testing"

	"gauntlet-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversToGroupOnly(t *testing.T) {
	hub := NewHub()
	a, cancelA := hub.Subscribe(1)
	defer cancelA()
	b, cancelB := hub.Subscribe(2)
	defer cancelB()

	hub.Publish(domain.Event{GroupID: 1, Type: domain.EventGameOver})

	ev := <-a
	assert.Equal(t, domain.EventGameOver, ev.Type)
	select {
	case ev := <-b:
		t.Fatalf("group 2 received %v", ev)
	default:
	}
}

func TestHubDropsOldestWhenFull(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(1)
	defer cancel()

	for i := 0; i < subscriberBuffer+3; i++ {
		hub.Publish(domain.Event{GroupID: 1, Type: domain.EventCurrentQuestion, Payload: i})
	}

	require.Len(t, ch, subscriberBuffer)
	first := <-ch
	assert.Equal(t, 3, first.Payload)
	var last domain.Event
	for len(ch) > 0 {
		last = <-ch
	}
	assert.Equal(t, subscriberBuffer+2, last.Payload)
}

func TestHubCancelClosesAndUnregisters(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(1)
	assert.Equal(t, 1, hub.Subscribers(1))

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Subscribers(1))

	hub.Publish(domain.Event{GroupID: 1, Type: domain.EventGameOver})
}
