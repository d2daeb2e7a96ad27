package sink

import (
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnectionSink_Consume_Keeps_Order(t *testing.T) {
	req := require.New(t)
	s := NewConnectionSink(4)

	// When three events are consumed
	for _, name := range []event.Name{event.Registered, event.AllUsers, event.Message} {
		req.NoError(s.Consume(context.Background(), event.New(name, nil)))
	}

	// Then they are read back in the same order
	req.Equal(event.Registered, (<-s.Events()).Event)
	req.Equal(event.AllUsers, (<-s.Events()).Event)
	req.Equal(event.Message, (<-s.Events()).Event)
}

func TestConnectionSink_Full_Queue_Is_A_Delivery_Failure(t *testing.T) {
	req := require.New(t)
	s := NewConnectionSink(1)

	// Given a queue already full
	req.NoError(s.Consume(context.Background(), event.New(event.Message, nil)))

	// When another event comes in
	err := s.Consume(context.Background(), event.New(event.Message, nil))

	// Then it is refused without blocking
	req.ErrorIs(err, errors.ErrDeliveryFailure)
}

func TestConnectionSink_Closed(t *testing.T) {
	req := require.New(t)
	s := NewConnectionSink(2)
	req.NoError(s.Consume(context.Background(), event.New(event.Message, "queued")))

	// When the sink is closed twice
	s.Close()
	s.Close()

	// Then new events are refused
	req.True(s.Closed())
	req.ErrorIs(s.Consume(context.Background(), event.New(event.Message, nil)), errors.ErrConnectionClosed)

	// And queued events are still drained before the channel ends
	e, ok := <-s.Events()
	req.True(ok)
	req.Equal("queued", e.Data)
	_, ok = <-s.Events()
	req.False(ok)

	select {
	case <-s.Done():
	default:
		req.Fail("done should be closed")
	}
}

func TestConnectionSink_Unique_IDs(t *testing.T) {
	require.NotEqual(t, NewConnectionSink(1).ID(), NewConnectionSink(1).ID())
}
