package sink

import (
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ConnectionSink is the connection handle handed to the registry.
// Consume enqueues, the transport writer owns Events and drains it.
type ConnectionSink struct {
	id     string
	mu     sync.Mutex
	closed bool
	events chan event.DomainEvent
	done   chan struct{}
}

func NewConnectionSink(bufferSize int) *ConnectionSink {
	return &ConnectionSink{
		id:     uuid.NewString(),
		events: make(chan event.DomainEvent, bufferSize),
		done:   make(chan struct{}),
	}
}

func (s *ConnectionSink) ID() string { return s.id }

// Consume is called by the registry and the orchestrator.
// It never blocks: a full queue is a delivery failure the caller handles.
func (s *ConnectionSink) Consume(ctx context.Context, e event.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sink %s: %w", s.id, errors.ErrConnectionClosed)
	}
	select {
	case s.events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("sink %s outbound queue full: %w", s.id, errors.ErrDeliveryFailure)
	}
}

// Events is drained by the connection writer.
func (s *ConnectionSink) Events() <-chan event.DomainEvent { return s.events }

// Done is closed once Close has been called.
func (s *ConnectionSink) Done() <-chan struct{} { return s.done }

// Close is idempotent. Events already queued stay readable.
func (s *ConnectionSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.events)
}

func (s *ConnectionSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
