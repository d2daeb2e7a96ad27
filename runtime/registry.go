package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Registry owns presence records and connection bindings.
// Both maps are only touched under mu, which is also held while a
// transition is broadcast so observers see transitions in order.
type Registry struct {
	mu       sync.RWMutex
	log      *slog.Logger
	now      func() time.Time
	sessions map[string]contract.EventSink     // map participant -> Sink
	records  map[string]domain.PresenceRecord // map participant -> presence
}

func NewRegistry(log *slog.Logger) *Registry {
	return NewRegistryWithClock(log, func() time.Time { return time.Now().UTC() })
}

func NewRegistryWithClock(log *slog.Logger, now func() time.Time) *Registry {
	return &Registry{
		log:      log,
		now:      now,
		sessions: make(map[string]contract.EventSink),
		records:  make(map[string]domain.PresenceRecord),
	}
}

// Register binds a participant to its connection and flips it online.
// A previous binding is replaced without closing the old connection,
// closing it is the transport's job.
func (r *Registry) Register(userID string, sink contract.EventSink) domain.PresenceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	if previous, ok := r.sessions[userID]; ok && previous.ID() != sink.ID() {
		r.log.Info("Binding superseded", "user_id", userID, "previous_sink", previous.ID(), "sink", sink.ID())
	}
	r.sessions[userID] = sink
	record := r.setStatus(userID, domain.Online)
	r.broadcast(userID, event.New(event.UserJoined, record))
	r.log.Info("User registered", "user_id", userID, "sink", sink.ID())
	return record
}

// Disconnect flips a participant offline and drops its binding.
// Safe for participants that were never bound.
func (r *Registry) Disconnect(userID string) domain.PresenceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnect(userID, event.UserLeft)
}

// DisconnectSink releases the binding only if it still points at sinkID.
// A connection superseded by a newer registration closing late must not
// flip the newer binding offline.
func (r *Registry) DisconnectSink(userID, sinkID string) (domain.PresenceRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[userID]
	if !ok || current.ID() != sinkID {
		r.log.Debug("Ignoring disconnect of a stale binding", "user_id", userID, "sink", sinkID)
		return r.records[userID], false
	}
	return r.disconnect(userID, event.UserLeft), true
}

// ForceStatus is the administrative override. Forcing online is only
// accepted for a participant that is currently bound.
func (r *Registry) ForceStatus(userID string, status domain.Status) (domain.PresenceRecord, error) {
	if !status.IsValid() {
		return domain.PresenceRecord{}, fmt.Errorf("status %q: %w", status, errors.ErrInvalidRequest)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if status == domain.Offline {
		return r.disconnect(userID, event.UserStatusUpdate), nil
	}
	if _, ok := r.sessions[userID]; !ok {
		return domain.PresenceRecord{}, fmt.Errorf("user %q has no live connection: %w", userID, errors.ErrInvalidRequest)
	}
	record := r.setStatus(userID, domain.Online)
	r.broadcast(userID, event.New(event.UserStatusUpdate, record))
	return record, nil
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, bound := r.sessions[userID]
	return bound && r.records[userID].IsOnline()
}

func (r *Registry) ConnectionFor(userID string) (contract.EventSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sink, ok := r.sessions[userID]
	return sink, ok
}

func (r *Registry) Record(userID string) (domain.PresenceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[userID]
	if !ok {
		return domain.PresenceRecord{}, fmt.Errorf("user %q: %w", userID, errors.ErrNotFound)
	}
	return record, nil
}

func (r *Registry) AllRecords() []domain.PresenceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.records)
}

func (r *Registry) OnlineRecords() []domain.PresenceRecord {
	return lo.Filter(r.AllRecords(), func(item domain.PresenceRecord, _ int) bool {
		return item.IsOnline()
	})
}

// disconnect expects mu to be held. Only an online to offline transition
// is broadcast, an already offline participant just gets a fresher lastSeen.
func (r *Registry) disconnect(userID string, name event.Name) domain.PresenceRecord {
	wasOnline := r.records[userID].IsOnline()
	delete(r.sessions, userID)
	record := r.setStatus(userID, domain.Offline)
	if wasOnline {
		r.broadcast(userID, event.New(name, record))
	}
	r.log.Info("User disconnected", "user_id", userID)
	return record
}

// setStatus expects mu to be held.
func (r *Registry) setStatus(userID string, status domain.Status) domain.PresenceRecord {
	record := domain.PresenceRecord{UserID: userID, Status: status, LastSeen: r.now()}
	r.records[userID] = record
	r.log.Debug("User status updated", "user_id", userID, "status", status)
	return record
}

// broadcast pushes to every bound sink except the one of userID.
// Sinks never block, a failing one is logged and skipped.
func (r *Registry) broadcast(userID string, e event.DomainEvent) {
	for participantID, sink := range r.sessions {
		if participantID == userID {
			continue
		}
		if err := sink.Consume(context.Background(), e); err != nil {
			r.log.Warn("Presence broadcast not delivered",
				"user_id", participantID, "event", e.Event, "error", err)
		}
	}
}
