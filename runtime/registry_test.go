package runtime

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/sink"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(logs.GetLoggerFromLevel(slog.LevelDebug))
}

// drain returns what is currently queued on s without blocking.
func drain(s *sink.ConnectionSink) []event.DomainEvent {
	var res []event.DomainEvent
	for {
		select {
		case e := <-s.Events():
			res = append(res, e)
		default:
			return res
		}
	}
}

func TestRegistry_Register_Binds_And_Flips_Online(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()
	alice := sink.NewConnectionSink(8)

	// Given no user is connected
	req.Empty(registry.AllRecords())
	req.False(registry.IsOnline("alice"))

	// When alice registers
	record := registry.Register("alice", alice)

	// Then she is online and bound to her connection
	req.Equal("alice", record.UserID)
	req.Equal(domain.Online, record.Status)
	req.False(record.LastSeen.IsZero())
	req.True(registry.IsOnline("alice"))
	conn, ok := registry.ConnectionFor("alice")
	req.True(ok)
	req.Equal(alice.ID(), conn.ID())

	// And she does not receive her own broadcast
	req.Empty(drain(alice))
}

func TestRegistry_Disconnect_Removes_Binding(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()
	registry.Register("alice", sink.NewConnectionSink(8))

	// When alice disconnects
	record := registry.Disconnect("alice")

	// Then she is offline and unbound but still known
	req.Equal(domain.Offline, record.Status)
	req.False(registry.IsOnline("alice"))
	_, ok := registry.ConnectionFor("alice")
	req.False(ok)
	stored, err := registry.Record("alice")
	req.NoError(err)
	req.Equal(domain.Offline, stored.Status)
	req.Len(registry.AllRecords(), 1)
	req.Empty(registry.OnlineRecords())
}

func TestRegistry_Disconnect_Unknown_User_Creates_Offline_Record(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()

	record := registry.Disconnect("ghost")

	req.Equal(domain.Offline, record.Status)
	stored, err := registry.Record("ghost")
	req.NoError(err)
	req.Equal(domain.Offline, stored.Status)
}

func TestRegistry_Offline_Again_Is_Not_Broadcast(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()
	observer := sink.NewConnectionSink(8)
	registry.Register("observer", observer)
	registry.Register("bob", sink.NewConnectionSink(8))
	drain(observer)

	// Given bob left once
	registry.Disconnect("bob")
	req.Len(drain(observer), 1)

	// When he is disconnected again, forced offline, and a stranger leaves
	registry.Disconnect("bob")
	_, err := registry.ForceStatus("bob", domain.Offline)
	req.NoError(err)
	registry.Disconnect("ghost")

	// Then nobody is told about transitions that did not happen
	req.Empty(drain(observer))
	stored, err := registry.Record("ghost")
	req.NoError(err)
	req.Equal(domain.Offline, stored.Status)
}

func TestRegistry_Record_Not_Found(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()

	_, err := registry.Record("never-registered")

	req.ErrorIs(err, errors.ErrNotFound)
}

func TestRegistry_Broadcasts_Each_Transition_Once_To_Others(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()
	alice := sink.NewConnectionSink(8)
	bob := sink.NewConnectionSink(8)

	// Given alice is connected
	registry.Register("alice", alice)

	// When bob registers then leaves
	registry.Register("bob", bob)
	registry.Disconnect("bob")

	// Then alice saw exactly one joined and one left, in order
	events := drain(alice)
	req.Len(events, 2)
	req.Equal(event.UserJoined, events[0].Event)
	req.Equal("bob", events[0].Data.(domain.PresenceRecord).UserID)
	req.Equal(event.UserLeft, events[1].Event)
	req.Equal(domain.Offline, events[1].Data.(domain.PresenceRecord).Status)

	// And bob never received his own transitions
	req.Empty(drain(bob))
}

func TestRegistry_Reregistration_Last_Wins(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()
	first := sink.NewConnectionSink(8)
	second := sink.NewConnectionSink(8)

	// Given alice registered on a first connection
	registry.Register("alice", first)

	// When she registers again on a second one
	registry.Register("alice", second)

	// Then the binding points at the second connection
	conn, ok := registry.ConnectionFor("alice")
	req.True(ok)
	req.Equal(second.ID(), conn.ID())

	// And the first connection closing late does not flip her offline
	_, released := registry.DisconnectSink("alice", first.ID())
	req.False(released)
	req.True(registry.IsOnline("alice"))

	// But the current one does
	record, released := registry.DisconnectSink("alice", second.ID())
	req.True(released)
	req.Equal(domain.Offline, record.Status)
	req.False(registry.IsOnline("alice"))
}

func TestRegistry_ForceStatus(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()
	observer := sink.NewConnectionSink(8)
	registry.Register("observer", observer)

	// Forcing online without a connection is refused
	_, err := registry.ForceStatus("bob", domain.Online)
	req.ErrorIs(err, errors.ErrInvalidRequest)

	// Unknown status is refused
	_, err = registry.ForceStatus("bob", domain.Status("away"))
	req.ErrorIs(err, errors.ErrInvalidRequest)

	// Forcing a bound user offline drops the binding and broadcasts a status update
	registry.Register("bob", sink.NewConnectionSink(8))
	drain(observer)
	record, err := registry.ForceStatus("bob", domain.Offline)
	req.NoError(err)
	req.Equal(domain.Offline, record.Status)
	_, ok := registry.ConnectionFor("bob")
	req.False(ok)
	events := drain(observer)
	req.Len(events, 1)
	req.Equal(event.UserStatusUpdate, events[0].Event)

	// Forcing a bound user online refreshes its record
	record, err = registry.ForceStatus("observer", domain.Online)
	req.NoError(err)
	req.Equal(domain.Online, record.Status)
}

func TestRegistry_Broadcast_Skips_Failing_Sink(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()
	closed := sink.NewConnectionSink(1)
	healthy := sink.NewConnectionSink(8)
	registry.Register("closed", closed)
	registry.Register("healthy", healthy)
	drain(closed)
	closed.Close()

	// When a third user joins
	registry.Register("carol", sink.NewConnectionSink(8))

	// Then the healthy observer is still notified
	events := drain(healthy)
	req.Len(events, 1)
	req.Equal(event.UserJoined, events[0].Event)
}

func TestRegistry_Uses_Clock(t *testing.T) {
	req := require.New(t)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	registry := NewRegistryWithClock(slog.Default(), func() time.Time { return at })

	record := registry.Register("alice", sink.NewConnectionSink(1))

	req.Equal(at, record.LastSeen)
}
