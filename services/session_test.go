package services

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/sink"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type relay struct {
	log          *slog.Logger
	registry     *runtime.Registry
	store        *repositories.MessageStore
	orchestrator *runtime.Orchestrator
}

func newRelay(t *testing.T) relay {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := repositories.OpenInMemory()
	require.NoError(t, err)
	store := repositories.NewMessageStore(db, log)
	t.Cleanup(func() { _ = store.Close() })
	registry := runtime.NewRegistry(log)
	return relay{
		log:          log,
		registry:     registry,
		store:        store,
		orchestrator: runtime.NewOrchestrator(log, registry, store, observability.NewMonitoringManager(log)),
	}
}

func (r relay) connect() (*Session, *sink.ConnectionSink) {
	s := sink.NewConnectionSink(32)
	return NewSession(r.log, r.registry, r.orchestrator, s), s
}

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

func names(events []event.DomainEvent) []event.Name {
	res := make([]event.Name, 0, len(events))
	for _, e := range events {
		res = append(res, e.Event)
	}
	return res
}

func inbound(t *testing.T, name event.Name, data any) event.Inbound {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return event.Inbound{Event: name, Data: raw}
}

func TestSession_Register_Acknowledges_Then_Snapshot(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	ctx := context.Background()
	session, conn := r.connect()

	// When alice registers
	err := session.Handle(ctx, inbound(t, event.Register, "alice"))

	// Then she gets her acknowledgment followed by the presence snapshot
	req.NoError(err)
	events := drain(conn)
	req.Equal([]event.Name{event.Registered, event.AllUsers}, names(events))
	req.Equal("alice", events[0].Data.(domain.PresenceRecord).UserID)
	snapshot := events[1].Data.([]domain.PresenceRecord)
	req.Len(snapshot, 1)
	req.Equal("alice", session.UserID())
	req.True(r.registry.IsOnline("alice"))
}

func TestSession_Register_Delivers_Offline_Messages_First(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	ctx := context.Background()
	aliceSession, aliceConn := r.connect()
	req.NoError(aliceSession.Register(ctx, "alice"))

	// Given bob is offline and alice sends him two messages
	for _, body := range []string{"x", "y"} {
		req.NoError(aliceSession.SendMessage(ctx, event.SendMessagePayload{To: "bob", Message: body}))
	}
	acks := drain(aliceConn)
	req.Equal([]event.Name{event.Registered, event.AllUsers, event.MessageAck, event.MessageAck}, names(acks))
	req.Equal(domain.Processed, acks[2].Data.(domain.SendResult).Status)

	// When bob registers
	bobSession, bobConn := r.connect()
	req.NoError(bobSession.Register(ctx, "bob"))

	// Then the buffered messages come first, in order, before the acknowledgment
	events := drain(bobConn)
	req.Equal([]event.Name{event.Message, event.Message, event.Registered, event.AllUsers}, names(events))
	req.Equal("x", events[0].Data.(domain.Message).Body)
	req.Equal("y", events[1].Data.(domain.Message).Body)

	// And alice was told bob joined
	req.Equal([]event.Name{event.UserJoined}, names(drain(aliceConn)))
}

func TestSession_Register_Empty_Identity(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	session, conn := r.connect()

	err := session.Register(context.Background(), "")

	req.ErrorIs(err, errors.ErrInvalidRequest)
	req.Equal([]event.Name{event.RegistrationError}, names(drain(conn)))
	req.Empty(r.registry.AllRecords())
}

func TestSession_Identities_Are_Matched_Exactly(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	ctx := context.Background()
	padded, paddedConn := r.connect()
	plain, plainConn := r.connect()

	// Given " bob " and "bob" register from two connections
	req.NoError(padded.Register(ctx, " bob "))
	req.NoError(plain.Register(ctx, "bob"))
	drain(paddedConn)
	drain(plainConn)

	// Then they are two participants
	req.Equal(" bob ", padded.UserID())
	req.True(r.registry.IsOnline(" bob "))
	req.True(r.registry.IsOnline("bob"))
	req.Len(r.registry.AllRecords(), 2)

	// And a message to "bob" only reaches "bob"
	req.NoError(padded.SendMessage(ctx, event.SendMessagePayload{To: "bob", Message: "hi"}))
	received := drain(plainConn)
	req.Equal([]event.Name{event.Message}, names(received))
	req.Equal(" bob ", received[0].Data.(domain.Message).From)
	req.Equal([]event.Name{event.MessageAck}, names(drain(paddedConn)))
}

func TestSession_Register_Twice_Is_Refused(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	ctx := context.Background()
	session, conn := r.connect()
	req.NoError(session.Register(ctx, "alice"))
	drain(conn)

	err := session.Register(ctx, "mallory")

	req.ErrorIs(err, errors.ErrInvalidRequest)
	req.ErrorIs(err, errors.ErrAlreadyRegistered)
	req.Equal("alice", session.UserID())
	_, err = r.registry.Record("mallory")
	req.ErrorIs(err, errors.ErrNotFound)
}

func TestSession_Register_Accepts_User_Object(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	session, _ := r.connect()

	err := session.Handle(context.Background(), inbound(t, event.Register, map[string]string{"userId": "alice"}))

	req.NoError(err)
	req.Equal("alice", session.UserID())
}

func TestSession_Send_Before_Register(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	session, conn := r.connect()

	err := session.SendMessage(context.Background(), event.SendMessagePayload{From: "alice", To: "bob", Message: "hi"})

	req.ErrorIs(err, errors.ErrNotRegistered)
	req.Equal([]event.Name{event.MessageError}, names(drain(conn)))
	history, err := r.store.History(domain.ConversationID("alice", "bob"))
	req.NoError(err)
	req.Empty(history)
}

func TestSession_Send_Spoofed_Sender_Is_Refused(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	ctx := context.Background()
	session, conn := r.connect()
	req.NoError(session.Register(ctx, "alice"))
	drain(conn)

	err := session.SendMessage(ctx, event.SendMessagePayload{From: "bob", To: "carol", Message: "not me"})

	req.ErrorIs(err, errors.ErrInvalidRequest)
	events := drain(conn)
	req.Equal([]event.Name{event.MessageError}, names(events))
}

func TestSession_Send_Live_Through_Handle(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	ctx := context.Background()
	alice, aliceConn := r.connect()
	bob, bobConn := r.connect()
	req.NoError(alice.Register(ctx, "alice"))
	req.NoError(bob.Register(ctx, "bob"))
	drain(aliceConn)
	drain(bobConn)

	// When alice sends "hi" with the recipient given as a user object
	err := alice.Handle(ctx, inbound(t, event.SendMessage, map[string]any{
		"from":    "alice",
		"to":      map[string]string{"userId": "bob"},
		"message": "hi",
	}))

	// Then bob gets one message and alice one ack
	req.NoError(err)
	bobEvents := drain(bobConn)
	req.Equal([]event.Name{event.Message}, names(bobEvents))
	req.Equal("hi", bobEvents[0].Data.(domain.Message).Body)
	aliceEvents := drain(aliceConn)
	req.Equal([]event.Name{event.MessageAck}, names(aliceEvents))
	ack := aliceEvents[0].Data.(domain.SendResult)
	req.Equal(bobEvents[0].Data.(domain.Message).ID, ack.MessageID)
}

func TestSession_Send_Invalid_Payload_Pushes_Error(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	ctx := context.Background()
	session, conn := r.connect()
	req.NoError(session.Register(ctx, "alice"))
	drain(conn)

	err := session.Handle(ctx, inbound(t, event.SendMessage, map[string]string{"message": "to nobody"}))

	req.ErrorIs(err, errors.ErrInvalidRequest)
	req.Equal([]event.Name{event.MessageError}, names(drain(conn)))
}

func TestSession_Online_And_All_Users(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	ctx := context.Background()
	alice, aliceConn := r.connect()
	bob, _ := r.connect()
	req.NoError(alice.Register(ctx, "alice"))
	req.NoError(bob.Register(ctx, "bob"))
	bob.Disconnect()
	drain(aliceConn)

	req.NoError(alice.Handle(ctx, event.Inbound{Event: event.GetOnlineUsers}))
	req.NoError(alice.Handle(ctx, event.Inbound{Event: event.GetAllUsers}))

	events := drain(aliceConn)
	req.Equal([]event.Name{event.OnlineUsers, event.AllUsers}, names(events))
	req.Len(events[0].Data.([]domain.PresenceRecord), 1)
	req.Len(events[1].Data.([]domain.PresenceRecord), 2)
}

func TestSession_Typing_Is_Relayed_To_Online_Only(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	ctx := context.Background()
	alice, aliceConn := r.connect()
	bob, bobConn := r.connect()
	req.NoError(alice.Register(ctx, "alice"))
	req.NoError(bob.Register(ctx, "bob"))
	drain(aliceConn)
	drain(bobConn)

	req.NoError(alice.Handle(ctx, inbound(t, event.Typing, map[string]string{"to": "bob"})))
	req.NoError(alice.Handle(ctx, inbound(t, event.StopTyping, map[string]string{"to": "bob"})))
	req.NoError(alice.Handle(ctx, inbound(t, event.Typing, map[string]string{"to": "ghost"})))

	events := drain(bobConn)
	req.Equal([]event.Name{event.UserTyping, event.UserStoppedTyping}, names(events))
	req.Equal(event.TypingPayload{UserID: "alice"}, events[0].Data)
	buffered, err := r.store.PeekBuffer("ghost")
	req.NoError(err)
	req.Empty(buffered)
}

func TestSession_Disconnect_Bound(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	ctx := context.Background()
	observer, observerConn := r.connect()
	req.NoError(observer.Register(ctx, "observer"))
	session, _ := r.connect()
	req.NoError(session.Register(ctx, "alice"))
	drain(observerConn)

	// When alice's connection goes away
	session.Disconnect()

	// Then she is offline and everybody else knows
	req.False(r.registry.IsOnline("alice"))
	req.Equal([]event.Name{event.UserLeft}, names(drain(observerConn)))

	// And the session accepts nothing else
	req.ErrorIs(session.Register(ctx, "alice"), errors.ErrSessionClosed)
	req.ErrorIs(session.RequestAllUsers(ctx), errors.ErrSessionClosed)
	req.ErrorIs(session.SendMessage(ctx, event.SendMessagePayload{To: "observer", Message: "late"}), errors.ErrSessionClosed)
}

func TestSession_Disconnect_Unbound_Has_No_Presence_Effect(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	registry := mocks.NewMockIRegistry(ctrl)
	orchestrator := mocks.NewMockIOrchestrator(ctrl)
	conn := sink.NewConnectionSink(4)

	// Then the registry is never touched
	registry.EXPECT().DisconnectSink(gomock.Any(), gomock.Any()).Times(0)
	registry.EXPECT().Disconnect(gomock.Any()).Times(0)

	session := NewSession(slog.Default(), registry, orchestrator, conn)
	session.Disconnect()

	req.ErrorIs(session.Register(context.Background(), "alice"), errors.ErrSessionClosed)
}

func TestSession_Superseded_Connection_Closing_Late(t *testing.T) {
	req := require.New(t)
	r := newRelay(t)
	ctx := context.Background()
	first, _ := r.connect()
	second, _ := r.connect()

	// Given alice registered twice, from two connections
	req.NoError(first.Register(ctx, "alice"))
	req.NoError(second.Register(ctx, "alice"))

	// When the first connection closes
	first.Disconnect()

	// Then alice stays online on the second one
	req.True(r.registry.IsOnline("alice"))
	second.Disconnect()
	req.False(r.registry.IsOnline("alice"))
}

func TestSession_Register_Calls_In_Order(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	ctx := context.Background()
	registry := mocks.NewMockIRegistry(ctrl)
	orchestrator := mocks.NewMockIOrchestrator(ctrl)
	conn := mocks.NewMockEventSink(ctrl)
	record := domain.PresenceRecord{UserID: "alice", Status: domain.Online}

	conn.EXPECT().ID().Return("conn-1").AnyTimes()
	gomock.InOrder(
		registry.EXPECT().Register("alice", conn).Return(record),
		orchestrator.EXPECT().DeliverBufferedMessages(ctx, "alice", conn).Return(0, nil),
		conn.EXPECT().Consume(ctx, event.New(event.Registered, record)).Return(nil),
		registry.EXPECT().AllRecords().Return([]domain.PresenceRecord{record}),
		conn.EXPECT().Consume(ctx, event.New(event.AllUsers, []domain.PresenceRecord{record})).Return(nil),
	)

	session := NewSession(slog.Default(), registry, orchestrator, conn)
	req.NoError(session.Register(ctx, "alice"))
}

func TestSession_Orchestrator_Failure_Pushes_Message_Error(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	ctx := context.Background()
	registry := mocks.NewMockIRegistry(ctrl)
	orchestrator := mocks.NewMockIOrchestrator(ctrl)
	conn := sink.NewConnectionSink(8)

	registry.EXPECT().Register("alice", conn).Return(domain.PresenceRecord{UserID: "alice", Status: domain.Online})
	registry.EXPECT().AllRecords().Return(nil)
	orchestrator.EXPECT().DeliverBufferedMessages(ctx, "alice", conn).Return(0, nil)
	orchestrator.EXPECT().
		Send(ctx, domain.SendMessageCommand{From: "alice", To: "bob", Body: "hi"}).
		Return(domain.SendResult{}, errors.ErrDeliveryFailure)

	session := NewSession(slog.Default(), registry, orchestrator, conn)
	req.NoError(session.Register(ctx, "alice"))
	drain(conn)

	err := session.SendMessage(ctx, event.SendMessagePayload{To: "bob", Message: "hi"})

	req.ErrorIs(err, errors.ErrDeliveryFailure)
	events := drain(conn)
	req.Equal([]event.Name{event.MessageError}, names(events))
	req.Equal(event.ErrorPayload{Error: "Failed to send message"}, events[0].Data)
}
