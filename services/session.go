package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

type sessionState int

const (
	unbound sessionState = iota
	bound
	closed
)

func (s sessionState) String() string {
	switch s {
	case unbound:
		return "unbound"
	case bound:
		return "bound"
	default:
		return "closed"
	}
}

// Session drives one connection: unbound -> bound -> closed.
// Events of one session are handled one at a time, sessions of different
// connections interleave freely.
type Session struct {
	mu           sync.Mutex
	log          *slog.Logger
	registry     contract.IRegistry
	orchestrator contract.IOrchestrator
	sink         contract.EventSink
	state        sessionState
	userID       string
}

func NewSession(log *slog.Logger, registry contract.IRegistry,
	orchestrator contract.IOrchestrator, sink contract.EventSink) *Session {
	return &Session{
		log:          log.With("sink", sink.ID()),
		registry:     registry,
		orchestrator: orchestrator,
		sink:         sink,
		state:        unbound,
	}
}

// UserID is empty until the session is bound.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Handle decodes and dispatches one inbound frame.
func (s *Session) Handle(ctx context.Context, in event.Inbound) error {
	switch in.Event {
	case event.Register:
		var identity event.Recipient
		if err := decode(in.Data, &identity); err != nil {
			s.push(ctx, event.New(event.RegistrationError, event.ErrorPayload{Error: "Invalid user id"}))
			return err
		}
		return s.Register(ctx, string(identity))
	case event.SendMessage:
		var payload event.SendMessagePayload
		if err := decode(in.Data, &payload); err != nil {
			s.push(ctx, event.New(event.MessageError, event.ErrorPayload{Error: "Invalid message payload"}))
			return err
		}
		return s.SendMessage(ctx, payload)
	case event.GetAllUsers:
		return s.RequestAllUsers(ctx)
	case event.GetOnlineUsers:
		return s.RequestOnlineUsers(ctx)
	case event.Typing, event.StopTyping:
		var payload event.TypingRequest
		if err := decode(in.Data, &payload); err != nil {
			return err
		}
		return s.Typing(ctx, payload, in.Event == event.Typing)
	default:
		s.log.Debug("Unknown event ignored", "event", in.Event)
		return fmt.Errorf("event %q: %w", in.Event, errors.ErrInvalidRequest)
	}
}

// Register binds the session to identity. Pending offline messages are
// delivered before the acknowledgment and the presence snapshot.
func (s *Session) Register(ctx context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case closed:
		return errors.ErrSessionClosed
	case bound:
		s.push(ctx, event.New(event.RegistrationError, event.ErrorPayload{Error: "Already registered"}))
		return fmt.Errorf("%w: %w", errors.ErrInvalidRequest, errors.ErrAlreadyRegistered)
	}

	if identity == "" {
		s.push(ctx, event.New(event.RegistrationError, event.ErrorPayload{Error: "Invalid user id"}))
		return fmt.Errorf("empty identity: %w", errors.ErrInvalidRequest)
	}

	record := s.registry.Register(identity, s.sink)
	s.userID = identity
	s.state = bound

	delivered, err := s.orchestrator.DeliverBufferedMessages(ctx, identity, s.sink)
	if err != nil {
		s.log.Error("Offline messages not delivered", "user_id", identity, "error", err)
	}
	s.push(ctx, event.New(event.Registered, record))
	s.push(ctx, event.New(event.AllUsers, s.registry.AllRecords()))
	s.log.Info("Session bound", "user_id", identity, "offline_delivered", delivered)
	return nil
}

// SendMessage relays a message from the bound identity.
func (s *Session) SendMessage(ctx context.Context, payload event.SendMessagePayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireBound(); err != nil {
		s.push(ctx, event.New(event.MessageError, event.ErrorPayload{Error: "Not registered"}))
		return err
	}
	from := payload.From
	if from == "" {
		from = s.userID
	}
	if from != s.userID {
		s.push(ctx, event.New(event.MessageError, event.ErrorPayload{Error: "Sender does not match session"}))
		return fmt.Errorf("from %q on session of %q: %w", from, s.userID, errors.ErrInvalidRequest)
	}

	result, err := s.orchestrator.Send(ctx, domain.SendMessageCommand{
		From: from,
		To:   string(payload.To),
		Body: payload.Message,
	})
	if err != nil {
		s.log.Warn("Message not sent", "user_id", s.userID, "to", payload.To, "error", err)
		s.push(ctx, event.New(event.MessageError, event.ErrorPayload{Error: "Failed to send message"}))
		return err
	}
	s.push(ctx, event.New(event.MessageAck, result))
	return nil
}

func (s *Session) RequestAllUsers(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == closed {
		return errors.ErrSessionClosed
	}
	s.push(ctx, event.New(event.AllUsers, s.registry.AllRecords()))
	return nil
}

func (s *Session) RequestOnlineUsers(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == closed {
		return errors.ErrSessionClosed
	}
	s.push(ctx, event.New(event.OnlineUsers, s.registry.OnlineRecords()))
	return nil
}

// Typing forwards a typing indicator to an online recipient, offline ones
// never hear about it.
func (s *Session) Typing(ctx context.Context, payload event.TypingRequest, started bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireBound(); err != nil {
		return err
	}
	name := event.UserStoppedTyping
	if started {
		name = event.UserTyping
	}
	s.orchestrator.Relay(ctx, s.userID, string(payload.To), name)
	return nil
}

// Disconnect is terminal. Only a bound session touches presence, and only
// if its connection is still the current binding of the identity.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.state
	s.state = closed
	if previous != bound {
		s.log.Debug("Session closed", "state", previous)
		return
	}
	if _, released := s.registry.DisconnectSink(s.userID, s.sink.ID()); !released {
		s.log.Info("Superseded session closed", "user_id", s.userID)
		return
	}
	s.log.Info("Session closed", "user_id", s.userID)
}

func (s *Session) requireBound() error {
	switch s.state {
	case unbound:
		return errors.ErrNotRegistered
	case closed:
		return errors.ErrSessionClosed
	}
	return nil
}

func (s *Session) push(ctx context.Context, e event.DomainEvent) {
	if err := s.sink.Consume(ctx, e); err != nil {
		s.log.Warn("Reply not delivered", "event", e.Event, "user_id", s.userID, "error", err)
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("missing data: %w", errors.ErrInvalidRequest)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s", errors.ErrInvalidRequest, err.Error())
	}
	return nil
}
