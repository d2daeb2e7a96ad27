// Package runtime holds the stateful core: who is connected and how a
// message reaches its recipient. It contains no transport code.
package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// Orchestrator implements the send protocol on top of the registry and the
// message store. It never reaches into their tables directly.
type Orchestrator struct {
	log        *slog.Logger
	registry   contract.IRegistry
	store      contract.IMessageStore
	monitoring *observability.MonitoringManager
	now        func() time.Time
	newID      func() string
}

func NewOrchestrator(log *slog.Logger, registry contract.IRegistry,
	store contract.IMessageStore, monitoring *observability.MonitoringManager) *Orchestrator {
	return &Orchestrator{
		log:        log,
		registry:   registry,
		store:      store,
		monitoring: monitoring,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      newMessageID,
	}
}

// WithClock is used by tests to pin timestamps.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Send records the message in the conversation history, then pushes it live
// or buffers it. The sender is always acknowledged with "processed", the
// delivery branch only shows up in logs and counters.
func (o *Orchestrator) Send(ctx context.Context, cmd domain.SendMessageCommand) (domain.SendResult, error) {
	if err := validate.Struct(cmd); err != nil {
		return domain.SendResult{}, fmt.Errorf("%w: %s", errors.ErrInvalidRequest, err.Error())
	}

	message := domain.Message{
		ID:        o.newID(),
		From:      cmd.From,
		To:        cmd.To,
		Body:      cmd.Body,
		CreatedAt: o.now(),
	}
	conversationID := domain.ConversationID(cmd.From, cmd.To)
	if err := o.store.Append(conversationID, message); err != nil {
		return domain.SendResult{}, fmt.Errorf("store message %s: %w", message.ID, err)
	}
	o.monitoring.IncrMessagesSent()

	delivery, err := o.route(ctx, message)
	if err != nil {
		return domain.SendResult{}, err
	}
	o.log.Info("Message processed",
		"message_id", message.ID,
		"conversation_id", conversationID,
		"from", message.From,
		"to", message.To,
		"delivery", delivery)

	return domain.SendResult{MessageID: message.ID, Status: domain.Processed, Delivery: delivery}, nil
}

// route pushes live when the recipient is bound. A push failing after a
// positive online check falls back to the offline buffer.
func (o *Orchestrator) route(ctx context.Context, message domain.Message) (domain.DeliveryStatus, error) {
	if o.registry.IsOnline(message.To) {
		if sink, ok := o.registry.ConnectionFor(message.To); ok {
			err := sink.Consume(ctx, event.New(event.Message, message))
			if err == nil {
				o.monitoring.IncrDelivered()
				return domain.Delivered, nil
			}
			o.monitoring.IncrFailed()
			o.log.Warn("Live delivery failed, buffering",
				"message_id", message.ID,
				"to", message.To,
				"sink", sink.ID(),
				"error", err)
			if err := o.buffer(message); err != nil {
				return domain.Failed, err
			}
			return domain.Failed, nil
		}
	}
	if err := o.buffer(message); err != nil {
		return "", err
	}
	// The recipient may have bound and drained between the online check and
	// the buffer write, the message would then wait for the next registration.
	if sink, ok := o.registry.ConnectionFor(message.To); ok {
		if _, err := o.DeliverBufferedMessages(ctx, message.To, sink); err != nil {
			o.log.Warn("Late offline delivery failed", "message_id", message.ID, "to", message.To, "error", err)
		}
	}
	return domain.Buffered, nil
}

func (o *Orchestrator) buffer(message domain.Message) error {
	if err := o.store.BufferForOffline(message.To, message); err != nil {
		return fmt.Errorf("buffer message %s: %w", message.ID, err)
	}
	o.monitoring.IncrBuffered()
	return nil
}

// DeliverBufferedMessages drains the offline buffer of userID to its freshly
// bound sink, in buffering order. Must run after the registry bound sink so
// that concurrent senders go live instead of re-buffering.
// Messages the sink refuses are buffered again, in order.
func (o *Orchestrator) DeliverBufferedMessages(ctx context.Context, userID string, sink contract.EventSink) (int, error) {
	messages, err := o.store.DrainBuffer(userID)
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, nil
	}
	o.log.Info("Delivering offline messages", "user_id", userID, "count", len(messages))

	for i, message := range messages {
		if err := sink.Consume(ctx, event.New(event.Message, message)); err != nil {
			o.monitoring.IncrFailed()
			o.log.Warn("Offline delivery interrupted, buffering the rest",
				"user_id", userID,
				"delivered", i,
				"remaining", len(messages)-i,
				"error", err)
			for _, rest := range messages[i:] {
				if err := o.store.BufferForOffline(userID, rest); err != nil {
					return i, fmt.Errorf("re-buffer message %s: %w", rest.ID, err)
				}
			}
			o.monitoring.AddDrained(i)
			return i, nil
		}
	}
	o.monitoring.AddDrained(len(messages))
	return len(messages), nil
}

func (o *Orchestrator) ConversationHistory(user1, user2 string) (domain.ConversationHistory, error) {
	conversationID := domain.ConversationID(user1, user2)
	messages, err := o.store.History(conversationID)
	if err != nil {
		return domain.ConversationHistory{}, err
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	o.log.Debug("Chat history requested", "conversation_id", conversationID, "count", len(messages))
	return domain.ConversationHistory{
		ConversationID: conversationID,
		Users:          [2]string{user1, user2},
		Messages:       messages,
		TotalMessages:  len(messages),
	}, nil
}

// Relay forwards an ephemeral notification (typing indicators) to a bound
// recipient. Nothing is stored or buffered, it reports whether it was pushed.
func (o *Orchestrator) Relay(ctx context.Context, from, to string, name event.Name) bool {
	sink, ok := o.registry.ConnectionFor(to)
	if !ok {
		return false
	}
	if err := sink.Consume(ctx, event.New(name, event.TypingPayload{UserID: from})); err != nil {
		o.log.Debug("Relay dropped", "event", name, "from", from, "to", to, "error", err)
		return false
	}
	return true
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
