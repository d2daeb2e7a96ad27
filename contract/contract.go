//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink is the connection handle of one bound participant.
// Consume must not block: a full or closed sink returns an error.
type EventSink interface {
	ID() string
	Consume(ctx context.Context, e event.DomainEvent) error
}

type IRegistry interface {
	Register(userID string, sink EventSink) domain.PresenceRecord
	Disconnect(userID string) domain.PresenceRecord
	DisconnectSink(userID, sinkID string) (domain.PresenceRecord, bool)
	ForceStatus(userID string, status domain.Status) (domain.PresenceRecord, error)
	IsOnline(userID string) bool
	ConnectionFor(userID string) (EventSink, bool)
	Record(userID string) (domain.PresenceRecord, error)
	AllRecords() []domain.PresenceRecord
	OnlineRecords() []domain.PresenceRecord
}

type IMessageStore interface {
	Append(conversationID string, message domain.Message) error
	History(conversationID string) ([]domain.Message, error)
	BufferForOffline(userID string, message domain.Message) error
	DrainBuffer(userID string) ([]domain.Message, error)
	PeekBuffer(userID string) ([]domain.Message, error)
	ClearConversation(conversationID string) error
	Conversations() ([]domain.ConversationSummary, error)
	Summary() (domain.StoreSummary, error)
}

type IOrchestrator interface {
	Send(ctx context.Context, cmd domain.SendMessageCommand) (domain.SendResult, error)
	DeliverBufferedMessages(ctx context.Context, userID string, sink EventSink) (int, error)
	ConversationHistory(user1, user2 string) (domain.ConversationHistory, error)
	Relay(ctx context.Context, from, to string, name event.Name) bool
}
