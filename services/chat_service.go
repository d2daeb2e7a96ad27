package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type IChatService interface {
	Presence() PresenceSnapshot
	User(userID string) (domain.PresenceRecord, error)
	ForceStatus(userID string, status domain.Status) (domain.PresenceRecord, error)
	History(query domain.ConversationQuery) (domain.ConversationHistory, error)
	ClearHistory(query domain.ConversationQuery) (string, error)
	Conversations() ([]domain.ConversationSummary, error)
	Buffered(userID string) ([]domain.Message, error)
	Summary() (domain.StoreSummary, error)
}

// PresenceSnapshot is what /api/users reports.
type PresenceSnapshot struct {
	AllUsers    []domain.PresenceRecord `json:"allUsers"`
	OnlineUsers []domain.PresenceRecord `json:"onlineUsers"`
	Stats       PresenceStats           `json:"stats"`
}

type PresenceStats struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Offline int `json:"offline"`
}

// ChatService is the read side used by the query surface, plus the
// administrative status override.
type ChatService struct {
	log          *slog.Logger
	registry     contract.IRegistry
	store        contract.IMessageStore
	orchestrator contract.IOrchestrator
}

func NewChatService(log *slog.Logger, registry contract.IRegistry,
	store contract.IMessageStore, orchestrator contract.IOrchestrator) *ChatService {
	return &ChatService{log: log, registry: registry, store: store, orchestrator: orchestrator}
}

func (s *ChatService) Presence() PresenceSnapshot {
	all := sortByUser(s.registry.AllRecords())
	online := sortByUser(s.registry.OnlineRecords())
	return PresenceSnapshot{
		AllUsers:    all,
		OnlineUsers: online,
		Stats: PresenceStats{
			Total:   len(all),
			Online:  len(online),
			Offline: len(all) - len(online),
		},
	}
}

func (s *ChatService) User(userID string) (domain.PresenceRecord, error) {
	return s.registry.Record(userID)
}

func (s *ChatService) ForceStatus(userID string, status domain.Status) (domain.PresenceRecord, error) {
	record, err := s.registry.ForceStatus(userID, status)
	if err != nil {
		return domain.PresenceRecord{}, err
	}
	s.log.Info("Status forced", "user_id", userID, "status", status)
	return record, nil
}

func (s *ChatService) History(query domain.ConversationQuery) (domain.ConversationHistory, error) {
	if err := validateQuery(query); err != nil {
		return domain.ConversationHistory{}, err
	}
	return s.orchestrator.ConversationHistory(query.User1, query.User2)
}

// ClearHistory returns the id of the cleared conversation.
func (s *ChatService) ClearHistory(query domain.ConversationQuery) (string, error) {
	if err := validateQuery(query); err != nil {
		return "", err
	}
	conversationID := domain.ConversationID(query.User1, query.User2)
	if err := s.store.ClearConversation(conversationID); err != nil {
		return "", err
	}
	return conversationID, nil
}

func (s *ChatService) Conversations() ([]domain.ConversationSummary, error) {
	conversations, err := s.store.Conversations()
	if err != nil {
		return nil, err
	}
	if conversations == nil {
		conversations = []domain.ConversationSummary{}
	}
	return conversations, nil
}

func (s *ChatService) Buffered(userID string) ([]domain.Message, error) {
	messages, err := s.store.PeekBuffer(userID)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages, nil
}

func (s *ChatService) Summary() (domain.StoreSummary, error) {
	return s.store.Summary()
}

func validateQuery(query domain.ConversationQuery) error {
	if err := validate.Struct(query); err != nil {
		return fmt.Errorf("%w: %s", errors.ErrInvalidRequest, err.Error())
	}
	return nil
}

func sortByUser(records []domain.PresenceRecord) []domain.PresenceRecord {
	if records == nil {
		return []domain.PresenceRecord{}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].UserID < records[j].UserID })
	return records
}
