package repositories

import (
	"bytes"
	"chat-relay/domain"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

const (
	historyPrefix      = "hist:"
	bufferPrefix       = "buf:"
	conversationPrefix = "conv:"
	maxConflictRetries = 16
)

// DiskMessage is the stored form of a domain.Message.
type DiskMessage struct {
	ID      string    `cbor:"id"`
	From    string    `cbor:"from"`
	To      string    `cbor:"to"`
	Content string    `cbor:"content"`
	At      time.Time `cbor:"at"`
}

type conversationMeta struct {
	Users [2]string `cbor:"users"`
}

// MessageStore owns conversation histories and offline buffers.
// Every mutation goes through a badger read-write transaction, DrainBuffer
// reads and deletes inside the same one.
type MessageStore struct {
	db  *badger.DB
	log *slog.Logger
	seq atomic.Uint64
}

// OpenInMemory opens the badger instance backing a MessageStore.
// Nothing is written to disk, a restart starts empty.
func OpenInMemory() (*badger.DB, error) {
	return badger.Open(badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.WARNING))
}

func NewMessageStore(db *badger.DB, log *slog.Logger) *MessageStore {
	return &MessageStore{db: db, log: log}
}

func (m *MessageStore) Close() error {
	return m.db.Close()
}

// Append persists a message in its conversation history.
// The key is formatted as "hist:{hex(conversation)}:{seq_padded}" so that a
// prefix scan returns messages in append order. Hex keeps identities
// containing ':' from colliding with another conversation's prefix.
func (m *MessageStore) Append(conversationID string, message domain.Message) error {
	value, err := marshal(fromDomainMessage(message))
	if err != nil {
		return fmt.Errorf("encode message %s: %w", message.ID, err)
	}
	meta, err := marshal(conversationMeta{Users: domain.Participants(message.From, message.To)})
	if err != nil {
		return err
	}
	key := m.nextKey(historyPrefix, conversationID)
	metaKey := []byte(conversationPrefix + encode(conversationID))

	// The metadata is written on every append so that a concurrent clear,
	// which reads it, conflicts and retries instead of orphaning the message.
	err = m.update(func(txn *badger.Txn) error {
		if err := txn.Set(metaKey, meta); err != nil {
			return err
		}
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("append to %s: %w", conversationID, err)
	}
	m.log.Debug("Message stored", "conversation_id", conversationID, "message_id", message.ID)
	return nil
}

// History returns the conversation in append order, empty when unknown.
func (m *MessageStore) History(conversationID string) ([]domain.Message, error) {
	var messages []domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		messages, err = scan(txn, prefixFor(historyPrefix, conversationID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("history of %s: %w", conversationID, err)
	}
	return messages, nil
}

func (m *MessageStore) BufferForOffline(userID string, message domain.Message) error {
	value, err := marshal(fromDomainMessage(message))
	if err != nil {
		return fmt.Errorf("encode message %s: %w", message.ID, err)
	}
	key := m.nextKey(bufferPrefix, userID)
	if err = m.update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	}); err != nil {
		return fmt.Errorf("buffer for %s: %w", userID, err)
	}
	m.log.Debug("Message buffered", "user_id", userID, "message_id", message.ID)
	return nil
}

// DrainBuffer returns the buffered messages and removes them in one
// transaction. A message buffered concurrently is either part of the
// result or left for the next drain, never both and never lost.
func (m *MessageStore) DrainBuffer(userID string) ([]domain.Message, error) {
	prefix := prefixFor(bufferPrefix, userID)
	var drained []domain.Message
	err := m.update(func(txn *badger.Txn) error {
		messages, keys, err := scanWithKeys(txn, prefix)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		drained = messages
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drain buffer of %s: %w", userID, err)
	}
	return drained, nil
}

// PeekBuffer is the diagnostic read of a buffer, nothing is removed.
func (m *MessageStore) PeekBuffer(userID string) ([]domain.Message, error) {
	var messages []domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		messages, err = scan(txn, prefixFor(bufferPrefix, userID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("buffer of %s: %w", userID, err)
	}
	return messages, nil
}

// ClearConversation removes a history and its metadata in one transaction.
// Idempotent.
func (m *MessageStore) ClearConversation(conversationID string) error {
	metaKey := []byte(conversationPrefix + encode(conversationID))
	var cleared int
	err := m.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		_, keys, err := scanWithKeys(txn, prefixFor(historyPrefix, conversationID))
		if err != nil {
			return err
		}
		for _, key := range append(keys, metaKey) {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		cleared = len(keys)
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear %s: %w", conversationID, err)
	}
	m.log.Info("Conversation cleared", "conversation_id", conversationID, "messages", cleared)
	return nil
}

// Conversations lists every known conversation with its last message.
func (m *MessageStore) Conversations() ([]domain.ConversationSummary, error) {
	summaries := make(map[string]*domain.ConversationSummary)
	err := m.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		metaPrefix := []byte(conversationPrefix)
		for it.Seek(metaPrefix); it.ValidForPrefix(metaPrefix); it.Next() {
			item := it.Item()
			conversationID, err := decode(string(item.Key()[len(metaPrefix):]))
			if err != nil {
				return err
			}
			var meta conversationMeta
			if err = item.Value(func(val []byte) error { return unmarshal(val, &meta) }); err != nil {
				return err
			}
			summaries[conversationID] = &domain.ConversationSummary{ConversationID: conversationID, Users: meta.Users}
		}

		histPrefix := []byte(historyPrefix)
		for it.Seek(histPrefix); it.ValidForPrefix(histPrefix); it.Next() {
			item := it.Item()
			conversationID, err := ownerOf(item.Key(), historyPrefix)
			if err != nil {
				return err
			}
			summary, ok := summaries[conversationID]
			if !ok {
				summary = &domain.ConversationSummary{ConversationID: conversationID}
				summaries[conversationID] = summary
			}
			var dm DiskMessage
			if err = item.Value(func(val []byte) error { return unmarshal(val, &dm) }); err != nil {
				return err
			}
			summary.MessageCount++
			summary.LastMessage = lo.ToPtr(toDomainMessage(dm))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	res := lo.MapToSlice(summaries, func(_ string, s *domain.ConversationSummary) domain.ConversationSummary {
		return *s
	})
	sort.Slice(res, func(i, j int) bool { return res[i].ConversationID < res[j].ConversationID })
	return res, nil
}

func (m *MessageStore) Summary() (domain.StoreSummary, error) {
	summary := domain.StoreSummary{
		MessagesPerChat:      make(map[string]int),
		BufferedPerRecipient: make(map[string]int),
	}
	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		for _, p := range []struct {
			prefix string
			counts map[string]int
		}{
			{historyPrefix, summary.MessagesPerChat},
			{bufferPrefix, summary.BufferedPerRecipient},
		} {
			prefix := []byte(p.prefix)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				owner, err := ownerOf(it.Item().Key(), p.prefix)
				if err != nil {
					return err
				}
				p.counts[owner]++
			}
		}
		return nil
	})
	if err != nil {
		return domain.StoreSummary{}, fmt.Errorf("summary: %w", err)
	}
	summary.ConversationIDs = lo.Keys(summary.MessagesPerChat)
	sort.Strings(summary.ConversationIDs)
	summary.ConversationCount = len(summary.ConversationIDs)
	return summary, nil
}

// update retries on badger.ErrConflict, fn must be safe to run again.
func (m *MessageStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err = m.db.Update(fn); !errors.Is(err, badger.ErrConflict) {
			return err
		}
		m.log.Debug("Transaction conflict, retrying", "attempt", attempt+1)
	}
	return err
}

func (m *MessageStore) nextKey(prefix, owner string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefix, encode(owner), m.seq.Add(1)))
}

func prefixFor(prefix, owner string) []byte {
	return []byte(prefix + encode(owner) + ":")
}

func scan(txn *badger.Txn, prefix []byte) ([]domain.Message, error) {
	messages, _, err := scanWithKeys(txn, prefix)
	return messages, err
}

func scanWithKeys(txn *badger.Txn, prefix []byte) ([]domain.Message, [][]byte, error) {
	options := badger.DefaultIteratorOptions
	options.Prefix = prefix
	it := txn.NewIterator(options)
	defer it.Close()

	var messages []domain.Message
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		var dm DiskMessage
		if err := item.Value(func(val []byte) error { return unmarshal(val, &dm) }); err != nil {
			return nil, nil, err
		}
		messages = append(messages, toDomainMessage(dm))
		keys = append(keys, item.KeyCopy(nil))
	}
	return messages, keys, nil
}

// ownerOf extracts the decoded owner from "{prefix}{hex}:{seq}".
func ownerOf(key []byte, prefix string) (string, error) {
	rest := key[len(prefix):]
	i := bytes.LastIndexByte(rest, ':')
	if i < 0 {
		return "", fmt.Errorf("malformed key %q", key)
	}
	return decode(string(rest[:i]))
}

func encode(owner string) string {
	return hex.EncodeToString([]byte(owner))
}

func decode(s string) (string, error) {
	b, err := hex.DecodeString(s)
	return string(b), err
}

func fromDomainMessage(message domain.Message) DiskMessage {
	return DiskMessage{
		ID:      message.ID,
		From:    message.From,
		To:      message.To,
		Content: message.Body,
		At:      message.CreatedAt,
	}
}

func toDomainMessage(dm DiskMessage) domain.Message {
	return domain.Message{
		ID:        dm.ID,
		From:      dm.From,
		To:        dm.To,
		Body:      dm.Content,
		CreatedAt: dm.At.UTC(),
	}
}
