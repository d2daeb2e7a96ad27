package domain

import (
	"sort"
	"strings"
)

const conversationSeparator = "-"

// ConversationID returns the same key for (a, b) and (b, a).
// The result is degenerate when a == b, callers validate that upstream.
func ConversationID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, conversationSeparator)
}

// Participants returns the pair in canonical order.
func Participants(a, b string) [2]string {
	if b < a {
		return [2]string{b, a}
	}
	return [2]string{a, b}
}

type ConversationHistory struct {
	ConversationID string    `json:"chatId"`
	Users          [2]string `json:"users"`
	Messages       []Message `json:"messages"`
	TotalMessages  int       `json:"totalMessages"`
}

type ConversationSummary struct {
	ConversationID string    `json:"chatId"`
	Users          [2]string `json:"users"`
	MessageCount   int       `json:"messageCount"`
	LastMessage    *Message  `json:"lastMessage"`
}

// StoreSummary is a diagnostic view over the message store.
type StoreSummary struct {
	ConversationCount    int            `json:"totalChats"`
	MessagesPerChat      map[string]int `json:"messagesPerChat"`
	ConversationIDs      []string       `json:"chatIds"`
	BufferedPerRecipient map[string]int `json:"bufferedPerRecipient"`
}
