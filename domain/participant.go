// Package domain contains core concepts of the chat system.
// This file defines Participant presence and related invariants.
// No runtime, network, or UI logic should be added here.
package domain

import "time"

type Status string

const (
	Online  Status = "online"
	Offline Status = "offline"
)

// IsValid reports whether s is one of the two known presence states.
func (s Status) IsValid() bool {
	return s == Online || s == Offline
}

// PresenceRecord is created on first registration and never deleted.
// A record with Status Online always has a live binding in the registry.
type PresenceRecord struct {
	UserID   string    `json:"userId"`
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

func (p PresenceRecord) IsOnline() bool {
	return p.Status == Online
}
