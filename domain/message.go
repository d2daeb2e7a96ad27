// Package domain contains core concepts of the chat system.
// This file defines Message events and related rules.
// Messages are immutable once created.
package domain

import (
	"time"
)

// Message represents an immutable direct message.
type Message struct {
	ID        string    `json:"id"` // uuid v7, time ordered
	From      string    `json:"from"`
	To        string    `json:"to"`
	Body      string    `json:"message"`
	CreatedAt time.Time `json:"timestamp"`
}

type DeliveryStatus string

const (
	Delivered DeliveryStatus = "delivered"
	Buffered  DeliveryStatus = "buffered"
	Failed    DeliveryStatus = "failed"
)

// Processed is the only status ever acknowledged to a sender.
const Processed = "processed"

// SendResult is the acknowledgment returned to the sender.
type SendResult struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	// Delivery is kept for logs and tests, it never reaches the wire.
	Delivery DeliveryStatus `json:"-"`
}
