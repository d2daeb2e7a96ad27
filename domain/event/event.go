// Package event holds the wire vocabulary of the real-time channel.
package event

import (
	"encoding/json"
)

type Name string

// Client to server.
const (
	Register       Name = "register"
	SendMessage    Name = "sendMessage"
	GetAllUsers    Name = "getAllUsers"
	GetOnlineUsers Name = "getOnlineUsers"
	Typing         Name = "typing"
	StopTyping     Name = "stopTyping"
)

// Server to client.
const (
	Registered        Name = "registered"
	RegistrationError Name = "registrationError"
	AllUsers          Name = "allUsers"
	OnlineUsers       Name = "onlineUsers"
	UserJoined        Name = "userJoined"
	UserLeft          Name = "userLeft"
	UserStatusUpdate  Name = "userStatusUpdate"
	Message           Name = "message"
	MessageAck        Name = "messageAck"
	MessageError      Name = "messageError"
	UserTyping        Name = "userTyping"
	UserStoppedTyping Name = "userStoppedTyping"
)

// DomainEvent is anything pushed through a connection sink.
type DomainEvent struct {
	Event Name `json:"event"`
	Data  any  `json:"data,omitempty"`
}

func New(name Name, data any) DomainEvent {
	return DomainEvent{Event: name, Data: data}
}

// Inbound is a raw client frame, Data is decoded by the session per event.
type Inbound struct {
	Event Name            `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

type TypingPayload struct {
	UserID string `json:"userId"`
}
