package main

import (
	"bytes"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"encoding/json"
	"testing"
	"time"

	"github.com/gookit/color"
	"github.com/stretchr/testify/require"
)

func TestCommand(t *testing.T) {
	tests := []struct {
		description string
		line        string
		want        map[string]any
		wantErr     bool
	}{
		{"Should ignore an empty line", "  ", nil, false},
		{"Should request all users", "/users", map[string]any{"event": event.GetAllUsers}, false},
		{"Should request online users", "/online", map[string]any{"event": event.GetOnlineUsers}, false},
		{
			"Should send a message",
			"@bob hello there",
			map[string]any{"event": event.SendMessage, "data": map[string]string{"to": "bob", "message": "hello there"}},
			false,
		},
		{"Should refuse a message without body", "@bob", nil, true},
		{"Should refuse an unknown command", "/quit", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			req := require.New(t)
			got, err := command(tt.line)
			if tt.wantErr {
				req.Error(err)
				return
			}
			req.NoError(err)
			req.Equal(tt.want, got)
		})
	}
}

func TestRender_Presence_Table(t *testing.T) {
	req := require.New(t)
	color.Disable()
	var buf bytes.Buffer
	data, err := json.Marshal([]domain.PresenceRecord{
		{UserID: "alice", Status: domain.Online, LastSeen: time.Now()},
		{UserID: "bob", Status: domain.Offline, LastSeen: time.Now()},
	})
	req.NoError(err)

	render(&buf, "alice", frame{Event: event.AllUsers, Data: data})

	req.Contains(buf.String(), "alice")
	req.Contains(buf.String(), "offline")
}

func TestRender_Message(t *testing.T) {
	req := require.New(t)
	color.Disable()
	var buf bytes.Buffer
	data, err := json.Marshal(domain.Message{ID: "1", From: "bob", To: "alice", Body: "hi", CreatedAt: time.Now()})
	req.NoError(err)

	render(&buf, "alice", frame{Event: event.Message, Data: data})

	req.Contains(buf.String(), "bob")
	req.Contains(buf.String(), "hi")
}
