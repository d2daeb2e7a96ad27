package event

import (
	"bytes"
	"encoding/json"
)

// Recipient accepts both "bob" and {"userId": "bob"}, the web client sends
// whichever user object it has selected.
type Recipient string

func (r *Recipient) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*r = Recipient(obj.UserID)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*r = Recipient(s)
	return nil
}

type SendMessagePayload struct {
	From    string    `json:"from"`
	To      Recipient `json:"to"`
	Message string    `json:"message"`
}

type TypingRequest struct {
	From string    `json:"from"`
	To   Recipient `json:"to"`
}
