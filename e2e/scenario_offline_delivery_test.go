package e2e

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

type testOfflineDeliverySuite struct {
	BaseRelaySuite
}

func TestOfflineDeliverySuite(t *testing.T) {
	suite.Run(t, &testOfflineDeliverySuite{})
}

func (s *testOfflineDeliverySuite) TestFullOfflineDeliveryFlow() {
	// Unique identities so the scenario can run against a long-lived relay
	run := uuid.NewString()[:8]
	alice := "alice-" + run
	bob := "bob-" + run

	var sender, receiver *Participant
	s.Run("Step 1: Alice registers while Bob is offline", func() {
		sender = s.Connect("Registering alice", alice)
		sender.Expect(event.Registered)
	})

	s.Run("Step 2: Messages to Bob are buffered and acknowledged", func() {
		for _, body := range []string{"x", "y"} {
			sender.Send(event.SendMessage, map[string]string{"to": bob, "message": body})
			var result domain.SendResult
			s.Require().NoError(json.Unmarshal(sender.Expect(event.MessageAck).Data, &result))
			s.Equal(domain.Processed, result.Status)
		}

		var buffered struct {
			Count int `json:"count"`
		}
		s.Equal(http.StatusOK, s.GetJSON("/api/buffered/"+bob, &buffered))
		s.Equal(2, buffered.Count)
	})

	s.Run("Step 3: Bob registers and receives both in order", func() {
		receiver = s.Connect("Registering bob", bob)
		var bodies []string
		for i := 0; i < 2; i++ {
			var message domain.Message
			s.Require().NoError(json.Unmarshal(receiver.Expect(event.Message).Data, &message))
			bodies = append(bodies, message.Body)
		}
		s.Equal([]string{"x", "y"}, bodies)
		receiver.Expect(event.Registered)

		var buffered struct {
			Count int `json:"count"`
		}
		s.Equal(http.StatusOK, s.GetJSON("/api/buffered/"+bob, &buffered))
		s.Equal(0, buffered.Count)
	})

	s.Run("Step 4: History holds both messages", func() {
		var history domain.ConversationHistory
		code := s.GetJSON(fmt.Sprintf("/api/messages?user1=%s&user2=%s", bob, alice), &history)
		s.Equal(http.StatusOK, code)
		s.Equal(2, history.TotalMessages)
		s.Equal("x", history.Messages[0].Body)
		s.Equal("y", history.Messages[1].Body)
	})

	s.Run("Step 5: Bob leaves and Alice is told", func() {
		receiver.Close()
		var record domain.PresenceRecord
		s.Require().NoError(json.Unmarshal(sender.Expect(event.UserLeft).Data, &record))
		s.Equal(bob, record.UserID)
		s.Equal(domain.Offline, record.Status)
	})
}
