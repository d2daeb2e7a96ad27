package e2e

import (
	"chat-relay/domain/event"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gookit/color"
	"github.com/stretchr/testify/suite"
)

// Frame is a server envelope with its data left raw.
type Frame struct {
	Event event.Name      `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// BaseRelaySuite talks to a relay started outside the test binary.
type BaseRelaySuite struct {
	suite.Suite
	Config Config
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseRelaySuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.RelayAddr == "" {
		s.T().Skip("RELAY_ADDR not set")
	}
}

func (s *BaseRelaySuite) header(t *testing.T, name string) {
	h := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		h = color.New(color.BgBlack, color.FgGreen).Render(h)
	}
	t.Log(h)
}

// Connect dials the websocket endpoint and sends the registration of userID,
// the caller reads the acknowledgment.
func (s *BaseRelaySuite) Connect(name, userID string) *Participant {
	s.header(s.T(), name)
	u := url.URL{Scheme: "ws", Host: s.Config.RelayAddr, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	s.Require().NoError(err, "Failed to connect to relay at "+u.String())
	s.T().Cleanup(func() { _ = conn.Close() })

	p := &Participant{s: s, conn: conn, UserID: userID}
	p.Send(event.Register, userID)
	return p
}

// GetJSON calls the query surface and decodes the body into v.
func (s *BaseRelaySuite) GetJSON(path string, v any) int {
	start := time.Now()
	resp, err := http.Get(fmt.Sprintf("http://%s%s", s.Config.RelayAddr, path))
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.T().Logf("HTTP GET %s [%d] in %v", path, resp.StatusCode, time.Since(start))
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

type Participant struct {
	s      *BaseRelaySuite
	conn   *websocket.Conn
	UserID string
}

func (p *Participant) Send(name event.Name, data any) {
	frame := map[string]any{"event": name, "data": data}
	if p.s.Config.DebugJSON {
		b, _ := json.MarshalIndent(frame, "", "  ")
		p.s.T().Logf("%s >>> %s", p.UserID, b)
	}
	p.s.Require().NoError(p.conn.WriteJSON(frame))
}

// Expect skips frames until one named name arrives.
func (p *Participant) Expect(name event.Name) Frame {
	for {
		p.s.Require().NoError(p.conn.SetReadDeadline(time.Now().Add(5 * time.Second)))
		var f Frame
		p.s.Require().NoError(p.conn.ReadJSON(&f), "waiting for %s", name)
		if p.s.Config.DebugJSON {
			p.s.T().Logf("%s <<< %s %s", p.UserID, f.Event, f.Data)
		}
		if f.Event == name {
			return f
		}
	}
}

func (p *Participant) Close() {
	_ = p.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = p.conn.Close()
}
