// Package ws is the real-time channel: one websocket per participant
// connection, JSON envelopes in both directions.
package ws

import (
	"chat-relay/contract"
	"chat-relay/domain/event"
	"chat-relay/observability"
	"chat-relay/services"
	"chat-relay/sink"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

const Path = "/ws"

type Options struct {
	ConnectionBufferSize int
	MaxMessageSize       int64
	PongWait             time.Duration
	PingPeriod           time.Duration
	WriteWait            time.Duration
}

type Server struct {
	log          *slog.Logger
	registry     contract.IRegistry
	orchestrator contract.IOrchestrator
	monitoring   *observability.MonitoringManager
	options      Options
}

func NewServer(log *slog.Logger, registry contract.IRegistry, orchestrator contract.IOrchestrator,
	monitoring *observability.MonitoringManager, options Options) *Server {
	return &Server{
		log:          log,
		registry:     registry,
		orchestrator: orchestrator,
		monitoring:   monitoring,
		options:      options,
	}
}

// Mount registers the upgrade guard and the websocket endpoint on app.
func (s *Server) Mount(app *fiber.App) {
	app.Use(Path, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get(Path, websocket.New(s.handle))
}

// handle owns the connection until the client goes away. The reader runs
// here, a writer goroutine drains the connection sink.
func (s *Server) handle(conn *websocket.Conn) {
	connection := sink.NewConnectionSink(s.options.ConnectionBufferSize)
	session := services.NewSession(s.log, s.registry, s.orchestrator, connection)
	log := s.log.With("sink", connection.ID(), "remote", conn.RemoteAddr().String())

	s.monitoring.ConnectionOpened()
	defer s.monitoring.ConnectionClosed()
	log.Debug("Connection opened")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.write(conn, connection, log)
	}()

	s.read(ctx, conn, session, log)

	// Presence first so nobody routes to a sink about to close
	session.Disconnect()
	connection.Close()
	<-writerDone
	log.Debug("Connection closed", "user_id", session.UserID())
}

func (s *Server) read(ctx context.Context, conn *websocket.Conn, session *services.Session, log *slog.Logger) {
	conn.SetReadLimit(s.options.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.options.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.options.PongWait))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warn("WebSocket read error", "user_id", session.UserID(), "error", err)
			} else {
				log.Debug("WebSocket closed", "user_id", session.UserID(), "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.options.PongWait))

		var in event.Inbound
		if err := json.Unmarshal(frame, &in); err != nil {
			log.Debug("Malformed frame ignored", "error", err)
			continue
		}
		if err := session.Handle(ctx, in); err != nil {
			log.Debug("Event rejected", "event", in.Event, "user_id", session.UserID(), "error", err)
		}
	}
}

// write returns once the sink is closed and drained, or on the first write
// error, in which case the connection is closed to unblock the reader.
func (s *Server) write(conn *websocket.Conn, connection *sink.ConnectionSink, log *slog.Logger) {
	ticker := time.NewTicker(s.options.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-connection.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(s.options.WriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				log.Warn("WebSocket write error", "event", e.Event, "error", err)
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.options.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug("WebSocket ping error", "error", err)
				_ = conn.Close()
				return
			}
		}
	}
}
