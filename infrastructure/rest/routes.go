// Package rest is the query surface over presence and stored messages.
package rest

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/services"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

type statusRequest struct {
	Status domain.Status `json:"status" validate:"required,oneof=online offline"`
}

type Handlers struct {
	log        *slog.Logger
	service    services.IChatService
	monitoring *observability.MonitoringManager
	selfStats  func() (observability.ProcessStats, error)
	now        func() time.Time
}

func NewHandlers(log *slog.Logger, service services.IChatService, monitoring *observability.MonitoringManager) *Handlers {
	return &Handlers{
		log:        log,
		service:    service,
		monitoring: monitoring,
		selfStats:  observability.SelfStats,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// NewApp builds the fiber application with errors rendered as {error}.
// Immutable because params and queries end up as registry keys and must
// outlive the request buffer.
func NewApp() *fiber.App {
	return fiber.New(fiber.Config{
		AppName:               "chat-relay",
		DisableStartupMessage: true,
		Immutable:             true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if e, ok := err.(*fiber.Error); ok {
				return c.Status(e.Code).JSON(fiber.Map{"error": e.Message})
			}
			return c.Status(errors.MapToHTTPStatus(err)).JSON(fiber.Map{"error": err.Error()})
		},
	})
}

func (h *Handlers) Mount(app *fiber.App) {
	app.Get("/health", h.health)

	api := app.Group("/api")
	api.Get("/users", h.users)
	api.Get("/users/:userId", h.user)
	api.Put("/users/:userId/status", h.forceStatus)
	api.Get("/messages", h.history)
	api.Delete("/messages", h.clearHistory)
	api.Get("/chats", h.chats)
	api.Get("/buffered/:userId", h.buffered)
	api.Get("/debug/messages", h.debugMessages)
}

func (h *Handlers) health(c *fiber.Ctx) error {
	presence := h.service.Presence()
	summary, err := h.service.Summary()
	if err != nil {
		return err
	}
	body := fiber.Map{
		"status":      "ok",
		"timestamp":   h.now().Format(time.RFC3339Nano),
		"onlineUsers": presence.Stats.Online,
		"totalUsers":  presence.Stats.Total,
		"users":       presence.AllUsers,
		"totalChats":  summary.ConversationCount,
		"delivery":    h.monitoring.GetLatest(),
	}
	if self, err := h.selfStats(); err != nil {
		h.log.Debug("Process stats unavailable", "error", err)
	} else {
		body["process"] = self
	}
	return c.JSON(body)
}

func (h *Handlers) users(c *fiber.Ctx) error {
	presence := h.service.Presence()
	if c.Query("status") == string(domain.Online) {
		return c.JSON(fiber.Map{
			"onlineUsers": presence.OnlineUsers,
			"count":       len(presence.OnlineUsers),
		})
	}
	return c.JSON(presence)
}

func (h *Handlers) user(c *fiber.Ctx) error {
	record, err := h.service.User(c.Params("userId"))
	if err != nil {
		return c.Status(errors.MapToHTTPStatus(err)).JSON(fiber.Map{
			"error":  "User not found",
			"userId": c.Params("userId"),
		})
	}
	return c.JSON(record)
}

func (h *Handlers) forceStatus(c *fiber.Ctx) error {
	var request statusRequest
	if err := c.BodyParser(&request); err != nil {
		return badRequest(c, `Status must be either "online" or "offline"`)
	}
	if err := validate.Struct(request); err != nil {
		return badRequest(c, `Status must be either "online" or "offline"`)
	}
	record, err := h.service.ForceStatus(c.Params("userId"), request.Status)
	if err != nil {
		return c.Status(errors.MapToHTTPStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"message": "User status updated successfully",
		"user":    record,
	})
}

func (h *Handlers) history(c *fiber.Ctx) error {
	history, err := h.service.History(pair(c))
	if err != nil {
		return pairError(c, err)
	}
	return c.JSON(history)
}

func (h *Handlers) clearHistory(c *fiber.Ctx) error {
	chatID, err := h.service.ClearHistory(pair(c))
	if err != nil {
		return pairError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Chat history cleared successfully",
		"chatId":  chatID,
	})
}

func (h *Handlers) chats(c *fiber.Ctx) error {
	conversations, err := h.service.Conversations()
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"activeChats": conversations})
}

func (h *Handlers) buffered(c *fiber.Ctx) error {
	userID := c.Params("userId")
	messages, err := h.service.Buffered(userID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"userId":           userID,
		"bufferedMessages": messages,
		"count":            len(messages),
	})
}

func (h *Handlers) debugMessages(c *fiber.Ctx) error {
	summary, err := h.service.Summary()
	if err != nil {
		return err
	}
	return c.JSON(summary)
}

func pair(c *fiber.Ctx) domain.ConversationQuery {
	return domain.ConversationQuery{User1: c.Query("user1"), User2: c.Query("user2")}
}

func pairError(c *fiber.Ctx, err error) error {
	if errors.MapToHTTPStatus(err) == fiber.StatusBadRequest {
		return badRequest(c, "Both user1 and user2 parameters are required and must differ")
	}
	return err
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": message})
}
