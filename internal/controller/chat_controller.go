package controller

import (
	"context"

	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"

	"github.com/xaenox/medichat/internal/chat"
	"github.com/xaenox/medichat/internal/dto"
	"github.com/xaenox/medichat/internal/models"
	"github.com/xaenox/medichat/internal/pkg/serverutils"
	"github.com/xaenox/medichat/internal/websocket"
)

type SessionLister interface {
	ListSessions(ctx context.Context, ownerID string) ([]*models.ChatSession, error)
	GetSession(ctx context.Context, ownerID, sessionID string) (*models.ChatSession, error)
}

type ChatService interface {
	StartSession(ctx context.Context, ownerID, sessionID string) (*models.ChatSession, error)
	RenameSession(ctx context.Context, ownerID, sessionID, name string) error
	SendMessage(ctx context.Context, ownerID, sessionID, text string, qc models.QuickReplyContext) (*chat.TurnResult, error)
}

type ChatController struct {
	sessions SessionLister
	chat     ChatService
	hub      *websocket.Hub
}

func NewChatController(sessions SessionLister, chat ChatService, hub *websocket.Hub) *ChatController {
	return &ChatController{sessions: sessions, chat: chat, hub: hub}
}

func (c *ChatController) RegisterRoutes(r fiber.Router, auth fiber.Handler) {
	h := r.Group("/chat/v1", auth)
	h.Get("/sessions", c.ListSessions)
	h.Post("/sessions", c.CreateSession)
	h.Get("/sessions/:id", c.GetSession)
	h.Put("/sessions/:id", c.RenameSession)
	h.Post("/sessions/:id/messages", c.SendMessage)
	if c.hub != nil {
		h.Get("/ws", upgradeOnly, fiberws.New(c.serveWs))
	}
}

func (c *ChatController) ListSessions(ctx *fiber.Ctx) error {
	sessions, err := c.sessions.ListSessions(ctx.UserContext(), serverutils.CallerID(ctx))
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Sessions", sessions))
}

func (c *ChatController) CreateSession(ctx *fiber.Ctx) error {
	var req dto.CreateSessionRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	session, err := c.chat.StartSession(ctx.UserContext(), serverutils.CallerID(ctx), req.ID)
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Session created", session))
}

func (c *ChatController) GetSession(ctx *fiber.Ctx) error {
	session, err := c.sessions.GetSession(ctx.UserContext(), serverutils.CallerID(ctx), ctx.Params("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Session", session))
}

func (c *ChatController) RenameSession(ctx *fiber.Ctx) error {
	var req dto.RenameSessionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	if err := c.chat.RenameSession(ctx.UserContext(), serverutils.CallerID(ctx), ctx.Params("id"), req.Name); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse[any]("Session renamed", nil))
}

func (c *ChatController) SendMessage(ctx *fiber.Ctx) error {
	var req dto.SendMessageRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	result, err := c.chat.SendMessage(ctx.UserContext(), serverutils.CallerID(ctx), ctx.Params("id"), req.Text, models.QuickReplyContext(req.Context))
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Message sent", result))
}

func upgradeOnly(ctx *fiber.Ctx) error {
	if !fiberws.IsWebSocketUpgrade(ctx) {
		return fiber.ErrUpgradeRequired
	}
	ctx.Locals("owner_id", serverutils.CallerID(ctx))
	return ctx.Next()
}

func (c *ChatController) serveWs(conn *fiberws.Conn) {
	ownerID, _ := conn.Locals("owner_id").(string)
	websocket.ServeWs(c.hub, conn, ownerID)
}
