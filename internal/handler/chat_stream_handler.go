package handler

import (
	"context"
	"time"

	"reflection-chat-be/internal/dto"
	"reflection-chat-be/internal/pkg/logger"
	"reflection-chat-be/internal/pkg/serverutils"
	"reflection-chat-be/internal/service"
	internalWS "reflection-chat-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const commandTimeout = 2 * time.Minute

type ChatStreamHandler struct {
	chatService service.IChatService
	hub         *internalWS.Hub
	jwtSecret   string
	logger      logger.ILogger
}

func NewChatStreamHandler(chatService service.IChatService, hub *internalWS.Hub, jwtSecret string, log logger.ILogger) *ChatStreamHandler {
	return &ChatStreamHandler{
		chatService: chatService,
		hub:         hub,
		jwtSecret:   jwtSecret,
		logger:      log,
	}
}

// ServeWs authenticates the handshake and runs one live chat view for the
// lifetime of the connection.
func (h *ChatStreamHandler) ServeWs(c *fiber.Ctx) error {
	// Priority 1: Query Param (Browser standard)
	tokenStr := c.Query("token")
	// Priority 2: Authorization Header (Tooling/Non-browser standard)
	if tokenStr == "" {
		tokenStr = serverutils.BearerToken(c)
	}

	userId, err := serverutils.ParseUserToken(tokenStr, h.jwtSecret)
	if err != nil {
		h.logger.Warn("ChatStreamHandler", "Rejected WS handshake", map[string]interface{}{"error": err.Error()})
		return c.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(fiber.StatusUnauthorized, err.Error()))
	}

	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return websocket.New(func(conn *websocket.Conn) {
		h.logger.Info("ChatStreamHandler", "Starting WebSocket session", map[string]interface{}{"user_id": userId})

		client := internalWS.NewClient(h.hub, conn, userId, h.logger)
		view := h.chatService.OpenView(userId, client)
		// A submit in flight finishes even if the client goes away, so the
		// reply is stored.
		ctx := context.Background()

		client.OnCommand = func(cmd dto.StreamCommand) {
			h.dispatch(ctx, client, view, cmd)
		}
		client.Serve()

		view.Close()
		h.logger.Info("ChatStreamHandler", "WebSocket session ended", map[string]interface{}{"user_id": userId})
	})(c)
}

// dispatch runs on the read loop. Commands that write to the store run in
// their own goroutine so a slow AI reply does not block switching sessions.
func (h *ChatStreamHandler) dispatch(ctx context.Context, client *internalWS.Client, view *service.ChatView, cmd dto.StreamCommand) {
	if err := serverutils.ValidateRequest(cmd); err != nil {
		client.SendError(err.Error())
		return
	}

	switch cmd.Type {
	case "switch_session":
		view.SwitchSession(cmd.SessionId)
	case "resubscribe":
		view.ResubscribeSessions()
		view.Resubscribe()
	case "submit":
		go h.run(ctx, client, cmd, func(ctx context.Context) error { return view.Submit(ctx, cmd.Content) })
	case "new_chat":
		go h.run(ctx, client, cmd, func(ctx context.Context) error {
			_, err := view.NewChat(ctx)
			return err
		})
	case "delete_chat":
		go h.run(ctx, client, cmd, func(ctx context.Context) error { return view.DeleteChat(ctx, cmd.SessionId) })
	}
}

// run executes a command; failures are already shown in the view state.
func (h *ChatStreamHandler) run(parent context.Context, client *internalWS.Client, cmd dto.StreamCommand, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(parent, commandTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		h.logger.Warn("ChatStreamHandler", "Command failed", map[string]interface{}{
			"user_id":    client.UserID,
			"command":    cmd.Type,
			"session_id": cmd.SessionId,
			"error":      err.Error(),
		})
	}
}

func (h *ChatStreamHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/ws", h.ServeWs)
}
