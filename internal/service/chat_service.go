package service

import (
	"context"
	"fmt"

	"reflection-chat-be/internal/constant"
	"reflection-chat-be/internal/dto"
	"reflection-chat-be/internal/entity"
	"reflection-chat-be/internal/mapper"
	"reflection-chat-be/internal/pkg/logger"
	"reflection-chat-be/internal/repository/contract"
	"reflection-chat-be/internal/repository/memory"
	"reflection-chat-be/pkg/events"
	"reflection-chat-be/pkg/responder"
)

// IChatService defines the chat service interface
type IChatService interface {
	CreateSession(ctx context.Context, userId string) (*dto.CreateSessionResponse, error)
	GetAllSessions(ctx context.Context, userId string) ([]*dto.SessionResponse, error)
	GetChatHistory(ctx context.Context, userId, sessionId string) ([]*dto.MessageResponse, error)
	SendChat(ctx context.Context, userId string, request *dto.SendChatRequest) (*dto.SendChatResponse, error)
	DeleteSession(ctx context.Context, userId, sessionId string) error
	RepairSession(ctx context.Context, userId, sessionId string) (*dto.SessionResponse, error)
	// OpenView starts a live view for one client. The caller must Close it.
	OpenView(userId string, sink ViewSink) *ChatView
}

type chatService struct {
	turns       *chatTurns
	submissions *memory.SubmissionRepository
	mapper      *mapper.ChatMapper
	logger      logger.ILogger
}

func NewChatService(
	sessions contract.ChatSessionRepository,
	messages contract.ChatMessageRepository,
	responder responder.Responder,
	repair IRepairService,
	submissions *memory.SubmissionRepository,
	publisher events.Publisher,
	log logger.ILogger,
) IChatService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &chatService{
		turns: &chatTurns{
			sessions:  sessions,
			messages:  messages,
			responder: responder,
			repair:    repair,
			publisher: publisher,
			logger:    log,
		},
		submissions: submissions,
		mapper:      mapper.NewChatMapper(),
		logger:      log,
	}
}

// CreateSession creates a new, empty chat session
func (cs *chatService) CreateSession(ctx context.Context, userId string) (*dto.CreateSessionResponse, error) {
	id, err := cs.turns.createSession(ctx, userId)
	if err != nil {
		return nil, err
	}
	return &dto.CreateSessionResponse{Id: id}, nil
}

func (cs *chatService) GetAllSessions(ctx context.Context, userId string) ([]*dto.SessionResponse, error) {
	sessions, err := cs.turns.sessions.FindAll(ctx, userId)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		r := cs.mapper.ChatSessionToResponse(s)
		res = append(res, &r)
	}
	return res, nil
}

func (cs *chatService) GetChatHistory(ctx context.Context, userId, sessionId string) ([]*dto.MessageResponse, error) {
	// Distinguish an unknown session from an empty one
	if _, err := cs.turns.sessions.FindOne(ctx, userId, sessionId); err != nil {
		return nil, err
	}
	messages, err := cs.turns.messages.FindAll(ctx, userId, sessionId)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.MessageResponse, 0, len(messages))
	for _, m := range messages {
		res = append(res, cs.mapper.ChatMessageToResponse(m))
	}
	return res, nil
}

// SendChat appends the user message, asks the responder and appends its reply.
// A responder failure is not an error: the fallback reply is stored instead
// and the cause is reported in ReplyError.
func (cs *chatService) SendChat(ctx context.Context, userId string, request *dto.SendChatRequest) (*dto.SendChatResponse, error) {
	if request.ClientMessageId == "" {
		return cs.sendChat(ctx, userId, request)
	}

	key := fmt.Sprintf("%s:%s:%s", userId, request.SessionId, request.ClientMessageId)
	sub, owner := cs.submissions.Reserve(key)
	if !owner {
		cs.logger.Info("ChatService", "Duplicate submission, returning recorded result", map[string]interface{}{
			"session_id":        request.SessionId,
			"client_message_id": request.ClientMessageId,
		})
		return sub.Wait(ctx)
	}

	res, err := cs.sendChat(ctx, userId, request)
	cs.submissions.Complete(key, sub, res, err)
	return res, err
}

func (cs *chatService) sendChat(ctx context.Context, userId string, request *dto.SendChatRequest) (*dto.SendChatResponse, error) {
	sentId, err := cs.turns.appendMessage(ctx, userId, request.SessionId, constant.ChatMessageRoleUser, request.Content)
	if err != nil {
		return nil, err
	}

	reply, replyErr := cs.turns.respond(ctx, userId, request.SessionId, sentId, request.Content)
	replyId, err := cs.turns.appendMessage(ctx, userId, request.SessionId, constant.ChatMessageRoleAssistant, replyContent(reply, replyErr))
	if err != nil {
		return nil, fmt.Errorf("store reply: %w", err)
	}

	messages, err := cs.turns.messages.FindAll(ctx, userId, request.SessionId)
	if err != nil {
		return nil, err
	}

	res := &dto.SendChatResponse{SessionId: request.SessionId}
	for _, m := range messages {
		switch m.Id {
		case sentId:
			res.Sent = cs.mapper.ChatMessageToResponse(m)
		case replyId:
			res.Reply = cs.mapper.ChatMessageToResponse(m)
		}
	}
	if res.Sent == nil {
		res.Sent = cs.mapper.ChatMessageToResponse(&entity.ChatMessage{Id: sentId, Role: constant.ChatMessageRoleUser, Content: request.Content})
	}
	if res.Reply == nil {
		res.Reply = cs.mapper.ChatMessageToResponse(&entity.ChatMessage{Id: replyId, Role: constant.ChatMessageRoleAssistant, Content: replyContent(reply, replyErr)})
	}
	if replyErr != nil {
		res.ReplyError = replyErr.Error()
	}
	return res, nil
}

func (cs *chatService) DeleteSession(ctx context.Context, userId, sessionId string) error {
	return cs.turns.deleteSession(ctx, userId, sessionId)
}

func (cs *chatService) RepairSession(ctx context.Context, userId, sessionId string) (*dto.SessionResponse, error) {
	session, err := cs.turns.repair.Repair(ctx, userId, sessionId)
	if err != nil {
		return nil, err
	}
	res := cs.mapper.ChatSessionToResponse(session)
	return &res, nil
}

func (cs *chatService) OpenView(userId string, sink ViewSink) *ChatView {
	return newChatView(userId, cs.turns, sink, cs.logger)
}
