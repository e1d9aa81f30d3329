package implementation

import (
	"errors"
	"fmt"

	"reflection-chat-be/internal/constant"
	"reflection-chat-be/internal/repository/contract"
	"reflection-chat-be/pkg/docstore"
)

func buildPath(segments ...string) (docstore.Path, error) {
	p, err := docstore.NewPath(segments...)
	if errors.Is(err, docstore.ErrInvalidPath) {
		return "", fmt.Errorf("%w: %v", contract.ErrInvalidIdentifier, err)
	}
	return p, err
}

// users/{userId}/chatHistory
func sessionsPath(userId string) (docstore.Path, error) {
	return buildPath(constant.CollectionUsers, userId, constant.CollectionChatHistory)
}

// users/{userId}/chatHistory/{sessionId}
func sessionPath(userId, sessionId string) (docstore.Path, error) {
	return buildPath(constant.CollectionUsers, userId, constant.CollectionChatHistory, sessionId)
}

// users/{userId}/chatHistory/{sessionId}/messages
func messagesPath(userId, sessionId string) (docstore.Path, error) {
	return buildPath(constant.CollectionUsers, userId, constant.CollectionChatHistory, sessionId, constant.CollectionMessages)
}

func failedSubscription(err error, onError func(error)) contract.Unsubscribe {
	return contract.Unsubscribe(docstore.FailedWatch(err, onError))
}
