package constant

const (
	ChatMessageRoleUser      = "user"
	ChatMessageRoleAssistant = "assistant"
	ChatMessageRoleSystem    = "system"
	// legacy clients send "ai" for assistant turns
	ChatMessageRoleLegacyAI = "ai"

	ChatSessionTitleMaxLength = 30
	ChatSessionTitleEllipsis  = "…"

	// Shown while the assistant reply is in flight.
	ChatAssistantPlaceholder   = "…"
	ChatAssistantFallbackReply = "Sorry, I encountered an error..."

	ReflectionSystemPromptV1 = `You are a reflection agent. Your purpose is to help users reflect on their day.
You should guide the user through a reflection process with three main questions:
1. How was your day?
2. What went well today?
3. What are you grateful for?

Start with the first question and wait for the user's response.
Then, move to the next question.
Keep your responses supportive and encouraging.`
)

// Document store layout: users/{userId}/chatHistory/{sessionId}/messages/{messageId}
const (
	CollectionUsers       = "users"
	CollectionChatHistory = "chatHistory"
	CollectionMessages    = "messages"

	FieldUserId          = "userId"
	FieldTitle           = "title"
	FieldLastMessageText = "lastMessageText"
	FieldCreatedAt       = "createdAt"
	FieldUpdatedAt       = "updatedAt"
	FieldRole            = "role"
	FieldContent         = "content"
)
