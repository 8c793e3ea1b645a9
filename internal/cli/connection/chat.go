package connection

import (
	"context"
	"net/url"
	"strconv"

	"github.com/yndnr/chatdesk/internal/core/domain"
)

// Chat API paths and default page sizes.
const (
	PathChatHistory = "/api/v1/Chat/history"
	PathChatMessage = "/api/v1/Chat/message"

	DefaultHistoryLimit = 20
	DefaultMessageLimit = 50
)

// Conversation is one entry of the chat history.
type Conversation struct {
	ID        string `json:"conversation_id" yaml:"conversation_id" table:"ID"`
	Title     string `json:"title" yaml:"title"`
	UpdatedAt string `json:"updated_at,omitempty" yaml:"updated_at,omitempty" table:"UPDATED"`
}

// Message is one chat message.
type Message struct {
	ID        string `json:"id,omitempty" yaml:"id,omitempty" table:"ID,wide"`
	Role      string `json:"role" yaml:"role"`
	Content   string `json:"content" yaml:"content"`
	Timestamp string `json:"timestamp,omitempty" yaml:"timestamp,omitempty" table:"TIME"`
}

// Reply is the assistant's answer to a sent message.
type Reply struct {
	ConversationID string `json:"conversation_id" yaml:"conversation_id"`
	Title          string `json:"title,omitempty" yaml:"title,omitempty"`
	Role           string `json:"role" yaml:"role"`
	Response       string `json:"response" yaml:"response"`
	Timestamp      string `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
}

// ChatClient talks to the Chat API.
type ChatClient struct {
	apiClient
}

// NewChatClient creates a client for the Chat API at baseURL.
func NewChatClient(baseURL string, session Session, opts ...ClientOption) *ChatClient {
	return &ChatClient{apiClient: newAPIClient("chat", baseURL, session, opts...)}
}

// Histories lists the user's conversations, most recent first.
func (c *ChatClient) Histories(ctx context.Context, limit int) ([]Conversation, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	var body struct {
		Conversations []Conversation `json:"conversations"`
	}
	resp, err := c.http.Get(ctx, PathChatHistory, url.Values{"limit": {strconv.Itoa(limit)}})
	if err := c.result(ctx, resp, err, &body); err != nil {
		return nil, err
	}
	return body.Conversations, nil
}

// Messages returns the messages of one conversation.
func (c *ChatClient) Messages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if conversationID == "" {
		return nil, domain.ErrInvalidArgument.WithDetails("conversation id is required")
	}
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	var body struct {
		Messages []Message `json:"messages"`
	}
	path := PathChatHistory + "/" + url.PathEscape(conversationID)
	resp, err := c.http.Get(ctx, path, url.Values{"limit": {strconv.Itoa(limit)}})
	if err := c.result(ctx, resp, err, &body); err != nil {
		return nil, err
	}
	return body.Messages, nil
}

// Send posts a message. An empty conversationID starts a new conversation;
// the reply carries its id.
func (c *ChatClient) Send(ctx context.Context, message, conversationID string) (*Reply, error) {
	if message == "" {
		return nil, domain.ErrInvalidArgument.WithDetails("message is required")
	}
	if err := c.requireSession(); err != nil {
		return nil, err
	}

	req := struct {
		Message        string  `json:"message"`
		ConversationID *string `json:"conversation_id"`
	}{Message: message}
	if conversationID != "" {
		req.ConversationID = &conversationID
	}

	var reply Reply
	resp, err := c.http.PostJSON(ctx, PathChatMessage, req)
	if err := c.result(ctx, resp, err, &reply); err != nil {
		return nil, err
	}
	if reply.Role == "" {
		reply.Role = "assistant"
	}
	if reply.ConversationID == "" {
		reply.ConversationID = conversationID
	}
	return &reply, nil
}
