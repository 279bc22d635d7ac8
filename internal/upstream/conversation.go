package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/n0madic/go-qwenmock/internal/types"
)

// DefaultChatTitle is the title given to conversations the gateway opens.
const DefaultChatTitle = "New Chat"

// ConversationHandle identifies an upstream conversation. It is used for one
// inbound request and then dropped.
type ConversationHandle struct {
	ID    string
	Model string
}

// CreateConversation opens a new upstream conversation for model.
func (c *Client) CreateConversation(ctx context.Context, model, title string) (ConversationHandle, error) {
	if title == "" {
		title = DefaultChatTitle
	}
	body, err := json.Marshal(types.QwenNewChatRequest{
		Title:     title,
		Models:    []string{model},
		ChatMode:  types.QwenChatModeNormal,
		ChatType:  types.QwenChatTypeText,
		Timestamp: c.now().UnixMilli(),
	})
	if err != nil {
		return ConversationHandle{}, fmt.Errorf("failed to marshal new chat request: %w", err)
	}

	resp, err := c.Execute(ctx, http.MethodPost, c.baseURL+"/chats/new", body)
	if err != nil {
		return ConversationHandle{}, err
	}
	created, err := DecodeConversationCreated(resp.Body)
	if err != nil {
		return ConversationHandle{}, err
	}
	slog.Debug("upstream.conversation.created", "chat_id", created.ID, "model", model)
	return ConversationHandle{ID: created.ID, Model: model}, nil
}
