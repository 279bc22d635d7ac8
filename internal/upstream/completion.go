package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/n0madic/go-qwenmock/internal/types"
)

func (c *Client) chatURL(chatID string) string {
	return c.baseURL + "/chat/completions?chat_id=" + url.QueryEscape(chatID)
}

// Complete dispatches a buffered chat request into an open conversation.
func (c *Client) Complete(ctx context.Context, chatID string, payload *types.QwenChatPayload) (ChatCompletion, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return ChatCompletion{}, fmt.Errorf("failed to marshal chat payload: %w", err)
	}
	resp, err := c.Execute(ctx, http.MethodPost, c.chatURL(chatID), body)
	if err != nil {
		return ChatCompletion{}, err
	}
	cc, err := DecodeChatCompletion(resp.Body)
	if err != nil {
		return ChatCompletion{}, err
	}
	if cc.Degraded {
		slog.Warn("upstream.completion.degraded", "chat_id", chatID, "reason", "no choices array; passing body through")
	}
	return cc, nil
}

// StreamCompletion dispatches a streaming chat request into an open
// conversation and returns its line stream.
func (c *Client) StreamCompletion(ctx context.Context, chatID string, payload *types.QwenChatPayload) (*LineStream, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat payload: %w", err)
	}
	return c.Stream(ctx, http.MethodPost, c.chatURL(chatID), body)
}

// ListModels fetches the upstream model catalog.
func (c *Client) ListModels(ctx context.Context) (ModelList, error) {
	resp, err := c.Execute(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return ModelList{}, err
	}
	return DecodeModelList(resp.Body)
}
