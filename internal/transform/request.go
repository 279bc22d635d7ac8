package transform

import (
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/n0madic/go-qwenmock/internal/types"
)

var (
	ErrMissingModel    = errors.New("model is required")
	ErrMissingMessages = errors.New("messages must be a non-empty array")
)

const defaultRole = "user"

// ChatRequest is a validated inbound chat request.
type ChatRequest struct {
	Model     string
	BaseModel string
	Stream    bool
	Thinking  ThinkingOptions
	Messages  []types.ChatMessage
}

// Normalize validates an inbound request and resolves its model and thinking
// configuration. The request is not modified.
func Normalize(req *types.ChatCompletionRequest) (*ChatRequest, error) {
	if req == nil {
		return nil, ErrMissingModel
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		return nil, ErrMissingModel
	}
	if len(req.Messages) == 0 {
		return nil, ErrMissingMessages
	}
	return &ChatRequest{
		Model:     model,
		BaseModel: BaseModel(model),
		Stream:    req.Stream,
		Thinking:  ResolveThinking(req.ThinkingMode, model),
		Messages:  req.Messages,
	}, nil
}

// Translator builds upstream chat payloads. Ids and timestamps come from the
// injected sources so the output is reproducible in tests.
type Translator struct {
	NewID func() string
	Now   func() time.Time
}

// NewTranslator returns a translator using random UUIDs and the wall clock.
func NewTranslator() *Translator {
	return &Translator{NewID: uuid.NewString, Now: time.Now}
}

// Build translates req into the payload for conversation chatID.
//
// A message without feature_config gets the default one carrying the current
// thinking flag. A message whose feature_config sets thinking_enabled changes
// that flag for the messages after it. When thinking ends up on, every message
// is marked thinking_enabled.
func (t *Translator) Build(req *ChatRequest, chatID string) *types.QwenChatPayload {
	ts := t.now().Unix()
	thinking := req.Thinking.Enabled

	messages := make([]types.QwenMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		fc := maps.Clone(m.FeatureConfig)
		if len(fc) == 0 {
			fc = map[string]any{
				"thinking_enabled": thinking,
				"output_schema":    types.QwenOutputSchema,
			}
		} else if v, ok := fc["thinking_enabled"].(bool); ok {
			thinking = v
		}

		role := strings.TrimSpace(m.Role)
		if role == "" {
			role = defaultRole
		}

		messages = append(messages, types.QwenMessage{
			FID:           t.newID(),
			ChildrenIDs:   []string{t.newID()},
			Role:          role,
			Content:       types.ContentText(m.Content),
			UserAction:    types.QwenUserAction,
			Files:         []any{},
			Timestamp:     ts,
			Models:        []string{req.BaseModel},
			ChatType:      types.QwenChatTypeText,
			FeatureConfig: fc,
			Extra:         types.QwenMessageExtra{Meta: types.QwenMessageMeta{SubChatType: types.QwenChatTypeText}},
			SubChatType:   types.QwenChatTypeText,
		})
	}

	if req.Thinking.Enabled || thinking {
		for i := range messages {
			messages[i].FeatureConfig["thinking_enabled"] = true
		}
	}

	return &types.QwenChatPayload{
		Stream:            req.Stream,
		IncrementalOutput: true,
		ChatID:            chatID,
		ChatMode:          types.QwenChatModeNormal,
		Model:             req.BaseModel,
		Messages:          messages,
		Timestamp:         ts,
	}
}

func (t *Translator) newID() string {
	if t.NewID == nil {
		return uuid.NewString()
	}
	return t.NewID()
}

func (t *Translator) now() time.Time {
	if t.Now == nil {
		return time.Now()
	}
	return t.Now()
}
