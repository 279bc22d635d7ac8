package upstream

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// The upstream answers with one of three useful shapes. Each decoder accepts
// exactly its shape and reports anything else as a ProtocolError.

// ConversationCreated is the result of POST /chats/new.
type ConversationCreated struct {
	ID string
}

// ChatCompletion is a buffered chat result. Degraded marks a JSON object that
// lacks the OpenAI choices array; it is still passed through verbatim.
type ChatCompletion struct {
	Body     json.RawMessage
	Degraded bool
}

// ModelList is the result of GET /models.
type ModelList struct {
	IDs []string
}

func DecodeConversationCreated(body []byte) (ConversationCreated, error) {
	const op = "chats/new"
	if err := requireObject(op, body); err != nil {
		return ConversationCreated{}, err
	}
	if msg := failureDetail(body); msg != "" {
		return ConversationCreated{}, &ProtocolError{Operation: op, Reason: "upstream reported failure: " + msg}
	}
	id := gjson.GetBytes(body, "data.id")
	if id.Type != gjson.String || strings.TrimSpace(id.Str) == "" {
		return ConversationCreated{}, &ProtocolError{Operation: op, Reason: "response has no data.id"}
	}
	return ConversationCreated{ID: id.Str}, nil
}

func DecodeChatCompletion(body []byte) (ChatCompletion, error) {
	const op = "chat/completions"
	if err := requireObject(op, body); err != nil {
		return ChatCompletion{}, err
	}
	if msg := failureDetail(body); msg != "" {
		return ChatCompletion{}, &ProtocolError{Operation: op, Reason: "upstream reported failure: " + msg}
	}
	raw := make(json.RawMessage, len(body))
	copy(raw, body)
	return ChatCompletion{
		Body:     raw,
		Degraded: !gjson.GetBytes(body, "choices").IsArray(),
	}, nil
}

func DecodeModelList(body []byte) (ModelList, error) {
	const op = "models"
	if err := requireObject(op, body); err != nil {
		return ModelList{}, err
	}
	entries := gjson.GetBytes(body, "data.data")
	if !entries.IsArray() {
		entries = gjson.GetBytes(body, "data")
	}
	if !entries.IsArray() {
		return ModelList{}, &ProtocolError{Operation: op, Reason: "response has no data.data array"}
	}
	var list ModelList
	entries.ForEach(func(_, entry gjson.Result) bool {
		if id := strings.TrimSpace(entry.Get("id").String()); id != "" {
			list.IDs = append(list.IDs, id)
		}
		return true
	})
	return list, nil
}

func requireObject(op string, body []byte) error {
	if !gjson.ValidBytes(body) {
		return &ProtocolError{Operation: op, Reason: "response is not valid JSON"}
	}
	if !gjson.ParseBytes(body).IsObject() {
		return &ProtocolError{Operation: op, Reason: "response is not a JSON object"}
	}
	return nil
}

// failureDetail extracts the message from a 2xx body carrying
// {"success": false, ...}, the upstream's in-band error form.
func failureDetail(body []byte) string {
	success := gjson.GetBytes(body, "success")
	if !success.Exists() || success.Type != gjson.False {
		return ""
	}
	for _, path := range []string{"data.details", "data.code", "msg", "message"} {
		if v := strings.TrimSpace(gjson.GetBytes(body, path).String()); v != "" {
			return v
		}
	}
	return "success=false"
}
