package codec

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/n0madic/go-qwenmock/internal/types"
)

// ModelCreated is the fixed creation timestamp reported for every model.
const ModelCreated = 1677610602

// ModelOwner is the owned_by value reported for every model.
const ModelOwner = "qwen"

// WriteChatCompletion writes a buffered upstream result verbatim.
func WriteChatCompletion(w http.ResponseWriter, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Actual-Status-Code", "200")
	w.WriteHeader(http.StatusOK)
	w.Write(body) //nolint:errcheck
	if len(body) == 0 || body[len(body)-1] != '\n' {
		w.Write([]byte("\n")) //nolint:errcheck
	}
}

// WriteStreamHeaders sets the SSE response headers and sends the status line.
func WriteStreamHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Actual-Status-Code", "200")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// BuildModelList converts upstream model ids into the OpenAI list shape.
// Each id in thinking is followed by its -thinking variant.
func BuildModelList(ids []string, thinking map[string]bool) types.ModelList {
	list := types.ModelList{Object: "list", Data: make([]types.ModelObject, 0, len(ids))}
	seen := make(map[string]struct{}, len(ids))
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		list.Data = append(list.Data, types.ModelObject{
			ID:         id,
			Object:     "model",
			Created:    ModelCreated,
			OwnedBy:    ModelOwner,
			Permission: []any{},
		})
	}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		add(id)
		if thinking[strings.ToLower(id)] {
			add(id + types.ThinkingSuffix)
		}
	}
	return list
}
