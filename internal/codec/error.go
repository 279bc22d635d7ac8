package codec

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/n0madic/go-qwenmock/internal/types"
)

// maxBodyPreview caps how much of an unparsed upstream body ends up in an
// error message.
const maxBodyPreview = 280

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// WriteOpenAIError writes an OpenAI-format error response. Logging is left
// to the caller.
func WriteOpenAIError(w http.ResponseWriter, status int, errType, message string) {
	if strings.TrimSpace(message) == "" {
		message = http.StatusText(status)
	}
	WriteJSON(w, status, types.ErrorResponse{Error: types.ErrorDetail{
		Message: message,
		Type:    errType,
	}})
}

// FormatUpstreamError formats an error from the upstream response.
func FormatUpstreamError(statusCode int, rawBody []byte) string {
	status := strconv.Itoa(statusCode)
	if text := http.StatusText(statusCode); text != "" {
		status += " " + text
	}
	switch msg, preview := ExtractUpstreamErrorMessage(rawBody), compactBodyPreview(rawBody, maxBodyPreview); {
	case msg != "":
		return fmt.Sprintf("Upstream returned HTTP %s: %s", status, msg)
	case preview != "":
		return fmt.Sprintf("Upstream returned HTTP %s with unparsed body: %s", status, preview)
	default:
		return fmt.Sprintf("Upstream returned HTTP %s with empty error body", status)
	}
}

// FormatUpstreamErrorWithHeaders appends the upstream trace id, if any.
func FormatUpstreamErrorWithHeaders(statusCode int, rawBody []byte, headers http.Header) string {
	msg := FormatUpstreamError(statusCode, rawBody)
	if id := upstreamTraceID(headers); id != "" {
		return fmt.Sprintf("%s (request_id: %s)", msg, id)
	}
	return msg
}

// errorMessagePaths are tried in order against an error body. They cover the
// OpenAI envelope, flat {"msg": ...} bodies and Qwen's
// {"success":false,"data":{"code","details"}} form.
var errorMessagePaths = []string{
	"error.message",
	"message",
	"msg",
	"detail",
	"details",
	"error_description",
	"reason",
	"data.details",
	"data.message",
	"data.msg",
	"error",
	"data.code",
	"code",
}

// ExtractUpstreamErrorMessage returns the human-readable message of an
// upstream error body, or "" when the body is not a JSON object carrying one.
func ExtractUpstreamErrorMessage(rawBody []byte) string {
	if !gjson.ValidBytes(rawBody) {
		return ""
	}
	root := gjson.ParseBytes(rawBody)
	if !root.IsObject() {
		return ""
	}
	for _, path := range errorMessagePaths {
		if v := root.Get(path); v.Type == gjson.String {
			if s := strings.TrimSpace(v.Str); s != "" {
				return s
			}
		}
	}
	return ""
}

func compactBodyPreview(rawBody []byte, maxLen int) string {
	clean := strings.Join(strings.Fields(string(rawBody)), " ")
	if len(clean) <= maxLen {
		return clean
	}
	return clean[:maxLen] + "..."
}

func upstreamTraceID(headers http.Header) string {
	for _, key := range []string{"x-request-id", "eagleeye-traceid", "request-id"} {
		if v := strings.TrimSpace(headers.Get(key)); v != "" {
			return v
		}
	}
	return ""
}
