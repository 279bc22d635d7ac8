package types

import (
	"encoding/json"
	"strings"
)

// BoolPtr returns a pointer to the given bool.
func BoolPtr(b bool) *bool {
	return &b
}

// ContentText flattens an OpenAI message content value to plain text.
// Strings pass through, text parts of a content array are concatenated and
// anything else is encoded as JSON so no caller data is silently lost.
func ContentText(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		var sb strings.Builder
		for _, item := range v {
			switch part := item.(type) {
			case string:
				sb.WriteString(part)
			case map[string]any:
				if text, ok := part["text"].(string); ok {
					sb.WriteString(text)
				}
			}
		}
		return sb.String()
	case []ContentPart:
		var sb strings.Builder
		for _, part := range v {
			sb.WriteString(part.Text)
		}
		return sb.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
