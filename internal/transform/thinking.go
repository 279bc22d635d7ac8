package transform

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/n0madic/go-qwenmock/internal/types"
)

// DefaultThinkingDepth applies when thinking is on and no depth is given.
const DefaultThinkingDepth = "normal"

// ThinkingOptions is the resolved thinking configuration of one request.
type ThinkingOptions struct {
	Enabled       bool
	Depth         string
	ShowReasoning bool
}

// HasThinkingSuffix reports whether model ends in -thinking, ignoring case.
func HasThinkingSuffix(model string) bool {
	return len(model) >= len(types.ThinkingSuffix) &&
		strings.EqualFold(model[len(model)-len(types.ThinkingSuffix):], types.ThinkingSuffix)
}

// BaseModel strips exactly one trailing -thinking suffix, ignoring case.
func BaseModel(model string) string {
	if HasThinkingSuffix(model) {
		return model[:len(model)-len(types.ThinkingSuffix)]
	}
	return model
}

// ResolveThinking combines the thinking_mode field with the model suffix.
// Thinking is on when thinking_mode.enabled is true or the model carries the
// suffix. Non-object thinking_mode values are ignored.
func ResolveThinking(raw json.RawMessage, model string) ThinkingOptions {
	opts := ThinkingOptions{Depth: DefaultThinkingDepth}

	var mode types.ThinkingMode
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &mode); err == nil {
			if mode.Enabled != nil {
				opts.Enabled = *mode.Enabled
			}
			if d := strings.TrimSpace(mode.Depth); d != "" {
				opts.Depth = d
			}
			if mode.ShowReasoning != nil {
				opts.ShowReasoning = *mode.ShowReasoning
			}
		}
	}
	if !opts.Enabled && HasThinkingSuffix(model) {
		opts.Enabled = true
	}
	return opts
}
