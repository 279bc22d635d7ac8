package models

import "strings"

// StaticFallback is the catalog served when the upstream model list cannot
// be fetched.
func StaticFallback() []string {
	return []string{
		"qwen3-235b-a22b",
		"qwen3-coder-plus",
		"qwen3-coder-30b-a3b-instruct",
	}
}

// DefaultThinkingModels lists the models that get a -thinking variant.
func DefaultThinkingModels() []string {
	return []string{
		"qwen3-coder-plus",
		"qwen3-coder-30b-a3b-instruct",
		"qwen3-235b-a22b",
	}
}

func thinkingSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id = strings.ToLower(strings.TrimSpace(id)); id != "" {
			set[id] = true
		}
	}
	return set
}
