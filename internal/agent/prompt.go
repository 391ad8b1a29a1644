package agent

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Prompt file names, resolved against the configured prompt directory
// with embedded defaults as fallback.
const (
	systemPromptFile    = "system_prompt.txt"
	couchbasePromptFile = "couchbase_prompt.txt"
)

//go:embed prompts/*.txt
var defaultPrompts embed.FS

// BuildSystemPrompt assembles the system prompt for the database agent.
//
// The base prompt always applies. When the Couchbase server is active, a
// Couchbase-specific addendum is appended with the bucket name
// interpolated, so the model writes SQL++ against the right bucket.
//
// promptDir overrides the embedded defaults file-by-file; an empty dir or
// a missing file falls back to the embedded copy.
func BuildSystemPrompt(promptDir string, couchbaseActive bool, bucket string) (string, error) {
	base, err := loadPrompt(promptDir, systemPromptFile)
	if err != nil {
		return "", fmt.Errorf("loading system prompt: %w", err)
	}

	prompt := strings.TrimSpace(base)

	if couchbaseActive {
		addendum, err := loadPrompt(promptDir, couchbasePromptFile)
		if err != nil {
			return "", fmt.Errorf("loading couchbase prompt: %w", err)
		}
		addendum = strings.ReplaceAll(addendum, "{{bucket}}", bucket)
		prompt = prompt + "\n\n" + strings.TrimSpace(addendum)
	}

	return prompt, nil
}

// loadPrompt reads a prompt file from dir, falling back to the embedded copy.
func loadPrompt(dir, name string) (string, error) {
	if dir != "" {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("reading %s: %w", name, err)
		}
		// Fall through to the embedded default.
	}

	data, err := defaultPrompts.ReadFile("prompts/" + name)
	if err != nil {
		return "", fmt.Errorf("embedded prompt %s: %w", name, err)
	}
	return string(data), nil
}
