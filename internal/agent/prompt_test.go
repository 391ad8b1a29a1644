package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildSystemPromptBase(t *testing.T) {
	prompt, err := BuildSystemPrompt("", false, "")
	if err != nil {
		t.Fatalf("BuildSystemPrompt() error = %v", err)
	}
	if !strings.Contains(prompt, "database expert") {
		t.Errorf("prompt missing base guidance: %q", prompt)
	}
	if strings.Contains(prompt, "Couchbase") {
		t.Error("addendum present without an active Couchbase server")
	}
}

func TestBuildSystemPromptCouchbaseAddendum(t *testing.T) {
	prompt, err := BuildSystemPrompt("", true, "travel-sample")
	if err != nil {
		t.Fatalf("BuildSystemPrompt() error = %v", err)
	}
	if !strings.Contains(prompt, "travel-sample") {
		t.Error("bucket name not interpolated")
	}
	if strings.Contains(prompt, "{{bucket}}") {
		t.Error("placeholder left in prompt")
	}
	if !strings.Contains(prompt, "SQL++") {
		t.Error("addendum missing query dialect guidance")
	}
}

func TestBuildSystemPromptDirOverride(t *testing.T) {
	dir := t.TempDir()
	custom := "You answer only about penguins."
	if err := os.WriteFile(filepath.Join(dir, systemPromptFile), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}

	// system prompt overridden, couchbase addendum falls back to embedded
	prompt, err := BuildSystemPrompt(dir, true, "wildlife")
	if err != nil {
		t.Fatalf("BuildSystemPrompt() error = %v", err)
	}
	if !strings.HasPrefix(prompt, custom) {
		t.Errorf("override not applied: %q", prompt)
	}
	if !strings.Contains(prompt, "wildlife") {
		t.Error("embedded addendum fallback missing")
	}
}

func TestBuildSystemPromptUnreadableOverride(t *testing.T) {
	dir := t.TempDir()
	// A directory where a file is expected is a read error, not a fallback.
	if err := os.Mkdir(filepath.Join(dir, systemPromptFile), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := BuildSystemPrompt(dir, false, ""); err == nil {
		t.Error("expected error for unreadable prompt override")
	}
}
