package app

import (
	"context"
	"testing"

	"github.com/eshoval/dbagent/internal/config"
	"github.com/eshoval/dbagent/internal/log"
	"github.com/eshoval/dbagent/internal/session"
)

func TestProvideStoreMemory(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageMemory}
	store, err := provideStore(context.Background(), cfg, log.NewNop())
	if err != nil {
		t.Fatalf("provideStore() error = %v", err)
	}
	defer store.Close()

	if _, ok := store.(*session.MemoryStore); !ok {
		t.Fatalf("store = %T, want *session.MemoryStore", store)
	}
}

func TestProvideOtelShutdownDisabled(t *testing.T) {
	cfg := &config.Config{}
	cleanup := provideOtelShutdown(context.Background(), cfg, log.NewNop())
	if cleanup == nil {
		t.Fatal("cleanup func is nil")
	}
	cleanup() // must be a safe no-op when tracing is disabled
}

func TestAppCloseWithoutComponents(t *testing.T) {
	a := &App{Logger: log.NewNop()}
	if err := a.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
