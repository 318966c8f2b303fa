package testsupport

import (
	"context"
	"testing"

	"fieldnotes/internal/config"
	"fieldnotes/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewPersona creates a persona for tests using the provided store.
func NewPersona(t testing.TB, st *store.Store, owner, name string) *store.Persona {
	t.Helper()

	persona, err := st.CreatePersona(context.Background(), owner, name, "")
	if err != nil {
		t.Fatalf("store.CreatePersona: %v", err)
	}
	return persona
}
