package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestWrapKeepsMarkerAndCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(ErrStorage, "persist", "insert excerpt", "", cause)
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected storage marker, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be preserved, got %v", err)
	}
	if !strings.Contains(err.Error(), "persist: insert excerpt") {
		t.Fatalf("expected detail in message, got %q", err.Error())
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := Wrap(nil, "", "", "", nil)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestKindAndUserMessage(t *testing.T) {
	cases := []struct {
		err  error
		kind ErrorKind
		want string
	}{
		{fmt.Errorf("parse: %w", ErrFileFormat), KindFileFormat, "could not be understood"},
		{fmt.Errorf("call: %w", ErrLLMCall), KindAnalysis, "unavailable"},
		{fmt.Errorf("run: %w", ErrAnalysisFailed), KindAnalysis, "unavailable"},
		{fmt.Errorf("save: %w", ErrStorage), KindStorage, "could not be saved"},
		{fmt.Errorf("create: %w", ErrPersonaConflict), KindPersonaConflict, "already exists"},
		{context.Canceled, KindCanceled, "cancelled"},
		{errors.New("boom"), KindInternal, "unexpected"},
	}
	for _, tc := range cases {
		if got := Kind(tc.err); got != tc.kind {
			t.Fatalf("Kind(%v) = %q, want %q", tc.err, got, tc.kind)
		}
		if msg := UserMessage(tc.err); !strings.Contains(msg, tc.want) {
			t.Fatalf("UserMessage(%v) = %q, want substring %q", tc.err, msg, tc.want)
		}
	}
	if Kind(nil) != "" || UserMessage(nil) != "" {
		t.Fatal("expected empty classification for nil error")
	}
}
