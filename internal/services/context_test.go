package services

import (
	"context"
	"testing"
)

func TestContextHelpersRoundTrip(t *testing.T) {
	ctx := context.Background()
	if _, ok := InterviewIDFromContext(ctx); ok {
		t.Fatal("expected no interview id on empty context")
	}

	ctx = WithInterviewID(ctx, 7)
	ctx = WithStage(ctx, "extract_excerpts")
	ctx = WithRequestID(ctx, "abc")

	if id, ok := InterviewIDFromContext(ctx); !ok || id != 7 {
		t.Fatalf("unexpected interview id %d (ok=%v)", id, ok)
	}
	if stage, ok := StageFromContext(ctx); !ok || stage != "extract_excerpts" {
		t.Fatalf("unexpected stage %q (ok=%v)", stage, ok)
	}
	if rid, ok := RequestIDFromContext(ctx); !ok || rid != "abc" {
		t.Fatalf("unexpected request id %q (ok=%v)", rid, ok)
	}
}

func TestEmptyValuesAreIgnored(t *testing.T) {
	ctx := WithStage(context.Background(), "")
	ctx = WithRequestID(ctx, "")
	if _, ok := StageFromContext(ctx); ok {
		t.Fatal("expected empty stage to be ignored")
	}
	if _, ok := RequestIDFromContext(ctx); ok {
		t.Fatal("expected empty request id to be ignored")
	}
}
