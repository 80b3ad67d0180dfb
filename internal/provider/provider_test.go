package provider

import (
	"context"
	"strings"
	"testing"
)

func TestFirstRegistrationBecomesDefault(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewReplay("first", "a", 0)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(NewReplay("second", "b", 0)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	gen, err := r.Get("")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if gen.Name() != "first" {
		t.Errorf("Default = %s, want first", gen.Name())
	}

	if err := r.SetDefault("second"); err != nil {
		t.Fatalf("SetDefault failed: %v", err)
	}
	gen, _ = r.Get("")
	if gen.Name() != "second" {
		t.Errorf("Default after SetDefault = %s", gen.Name())
	}

	if _, err := r.Get("missing"); err == nil {
		t.Error("Unknown generator should error")
	}
	if err := r.SetDefault("missing"); err == nil {
		t.Error("SetDefault on unknown generator should error")
	}

	names := r.List()
	if len(names) != 2 || names[0] != "first" || names[1] != "second" {
		t.Errorf("List = %v", names)
	}
}

func TestReplayEmitsWholeResponseInOrder(t *testing.T) {
	response := "the quick brown fox jumps over the lazy dog"
	gen := NewReplay("replay", response, 5)

	fragments, err := gen.Stream(context.Background(), "ignored")
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	var b strings.Builder
	count := 0
	for f := range fragments {
		if f.Err != nil {
			t.Fatalf("Unexpected fragment error: %v", f.Err)
		}
		if len(f.Text) > 5 {
			t.Errorf("Fragment exceeds chunk size: %q", f.Text)
		}
		b.WriteString(f.Text)
		count++
	}
	if b.String() != response {
		t.Errorf("Reassembled = %q, want %q", b.String(), response)
	}
	if count < 2 {
		t.Errorf("Expected multiple fragments, got %d", count)
	}
}

func TestReplayHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := NewReplay("replay", strings.Repeat("x", 1000), 1)
	fragments, err := gen.Stream(ctx, "")
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	total := 0
	for f := range fragments {
		total += len(f.Text)
	}
	if total == 1000 {
		t.Error("Cancelled stream should stop early")
	}
}
