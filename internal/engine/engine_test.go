package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/weft-dev/weft/internal/audit"
	"github.com/weft-dev/weft/internal/cache"
	"github.com/weft-dev/weft/internal/models"
	"github.com/weft-dev/weft/internal/provider"
	"github.com/weft-dev/weft/internal/queue"
	"github.com/weft-dev/weft/internal/registry"
	"github.com/weft-dev/weft/internal/sandbox/localbox"
	"github.com/weft-dev/weft/internal/selector"
)

const transcript = `Setting up the project.
<op type="file" path="hello.txt">
hello from weft
</op>
<op type="shell" command="echo done"></op>
All set.`

type harness struct {
	engine *Engine
	box    *localbox.LocalBox
	reg    *registry.Registry
	queue  *queue.Queue
	cache  *cache.Cache
}

func newHarness(t *testing.T, gens ...provider.Generator) *harness {
	t.Helper()
	box, err := localbox.New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create sandbox: %v", err)
	}
	reg := registry.New(registry.WithWalker(box))
	rec := audit.NewRecorder(nil)
	q := queue.New(reg, box, rec)
	t.Cleanup(func() { q.Shutdown(context.Background()) })

	providers := provider.NewRegistry()
	for _, gen := range gens {
		if err := providers.Register(gen); err != nil {
			t.Fatalf("Failed to register generator: %v", err)
		}
	}

	c := cache.New()
	return &harness{
		engine: New(selector.New(nil), c, providers, q, box),
		box:    box,
		reg:    reg,
		queue:  q,
		cache:  c,
	}
}

func userTurn(content string) []models.Message {
	return []models.Message{{Role: "user", Content: content}}
}

func TestRunTurnExecutesStreamedActions(t *testing.T) {
	h := newHarness(t, provider.NewReplay("replay", transcript, 7))

	result, err := h.engine.RunTurn(context.Background(), models.ExecutionContext{ID: "ctx"}, userTurn("set up"), TurnOptions{})
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	if len(result.Results) != 2 {
		t.Fatalf("Expected 2 action results, got %d", len(result.Results))
	}
	if result.Results[0].Status != models.StatusCompleted || result.Results[1].Status != models.StatusCompleted {
		t.Errorf("Expected both actions completed: %+v", result.Results)
	}

	data, err := h.box.ReadFile(context.Background(), "hello.txt")
	if err != nil {
		t.Fatalf("File action did not write: %v", err)
	}
	if string(data) != "hello from weft\n" {
		t.Errorf("File content = %q", data)
	}

	if !strings.Contains(result.Text, "Setting up the project.") || !strings.Contains(result.Text, "All set.") {
		t.Errorf("Plain content lost: %q", result.Text)
	}
}

func TestRunTurnRespectsLocks(t *testing.T) {
	stream := `<op type="file" path="locked/f.txt">nope</op>`
	h := newHarness(t, provider.NewReplay("replay", stream, 0))

	if _, err := h.reg.Lock("locked", models.ScopeFolder, models.LockNoDelete, "", true); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	result, err := h.engine.RunTurn(context.Background(), models.ExecutionContext{ID: "ctx"}, userTurn("write it"), TurnOptions{})
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if len(result.Results) != 1 || result.Results[0].Status != models.StatusBlocked {
		t.Fatalf("Expected one blocked result, got %+v", result.Results)
	}
	if _, err := h.box.ReadFile(context.Background(), "locked/f.txt"); err == nil {
		t.Error("Blocked write must not reach the sandbox")
	}
}

// failingGenerator emits some fragments and then a transport error.
type failingGenerator struct {
	fragments []provider.Fragment
}

func (g *failingGenerator) Name() string { return "failing" }

func (g *failingGenerator) Stream(ctx context.Context, prompt string) (<-chan provider.Fragment, error) {
	out := make(chan provider.Fragment, len(g.fragments))
	for _, f := range g.fragments {
		out <- f
	}
	close(out)
	return out, nil
}

func TestStreamFailureDrainsQueuedActions(t *testing.T) {
	gen := &failingGenerator{fragments: []provider.Fragment{
		{Text: `<op type="file" path="before.txt">written before the failure</op>`},
		{Err: errors.New("connection reset")},
	}}
	h := newHarness(t, gen)

	result, err := h.engine.RunTurn(context.Background(), models.ExecutionContext{ID: "ctx"}, userTurn("go"), TurnOptions{})
	if !errors.Is(err, models.ErrStreamFailed) {
		t.Fatalf("Expected stream failure, got %v", err)
	}

	// The action parsed before the failure still drains normally.
	if len(result.Results) != 1 || result.Results[0].Status != models.StatusCompleted {
		t.Fatalf("Queued action should drain: %+v", result.Results)
	}
	if _, readErr := h.box.ReadFile(context.Background(), "before.txt"); readErr != nil {
		t.Errorf("Queued action was not executed: %v", readErr)
	}
}

func TestPartialMarkerAtStreamEndDoesNotExecute(t *testing.T) {
	gen := &failingGenerator{fragments: []provider.Fragment{
		{Text: `<op type="file" path="partial.txt">half the cont`},
	}}
	h := newHarness(t, gen)

	result, err := h.engine.RunTurn(context.Background(), models.ExecutionContext{ID: "ctx"}, userTurn("go"), TurnOptions{})
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if len(result.Results) != 0 {
		t.Fatalf("Partial marker must not execute: %+v", result.Results)
	}
	if len(result.Warnings) == 0 {
		t.Error("Expected a parse warning for the unterminated marker")
	}
	if !strings.Contains(result.Text, "half the cont") {
		t.Error("Partial content should flush as plain text")
	}
}

func TestSecondIdenticalTurnServedFromCache(t *testing.T) {
	// A shell-only stream leaves the workspace untouched, so the second
	// turn assembles an identical prompt and context hash.
	stream := "Checking.\n<op type=\"shell\" command=\"echo ok\"></op>\nDone."
	h := newHarness(t, provider.NewReplay("replay", stream, 9))
	ctx := context.Background()
	ec := models.ExecutionContext{ID: "ctx"}

	first, err := h.engine.RunTurn(ctx, ec, userTurn("set up"), TurnOptions{})
	if err != nil {
		t.Fatalf("First turn failed: %v", err)
	}
	if first.FromCache {
		t.Fatal("First turn cannot be cached")
	}

	second, err := h.engine.RunTurn(ctx, ec, userTurn("set up"), TurnOptions{})
	if err != nil {
		t.Fatalf("Second turn failed: %v", err)
	}
	if !second.FromCache {
		t.Error("Identical turn should be served from cache")
	}
	if len(second.Results) != len(first.Results) {
		t.Errorf("Cached turn executed %d actions, first executed %d", len(second.Results), len(first.Results))
	}
}
