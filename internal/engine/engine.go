// Package engine wires one conversational turn end to end: context
// selection, cache consultation, generator streaming, incremental parsing,
// and queued execution. The engine is constructed explicitly at the
// composition root and owns no global state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/weft-dev/weft/internal/cache"
	"github.com/weft-dev/weft/internal/models"
	"github.com/weft-dev/weft/internal/parser"
	"github.com/weft-dev/weft/internal/provider"
	"github.com/weft-dev/weft/internal/queue"
	"github.com/weft-dev/weft/internal/sandbox"
	"github.com/weft-dev/weft/internal/selector"
)

// DefaultBudget is the context window byte budget when none is configured.
const DefaultBudget = 48 * 1024

// maxCorpusFileBytes skips pathological corpus files outright.
const maxCorpusFileBytes = 256 * 1024

// Engine orchestrates turns. All collaborators are injected.
type Engine struct {
	selector  *selector.Selector
	cache     *cache.Cache
	providers *provider.Registry
	queue     *queue.Queue
	box       sandbox.Sandbox
	budget    int
}

// Option configures an Engine.
type Option func(*Engine)

// WithBudget overrides the context window budget.
func WithBudget(n int) Option {
	return func(e *Engine) { e.budget = n }
}

// New creates an engine. cache may be nil to disable response caching.
func New(sel *selector.Selector, c *cache.Cache, providers *provider.Registry, q *queue.Queue, box sandbox.Sandbox, opts ...Option) *Engine {
	e := &Engine{
		selector:  sel,
		cache:     c,
		providers: providers,
		queue:     q,
		box:       box,
		budget:    DefaultBudget,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TurnOptions selects the backend for one turn.
type TurnOptions struct {
	Model string
}

// TurnResult is everything one turn produced.
type TurnResult struct {
	Text      string // plain content interleaved with the actions
	Results   []models.Result
	Warnings  []models.ParseWarning
	Summary   string
	FromCache bool
	StreamErr error
}

// RunTurn executes one user turn. The context selector runs first to
// assemble the prompt; the stream is then parsed incrementally and actions
// are forwarded to the queue in stream order. Cancelling ctx stops
// forwarding further actions; actions already queued drain normally.
func (e *Engine) RunTurn(ctx context.Context, ec models.ExecutionContext, messages []models.Message, opts TurnOptions) (*TurnResult, error) {
	corpus, err := e.loadCorpus(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate corpus: %w", err)
	}

	sel, err := e.selector.Select(ctx, messages, corpus, e.budget)
	if err != nil {
		return nil, fmt.Errorf("assemble context window: %w", err)
	}

	prompt := buildPrompt(sel, messages)
	contextHash := cache.HashContext(windowText(sel))

	result := &TurnResult{Summary: sel.Summary}

	if e.cache != nil {
		if response, ok := e.cache.Get(opts.Model, prompt, contextHash); ok {
			result.FromCache = true
			_, pendings := e.consume(ctx, ec, singleFragment(response), result)
			e.drain(result, pendings)
			return result, nil
		}
		if response, ok := e.cache.GetSimilar(opts.Model, prompt); ok {
			result.FromCache = true
			_, pendings := e.consume(ctx, ec, singleFragment(response), result)
			e.drain(result, pendings)
			return result, nil
		}
	}

	gen, err := e.providers.Get(opts.Model)
	if err != nil {
		return nil, err
	}
	fragments, err := gen.Stream(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("start generator stream: %w", err)
	}

	response, pendings := e.consume(ctx, ec, fragments, result)
	e.drain(result, pendings)

	if result.StreamErr != nil {
		return result, fmt.Errorf("%w: %v", models.ErrStreamFailed, result.StreamErr)
	}
	if e.cache != nil && ctx.Err() == nil {
		e.cache.Put(opts.Model, prompt, contextHash, response)
	}
	return result, nil
}

// consume parses the fragment stream and forwards completed actions to the
// queue. It returns the full raw response for caching and the submitted
// actions for draining.
func (e *Engine) consume(ctx context.Context, ec models.ExecutionContext, fragments <-chan provider.Fragment, result *TurnResult) (string, []pendingAction) {
	p := parser.New()
	var raw strings.Builder
	var text strings.Builder
	var pendings []pendingAction

	handle := func(events []parser.Event) {
		for _, ev := range events {
			switch {
			case ev.Text != "":
				text.WriteString(ev.Text)
			case ev.Warning != nil:
				result.Warnings = append(result.Warnings, *ev.Warning)
			case ev.Action != nil:
				// An upstream error or cancellation stops forwarding; a
				// partially received turn must not execute.
				if result.StreamErr != nil || ctx.Err() != nil {
					continue
				}
				pending, err := e.queue.Submit(ec, *ev.Action)
				if err != nil {
					result.StreamErr = err
					continue
				}
				pendings = append(pendings, pendingAction{action: *ev.Action, pending: pending})
			}
		}
	}

	for frag := range fragments {
		if frag.Err != nil {
			result.StreamErr = frag.Err
			break
		}
		raw.WriteString(frag.Text)
		handle(p.Feed(frag.Text))
	}
	handle(p.Flush())

	result.Text = text.String()
	return raw.String(), pendings
}

type pendingAction struct {
	action  models.Action
	pending *queue.Pending
}

// drain waits for every submitted action and collects results in submission
// order.
func (e *Engine) drain(result *TurnResult, pendings []pendingAction) {
	for _, pa := range pendings {
		r, err := pa.pending.Wait(context.Background())
		if err != nil {
			r = models.Result{Action: pa.action, Status: models.StatusFailed, Err: err}
		}
		if r.Err != nil && !errors.Is(r.Err, models.ErrLockViolation) {
			log.Printf("Action %s: %v", pa.action.Summary(), r.Err)
		}
		result.Results = append(result.Results, r)
	}
}

// loadCorpus reads the workspace into selector input.
func (e *Engine) loadCorpus(ctx context.Context) ([]selector.CorpusFile, error) {
	infos, err := e.box.ReadDir(ctx, ".")
	if err != nil {
		return nil, err
	}
	var corpus []selector.CorpusFile
	for _, info := range infos {
		if info.IsDir || info.Size > maxCorpusFileBytes {
			continue
		}
		content, err := e.box.ReadFile(ctx, info.Path)
		if err != nil {
			log.Printf("Skipping unreadable corpus file %s: %v", info.Path, err)
			continue
		}
		corpus = append(corpus, selector.CorpusFile{
			Path:    info.Path,
			Content: string(content),
			ModTime: info.ModTime,
		})
	}
	return corpus, nil
}

// buildPrompt assembles the request sent to the generator: conversation
// summary, selected files, then the message history.
func buildPrompt(sel selector.Selection, messages []models.Message) string {
	var b strings.Builder
	if sel.Summary != "" {
		b.WriteString("Conversation summary:\n")
		b.WriteString(sel.Summary)
		b.WriteString("\n\n")
	}
	if len(sel.Files) > 0 {
		b.WriteString("Workspace files:\n")
		for _, f := range sel.Files {
			fmt.Fprintf(&b, "--- %s", f.Path)
			if f.Truncated {
				b.WriteString(" (truncated)")
			}
			b.WriteString(" ---\n")
			b.WriteString(f.Content)
			if !strings.HasSuffix(f.Content, "\n") {
				b.WriteByte('\n')
			}
		}
		b.WriteString("\n")
	}
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

func windowText(sel selector.Selection) string {
	var b strings.Builder
	for _, f := range sel.Files {
		b.WriteString(f.Path)
		b.WriteByte('\n')
		b.WriteString(f.Content)
	}
	return b.String()
}

func singleFragment(response string) <-chan provider.Fragment {
	ch := make(chan provider.Fragment, 1)
	ch <- provider.Fragment{Text: response}
	close(ch)
	return ch
}
