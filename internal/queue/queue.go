// Package queue serializes action execution per execution context. Each
// context gets one dedicated worker goroutine fed by an ordered channel, so
// completion order equals submission order within a context while independent
// contexts make concurrent progress.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/weft-dev/weft/internal/audit"
	"github.com/weft-dev/weft/internal/models"
	"github.com/weft-dev/weft/internal/registry"
	"github.com/weft-dev/weft/internal/sandbox"
)

// DefaultShellTimeout bounds shell and start-server actions.
const DefaultShellTimeout = 2 * time.Minute

// DefaultBuffer is the per-context channel depth. Submission blocks when the
// buffer is full, which is the backpressure signal.
const DefaultBuffer = 64

// ErrQueueClosed is returned by Submit after shutdown or context close.
var ErrQueueClosed = errors.New("queue closed")

// Pending is the future resolved when an action finishes.
type Pending struct {
	done   chan struct{}
	result models.Result
}

// Done is closed when the action has completed, failed, or been blocked.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the action resolves or ctx is cancelled.
func (p *Pending) Wait(ctx context.Context) (models.Result, error) {
	select {
	case <-p.done:
		return p.result, nil
	case <-ctx.Done():
		return models.Result{}, ctx.Err()
	}
}

// Result returns the resolved outcome. Valid only after Done is closed.
func (p *Pending) Result() models.Result { return p.result }

type submission struct {
	action  models.Action
	pending *Pending
}

type worker struct {
	ch     chan submission
	closed bool
}

// Queue owns one serialized worker per execution context.
type Queue struct {
	registry *registry.Registry
	box      sandbox.Sandbox
	events   *audit.Recorder

	shellTimeout time.Duration
	buffer       int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// intake is held shared for the whole of a Submit, including the channel
	// send, and exclusively while closing worker channels. That keeps a close
	// from landing between the shutdown check and the send.
	intake sync.RWMutex

	mu        sync.Mutex
	workers   map[string]*worker
	processes []sandbox.Process
	shutdown  bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithShellTimeout overrides the shell/start deadline.
func WithShellTimeout(d time.Duration) Option {
	return func(q *Queue) { q.shellTimeout = d }
}

// WithBuffer overrides the per-context channel depth.
func WithBuffer(n int) Option {
	return func(q *Queue) { q.buffer = n }
}

// New creates a queue. events may be nil when no one is listening.
func New(reg *registry.Registry, box sandbox.Sandbox, events *audit.Recorder, opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		registry:     reg,
		box:          box,
		events:       events,
		shellTimeout: DefaultShellTimeout,
		buffer:       DefaultBuffer,
		ctx:          ctx,
		cancel:       cancel,
		workers:      make(map[string]*worker),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Submit enqueues an action for its context and returns the pending result.
// Actions submitted for the same context resolve in submission order; a
// failure in one action never aborts the ones queued behind it. Safe to call
// concurrently with CloseContext and Shutdown; a submission that loses the
// race fails with ErrQueueClosed.
func (q *Queue) Submit(ec models.ExecutionContext, action models.Action) (*Pending, error) {
	if action.ID == "" {
		action.ID = uuid.New().String()
	}

	q.intake.RLock()
	defer q.intake.RUnlock()

	q.mu.Lock()
	if q.shutdown {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	w, ok := q.workers[ec.ID]
	if !ok || w.closed {
		w = &worker{ch: make(chan submission, q.buffer)}
		q.workers[ec.ID] = w
		q.wg.Add(1)
		go q.run(ec, w)
	}
	q.mu.Unlock()

	pending := &Pending{done: make(chan struct{})}
	w.ch <- submission{action: action, pending: pending}
	return pending, nil
}

// CloseContext stops intake for one context. Actions already queued drain
// normally; the in-flight sandbox operation is never interrupted. A
// submission arriving after the close starts a fresh worker.
func (q *Queue) CloseContext(contextID string) {
	q.intake.Lock()
	defer q.intake.Unlock()
	q.mu.Lock()
	defer q.mu.Unlock()
	if w, ok := q.workers[contextID]; ok && !w.closed {
		w.closed = true
		close(w.ch)
	}
}

// Shutdown stops intake on all contexts, waits for queued actions to drain
// (bounded by ctx), then stops any server processes started by actions.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.intake.Lock()
	q.mu.Lock()
	q.shutdown = true
	for _, w := range q.workers {
		if !w.closed {
			w.closed = true
			close(w.ch)
		}
	}
	q.mu.Unlock()
	q.intake.Unlock()

	drained := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		q.cancel() // abort in-flight sandbox calls
		<-drained
		err = ctx.Err()
	}

	q.mu.Lock()
	procs := q.processes
	q.processes = nil
	q.mu.Unlock()
	for _, p := range procs {
		if stopErr := p.Stop(); stopErr != nil {
			log.Printf("Failed to stop server process %d: %v", p.PID(), stopErr)
		}
	}
	return err
}

// run is the per-context worker loop. Exactly one action per context is in
// flight against the sandbox at a time.
func (q *Queue) run(ec models.ExecutionContext, w *worker) {
	defer q.wg.Done()
	for sub := range w.ch {
		sub.pending.result = q.execute(ec, sub.action)
		close(sub.pending.done)
	}
	q.mu.Lock()
	if q.workers[ec.ID] == w {
		delete(q.workers, ec.ID)
	}
	q.mu.Unlock()
}

func (q *Queue) execute(ec models.ExecutionContext, action models.Action) models.Result {
	q.publish(ec, action, models.StatusStarted, "")

	var result models.Result
	switch action.Kind {
	case models.ActionFile:
		result = q.executeFile(ec, action)
	case models.ActionShell:
		result = q.executeCommand(ec, action, false)
	case models.ActionStartServer:
		result = q.executeCommand(ec, action, true)
	default:
		result = models.Result{
			Action: action,
			Status: models.StatusFailed,
			Err:    fmt.Errorf("unknown action kind %q", action.Kind),
		}
	}

	detail := ""
	if result.Err != nil {
		detail = result.Err.Error()
	}
	q.publish(ec, action, result.Status, detail)
	return result
}

// executeFile performs the lock check as the last synchronous step before
// issuing the write. Serialization makes check-then-write atomic against
// other actions in this context; a concurrent lock mutation from another
// context on a global-scope lock can still slip between the two steps, which
// is the documented, accepted race.
func (q *Queue) executeFile(ec models.ExecutionContext, action models.Action) models.Result {
	if lock, locked := q.registry.Check(action.Path, ec.ID); locked {
		return models.Result{
			Action: action,
			Status: models.StatusBlocked,
			Err:    fmt.Errorf("%w: %s (%s lock on %s)", models.ErrLockViolation, action.Path, lock.Mode, lock.Scope),
		}
	}

	if err := q.box.WriteFile(q.ctx, action.Path, []byte(action.Content)); err != nil {
		return models.Result{
			Action: action,
			Status: models.StatusFailed,
			Err:    &models.ExecutionFailure{ExitCode: -1, Cause: err},
		}
	}

	q.registry.NotifyCreated(action.Path)
	return models.Result{Action: action, Status: models.StatusCompleted}
}

func (q *Queue) executeCommand(ec models.ExecutionContext, action models.Action, longLived bool) models.Result {
	if longLived {
		proc, err := q.box.Start(q.ctx, action.Command)
		if err != nil {
			return models.Result{
				Action: action,
				Status: models.StatusFailed,
				Err:    &models.ExecutionFailure{ExitCode: -1, Cause: err},
			}
		}
		q.mu.Lock()
		q.processes = append(q.processes, proc)
		q.mu.Unlock()
		return models.Result{
			Action: action,
			Status: models.StatusCompleted,
			Stdout: fmt.Sprintf("server started (pid %d)", proc.PID()),
		}
	}

	res, err := q.box.Exec(q.ctx, action.Command, q.shellTimeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			result := models.Result{
				Action: action,
				Status: models.StatusFailed,
				Err:    fmt.Errorf("%w after %s: %s", models.ErrTimeout, q.shellTimeout, action.Command),
			}
			if res != nil {
				result.ExitCode = res.ExitCode
				result.Stdout = res.Stdout
				result.Stderr = res.Stderr
			}
			return result
		}
		return models.Result{
			Action: action,
			Status: models.StatusFailed,
			Err:    &models.ExecutionFailure{ExitCode: -1, Cause: err},
		}
	}

	result := models.Result{
		Action:   action,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}
	if res.ExitCode != 0 {
		result.Status = models.StatusFailed
		result.Err = &models.ExecutionFailure{ExitCode: res.ExitCode, Stderr: res.Stderr}
	} else {
		result.Status = models.StatusCompleted
	}
	return result
}

func (q *Queue) publish(ec models.ExecutionContext, action models.Action, status models.ActionStatus, detail string) {
	if q.events == nil {
		return
	}
	q.events.Publish(models.ActionEvent{
		ContextID: ec.ID,
		ActionID:  action.ID,
		Kind:      action.Kind,
		Summary:   action.Summary(),
		Status:    status,
		Detail:    detail,
	})
}
