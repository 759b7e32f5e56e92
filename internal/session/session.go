// Package session drives one speaking attempt from first prompt to summary:
// announce, optional preparation window, timed capture, upload, scoring, and
// draft persistence, with retry parking on device and upload failures.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shoaibmiaan/viva/internal/announce"
	"github.com/shoaibmiaan/viva/internal/clock"
	"github.com/shoaibmiaan/viva/internal/draft"
	"github.com/shoaibmiaan/viva/internal/exam"
	"github.com/shoaibmiaan/viva/internal/fsm"
	"github.com/shoaibmiaan/viva/internal/ipc"
	"github.com/shoaibmiaan/viva/internal/score"
)

type action int

const (
	actionStop action = iota + 1
	actionRetry
)

// ErrPipelineUnavailable reports missing pipeline wiring: the controller was
// constructed without a capture engine, uploader, or scorer.
var ErrPipelineUnavailable = errors.New("capture pipeline is not wired")

// IsPipelineUnavailable reports whether an error represents missing pipeline wiring.
func IsPipelineUnavailable(err error) bool {
	return errors.Is(err, ErrPipelineUnavailable)
}

// AttemptCreator mints attempt identifiers on the platform.
type AttemptCreator interface {
	CreateAttempt(ctx context.Context, mode string) (string, error)
}

// CaptureEngine is the session-facing subset of the microphone engine.
type CaptureEngine interface {
	Arm(ctx context.Context) error
	Start(ctx context.Context, prompt exam.Prompt, ceiling time.Duration) error
	Stop(ctx context.Context) (exam.Recording, error)
	Release()
}

// Uploader persists one finalized recording.
type Uploader interface {
	Upload(ctx context.Context, rec exam.Recording, attemptID, partTag string) (exam.StoredReference, error)
}

// ResponseScorer evaluates one stored recording. It cannot fail; degraded
// results carry heuristic provenance instead.
type ResponseScorer interface {
	Score(ctx context.Context, ref exam.StoredReference, sc score.Context) exam.Feedback
}

// QuestionResult is the complete outcome for one prompt.
type QuestionResult struct {
	Prompt   exam.Prompt
	Stored   exam.StoredReference
	Feedback exam.Feedback
	Duration time.Duration
	Partial  bool
}

// Summary is the lifecycle output of one Run invocation.
type Summary struct {
	AttemptID  string
	Mode       exam.Mode
	State      fsm.State
	Results    []QuestionResult
	Skipped    []string
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Config shapes one attempt run.
type Config struct {
	Mode exam.Mode
	// Plan overrides the built-in part plan for the mode. Nil uses
	// exam.Plan(Mode).
	Plan []exam.Part
	// ResumeAttemptID reuses an existing attempt: its drafts decide which
	// prompts are already answered. Empty means a fresh attempt.
	ResumeAttemptID string
	// Tick is the countdown emission interval.
	Tick time.Duration
	// CeilingGrace pads the engine's hard stop beyond the response window so
	// the window timer, not the ceiling, is the normal stop path.
	CeilingGrace time.Duration
}

// Deps wires the controller's collaborators. Announcer and Drafts fall back
// to no-op implementations; the rest are required for Run to proceed.
type Deps struct {
	Logger    *slog.Logger
	Attempts  AttemptCreator
	Announcer announce.Announcer
	Engine    CaptureEngine
	Uploader  Uploader
	Scorer    ResponseScorer
	Drafts    draft.Store
	// OnResult, when set, observes each question result as it completes.
	OnResult func(QuestionResult)
}

// Controller owns one Attempt for its lifetime. A single Run drives the
// cooperative timeline; Handle feeds it stop/retry actions from outside.
type Controller struct {
	logger    *slog.Logger
	mode      exam.Mode
	plan      []exam.Part
	tick      time.Duration
	grace     time.Duration
	attempts  AttemptCreator
	announcer announce.Announcer
	engine    CaptureEngine
	uploader  Uploader
	scorer    ResponseScorer
	drafts    draft.Store
	onResult  func(QuestionResult)

	mu      sync.RWMutex
	state   fsm.State
	attempt string
	lastErr error

	remaining atomic.Int64

	actions chan action
}

// NewController constructs a session controller with safe default fallbacks.
func NewController(cfg Config, deps Deps) *Controller {
	if deps.Announcer == nil {
		deps.Announcer = announce.Muted{}
	}
	if deps.Drafts == nil {
		deps.Drafts = draft.Discard{}
	}
	if cfg.Tick <= 0 {
		cfg.Tick = clock.DefaultTick
	}
	if cfg.CeilingGrace <= 0 {
		cfg.CeilingGrace = time.Second
	}
	if cfg.Plan == nil {
		cfg.Plan = exam.Plan(cfg.Mode)
	}

	return &Controller{
		logger:    deps.Logger,
		mode:      cfg.Mode,
		plan:      cfg.Plan,
		tick:      cfg.Tick,
		grace:     cfg.CeilingGrace,
		attempts:  deps.Attempts,
		announcer: deps.Announcer,
		engine:    deps.Engine,
		uploader:  deps.Uploader,
		scorer:    deps.Scorer,
		drafts:    deps.Drafts,
		onResult:  deps.OnResult,
		state:     fsm.StateIdle,
		attempt:   cfg.ResumeAttemptID,
		actions:   make(chan action, 1),
	}
}

// State returns the current lifecycle state snapshot.
func (c *Controller) State() fsm.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// AttemptID returns the attempt identifier, empty until lazily created.
func (c *Controller) AttemptID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attempt
}

// LastError returns the failure that parked the controller, if any.
func (c *Controller) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Remaining reports time left on the active countdown window.
func (c *Controller) Remaining() time.Duration {
	return time.Duration(c.remaining.Load())
}

// transition applies one lifecycle event to the controller state.
func (c *Controller) transition(event fsm.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := fsm.Transition(c.state, event)
	if err != nil {
		return err
	}
	c.logDebug("state transition", "from", string(c.state), "event", string(event), "to", string(next))
	c.state = next
	return nil
}

type flatPrompt struct {
	part   exam.Part
	prompt exam.Prompt
}

// Run executes the whole attempt and blocks until completion, unrecoverable
// failure, or context cancellation. The device handle is always released on
// the way out.
func (c *Controller) Run(ctx context.Context) Summary {
	summary := Summary{Mode: c.mode, StartedAt: time.Now()}

	finish := func(err error) Summary {
		if err != nil && c.State() != fsm.StateError {
			_ = c.transition(fsm.EventFail)
		}
		summary.Err = err
		summary.State = c.State()
		summary.AttemptID = c.AttemptID()
		summary.FinishedAt = time.Now()
		return summary
	}

	if c.engine == nil || c.uploader == nil || c.scorer == nil || c.attempts == nil {
		return finish(ErrPipelineUnavailable)
	}
	defer c.engine.Release()

	if err := c.ensureAttempt(ctx); err != nil {
		return finish(err)
	}
	if c.State() == fsm.StateIdle {
		if err := c.transition(fsm.EventInit); err != nil {
			return finish(err)
		}
	}

	// Drafts are read exactly once, at init.
	resumed := c.drafts.LoadAttempt(c.AttemptID())

	var items []flatPrompt
	for _, part := range c.plan {
		for _, prompt := range part.Prompts {
			items = append(items, flatPrompt{part: part, prompt: prompt})
		}
	}

	for _, item := range items {
		if snap, ok := resumed[item.prompt.Key()]; ok && snap.Answered {
			c.logDebug("prompt already answered in draft; skipping", "prompt", item.prompt.Key())
			summary.Skipped = append(summary.Skipped, item.prompt.Key())
			continue
		}

		result, err := c.runPrompt(ctx, item.part, item.prompt)
		if err != nil {
			return finish(err)
		}
		summary.Results = append(summary.Results, result)
		if c.onResult != nil {
			c.onResult(result)
		}
	}

	if err := c.transition(fsm.EventFinish); err != nil {
		return finish(err)
	}
	c.drafts.Clear(c.AttemptID())
	c.announcer.Cue(ctx, announce.CueComplete)
	return finish(nil)
}

// ensureAttempt obtains the lazy attempt identifier, parking on failure
// until a retry action re-attempts creation.
func (c *Controller) ensureAttempt(ctx context.Context) error {
	if c.AttemptID() != "" {
		return nil
	}
	for {
		id, err := c.attempts.CreateAttempt(ctx, string(c.mode))
		if err == nil {
			c.mu.Lock()
			c.attempt = id
			c.mu.Unlock()
			c.logDebug("attempt created", "attempt", id, "mode", string(c.mode))
			return nil
		}
		if perr := c.parkError(ctx, err); perr != nil {
			return perr
		}
	}
}

// runPrompt drives one prompt through announce, prep, capture, upload, and
// scoring. Device and upload failures park for retry without losing the
// already-finalized Recording.
func (c *Controller) runPrompt(ctx context.Context, part exam.Part, prompt exam.Prompt) (QuestionResult, error) {
	if err := c.transition(fsm.EventAsk); err != nil {
		return QuestionResult{}, err
	}
	c.saveSnapshot(prompt, false, 0)

	c.announcer.Announce(ctx, prompt.Text)
	if err := ctx.Err(); err != nil {
		return QuestionResult{}, err
	}

	if part.Prep > 0 {
		if err := c.transition(fsm.EventPrepare); err != nil {
			return QuestionResult{}, err
		}
		if err := c.waitPrep(ctx, part.Prep); err != nil {
			return QuestionResult{}, err
		}
	}

	c.announcer.Cue(ctx, announce.CueRecord)

	var rec exam.Recording
	for {
		captured, err := c.capture(ctx, part, prompt)
		if err == nil {
			rec = captured
			break
		}
		if ctx.Err() != nil {
			return QuestionResult{}, err
		}
		if perr := c.parkError(ctx, err); perr != nil {
			return QuestionResult{}, perr
		}
	}
	c.announcer.Cue(ctx, announce.CueStop)
	c.saveSnapshot(prompt, false, rec.Duration)

	var ref exam.StoredReference
	for {
		stored, err := c.store(ctx, rec, prompt)
		if err == nil {
			ref = stored
			break
		}
		if ctx.Err() != nil {
			return QuestionResult{}, err
		}
		if perr := c.parkError(ctx, err); perr != nil {
			return QuestionResult{}, perr
		}
	}

	feedback := c.scorer.Score(ctx, ref, score.Context{
		PartTag:     part.ID.Tag(),
		Window:      part.Response,
		PromptIndex: prompt.Index,
		PromptText:  prompt.Text,
	})

	c.saveSnapshot(prompt, true, rec.Duration)
	if err := c.transition(fsm.EventScored); err != nil {
		return QuestionResult{}, err
	}

	return QuestionResult{
		Prompt:   prompt,
		Stored:   ref,
		Feedback: feedback,
		Duration: rec.Duration,
		Partial:  rec.Partial,
	}, nil
}

// waitPrep blocks for the preparation window. Early stop requests are
// rejected at the Handle guard, so only expiry or cancellation end the wait.
func (c *Controller) waitPrep(ctx context.Context, window time.Duration) error {
	timer := clock.Start(window, c.tick)
	defer timer.Cancel()
	defer c.remaining.Store(0)

	for {
		select {
		case rem := <-timer.Ticks():
			c.remaining.Store(int64(rem))
		case <-timer.Expired():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// capture runs one arm/start/stop cycle against the response window. Window
// expiry and a manual stop action converge on the engine's idempotent Stop,
// so exactly one Recording exists either way.
func (c *Controller) capture(ctx context.Context, part exam.Part, prompt exam.Prompt) (exam.Recording, error) {
	c.drainActions()
	if err := c.engine.Arm(ctx); err != nil {
		return exam.Recording{}, err
	}
	if err := c.transition(fsm.EventRecord); err != nil {
		c.engine.Release()
		return exam.Recording{}, err
	}
	if err := c.engine.Start(ctx, prompt, part.Response+c.grace); err != nil {
		c.engine.Release()
		return exam.Recording{}, err
	}
	c.saveSnapshot(prompt, false, 0)

	window := clock.Start(part.Response, c.tick)
	defer window.Cancel()
	defer c.remaining.Store(0)

	for {
		select {
		case rem := <-window.Ticks():
			c.remaining.Store(int64(rem))
			continue
		case <-window.Expired():
			c.logDebug("response window expired; auto-stopping", "prompt", prompt.Key())
		case a := <-c.actions:
			if a != actionStop {
				continue
			}
			window.Cancel()
			c.logDebug("manual stop", "prompt", prompt.Key())
		case <-ctx.Done():
			window.Cancel()
			c.engine.Release()
			return exam.Recording{}, ctx.Err()
		}
		break
	}

	rec, err := c.engine.Stop(ctx)
	if err != nil {
		return exam.Recording{}, err
	}
	if err := c.transition(fsm.EventStop); err != nil {
		return exam.Recording{}, err
	}
	return rec, nil
}

// store uploads one retained Recording. On a retry the resume edge
// ready->uploading re-enters here without re-recording.
func (c *Controller) store(ctx context.Context, rec exam.Recording, prompt exam.Prompt) (exam.StoredReference, error) {
	if c.State() == fsm.StateReady {
		if err := c.transition(fsm.EventUpload); err != nil {
			return exam.StoredReference{}, err
		}
	}

	ref, err := c.uploader.Upload(ctx, rec, c.AttemptID(), prompt.Part.Tag())
	if err != nil {
		return exam.StoredReference{}, err
	}
	if err := c.transition(fsm.EventUploaded); err != nil {
		return exam.StoredReference{}, err
	}
	return ref, nil
}

// drainActions discards actions accepted for an earlier window. A second
// stop can pass the recording-state guard while the engine is already
// finalizing; left buffered, it would truncate the next prompt's window.
func (c *Controller) drainActions() {
	for {
		select {
		case <-c.actions:
		default:
			return
		}
	}
}

// parkError enters the error state and blocks until a retry action or
// cancellation. Non-retry actions received while parked are dropped.
func (c *Controller) parkError(ctx context.Context, cause error) error {
	c.mu.Lock()
	c.lastErr = cause
	c.mu.Unlock()

	_ = c.transition(fsm.EventFail)
	c.logError("attempt parked awaiting retry", cause)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a := <-c.actions:
			if a != actionRetry {
				continue
			}
			c.mu.Lock()
			c.lastErr = nil
			c.mu.Unlock()
			return c.transition(fsm.EventRetry)
		}
	}
}

// Handle serves control commands for the active attempt.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case "status":
		state := c.State()
		message := "status"
		switch state {
		case fsm.StateRecording:
			message = fmt.Sprintf("recording, %s remaining", c.Remaining().Round(time.Second))
		case fsm.StatePreparing:
			message = fmt.Sprintf("preparing, %s remaining", c.Remaining().Round(time.Second))
		case fsm.StateError:
			if err := c.LastError(); err != nil {
				message = err.Error()
			}
		}
		return ipc.Response{OK: true, State: string(state), Attempt: c.AttemptID(), Message: message}
	case "stop", "submit":
		return c.requestStop()
	case "retry":
		return c.requestRetry()
	default:
		return ipc.Response{OK: false, State: string(c.State()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

// requestStop enqueues an early submit when a response is being recorded.
func (c *Controller) requestStop() ipc.Response {
	state := c.State()
	if state == fsm.StatePreparing {
		return ipc.Response{OK: false, State: string(state), Error: "early stop is ignored during preparation"}
	}
	if state != fsm.StateRecording {
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot stop from state %s", state)}
	}

	select {
	case c.actions <- actionStop:
		return ipc.Response{OK: true, State: string(state), Message: "stop requested"}
	default:
		return ipc.Response{OK: true, State: string(state), Message: "stop already requested"}
	}
}

// requestRetry enqueues a retry when the attempt is parked on a failure.
func (c *Controller) requestRetry() ipc.Response {
	state := c.State()
	if state != fsm.StateError {
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot retry from state %s", state)}
	}

	select {
	case c.actions <- actionRetry:
		return ipc.Response{OK: true, State: string(state), Message: "retry requested"}
	default:
		return ipc.Response{OK: true, State: string(state), Message: "retry already requested"}
	}
}

// saveSnapshot writes the draft for one prompt, best-effort.
func (c *Controller) saveSnapshot(prompt exam.Prompt, answered bool, elapsed time.Duration) {
	c.drafts.Save(c.AttemptID(), prompt.Key(), exam.Snapshot{
		Part:      prompt.Part.Tag(),
		Prompt:    prompt.Index,
		Answered:  answered,
		Elapsed:   elapsed,
		UpdatedAt: time.Now(),
	})
}

func (c *Controller) logDebug(msg string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Debug(msg, args...)
}

func (c *Controller) logError(msg string, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Error(msg, "error", err.Error())
}
