package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shoaibmiaan/viva/internal/exam"
)

// DeviceError reports a failed device acquisition: permission denied, no
// input device, or an unreachable audio server. Fatal to the current cycle
// and recoverable only through an explicit re-arm.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("microphone %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

var (
	// ErrNotArmed reports Start called outside the armed state.
	ErrNotArmed = errors.New("capture engine is not armed")
	// ErrNotCapturing reports Stop called with no capture cycle to finalize.
	ErrNotCapturing = errors.New("capture engine is not capturing")
)

type engineState int

const (
	engineIdle engineState = iota
	engineArmed
	engineCapturing
	engineFinalizing
)

// Engine is the microphone capture state machine:
// idle -> armed -> capturing -> finalizing -> idle.
// Exactly one Recording is finalized per arm/start cycle regardless of
// whether the stop came from the caller, the internal ceiling, or device
// loss mid-capture.
type Engine struct {
	logger  *slog.Logger
	backend Backend

	mu      sync.Mutex
	state   engineState
	stream  Stream
	prompt  exam.Prompt
	started time.Time
	ceiling *time.Timer

	collected   [][]byte
	collectDone chan struct{}
	deviceLost  bool

	finalizeOnce *sync.Once
	finalized    *exam.Recording
	finalDone    chan struct{}
}

// NewEngine constructs a capture engine over the given device backend.
func NewEngine(backend Backend, logger *slog.Logger) *Engine {
	return &Engine{logger: logger, backend: backend}
}

// Arm acquires the input device. Any failure is a *DeviceError; capture
// cannot proceed until a later Arm succeeds. Arming discards the previous
// cycle's finalized Recording.
func (e *Engine) Arm(ctx context.Context) error {
	e.mu.Lock()
	if e.state == engineCapturing || e.state == engineFinalizing {
		e.mu.Unlock()
		return &DeviceError{Op: "arm", Err: errors.New("capture cycle already in progress")}
	}
	e.mu.Unlock()

	stream, err := e.backend.Open(ctx)
	if err != nil {
		return &DeviceError{Op: "arm", Err: err}
	}

	e.mu.Lock()
	e.state = engineArmed
	e.stream = stream
	e.collected = nil
	e.deviceLost = false
	e.finalizeOnce = &sync.Once{}
	e.finalized = nil
	e.finalDone = make(chan struct{})
	e.collectDone = make(chan struct{})
	e.mu.Unlock()

	e.logDebug("microphone armed", "device", stream.Device())
	return nil
}

// Start begins accumulating audio from the armed device. The ceiling is a
// hard internal limit: if Stop is not called before it elapses, the engine
// self-stops and still finalizes exactly one Recording. Calling Start while
// already capturing is a no-op.
func (e *Engine) Start(ctx context.Context, prompt exam.Prompt, ceiling time.Duration) error {
	e.mu.Lock()
	if e.state == engineCapturing {
		e.mu.Unlock()
		return nil
	}
	if e.state != engineArmed || e.stream == nil {
		e.mu.Unlock()
		return ErrNotArmed
	}

	stream := e.stream
	e.prompt = prompt
	e.mu.Unlock()

	if err := stream.Start(); err != nil {
		e.releaseLocked()
		return &DeviceError{Op: "start", Err: err}
	}

	e.mu.Lock()
	e.state = engineCapturing
	e.started = time.Now()
	if ceiling > 0 {
		e.ceiling = time.AfterFunc(ceiling, func() {
			e.logDebug("capture ceiling reached; self-stopping")
			_, _ = e.Stop(context.Background())
		})
	}
	e.mu.Unlock()

	go e.collect(stream)
	return nil
}

// collect drains the stream's chunk channel. When the channel closes with a
// stream error, the device was lost mid-capture: finalize with whatever was
// captured rather than discarding.
func (e *Engine) collect(stream Stream) {
	for chunk := range stream.Chunks() {
		e.mu.Lock()
		e.collected = append(e.collected, chunk)
		e.mu.Unlock()
	}

	lossErr := stream.Err()

	// deviceLost must be visible before collectDone closes: finalize waits on
	// collectDone and then reads the flag to tag the Recording.
	e.mu.Lock()
	if lossErr != nil {
		e.deviceLost = true
	}
	capturing := e.state == engineCapturing
	done := e.collectDone
	e.mu.Unlock()
	close(done)

	if lossErr != nil {
		e.logDebug("device lost mid-capture", "error", lossErr.Error())
		if capturing {
			_, _ = e.Stop(context.Background())
		}
	}
}

// Stop finalizes the current capture cycle and returns its Recording.
// Idempotent: concurrent and repeated stops (manual stop racing the ceiling,
// a second manual stop) all converge on the same single Recording.
func (e *Engine) Stop(ctx context.Context) (exam.Recording, error) {
	e.mu.Lock()
	if e.finalized != nil {
		rec := *e.finalized
		e.mu.Unlock()
		return rec, nil
	}
	if e.state != engineCapturing && e.state != engineFinalizing {
		e.mu.Unlock()
		return exam.Recording{}, ErrNotCapturing
	}
	once := e.finalizeOnce
	done := e.finalDone
	e.mu.Unlock()

	once.Do(e.finalize)

	select {
	case <-done:
	case <-ctx.Done():
		return exam.Recording{}, ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finalized == nil {
		return exam.Recording{}, ErrNotCapturing
	}
	return *e.finalized, nil
}

// finalize assembles collected chunks into one WAV object and releases the
// device handle. Runs at most once per cycle.
func (e *Engine) finalize() {
	e.mu.Lock()
	e.state = engineFinalizing
	if e.ceiling != nil {
		e.ceiling.Stop()
		e.ceiling = nil
	}
	stream := e.stream
	started := e.started
	prompt := e.prompt
	collectDone := e.collectDone
	e.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	if collectDone != nil {
		<-collectDone
	}

	elapsed := time.Since(started)

	e.mu.Lock()
	total := 0
	for _, chunk := range e.collected {
		total += len(chunk)
	}
	pcm := make([]byte, 0, total)
	for _, chunk := range e.collected {
		pcm = append(pcm, chunk...)
	}
	e.collected = nil

	rec := exam.Recording{
		Prompt:     prompt,
		Audio:      encodeWAV(pcm, sampleRate, 1),
		MIME:       "audio/wav",
		Duration:   elapsed,
		CapturedAt: time.Now(),
		Partial:    e.deviceLost,
	}
	e.finalized = &rec
	e.stream = nil
	e.state = engineIdle
	done := e.finalDone
	e.mu.Unlock()

	close(done)
	e.logDebug("recording finalized",
		"bytes", len(rec.Audio),
		"duration", elapsed.String(),
		"partial", rec.Partial,
	)
}

// Release frees the device handle from any state without finalizing. Used
// on abnormal exit paths (unmount, attempt abandonment) so the single
// physical microphone is never left locked.
func (e *Engine) Release() {
	e.releaseLocked()
}

func (e *Engine) releaseLocked() {
	e.mu.Lock()
	stream := e.stream
	state := e.state
	e.stream = nil
	e.state = engineIdle
	e.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	if state == engineCapturing || state == engineFinalizing {
		e.logDebug("capture released without finalize")
	}
}

func (e *Engine) logDebug(msg string, args ...any) {
	if e.logger == nil {
		return
	}
	e.logger.Debug(msg, args...)
}
