// Package announce reads prompts aloud and plays short audible cues marking
// window boundaries. Missing or failing synthesis capability degrades to
// silence so the exam can always proceed.
package announce

import (
	"context"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/shoaibmiaan/viva/internal/config"
)

// CueKind selects one of the short boundary tones.
type CueKind int

const (
	// CueRecord marks the prep->record boundary: start speaking now.
	CueRecord CueKind = iota + 1
	CueStop
	CueComplete
	CueCancel
)

// Announcer is the session-facing speech contract. Both operations block
// until playback completes and never report failure.
type Announcer interface {
	Announce(ctx context.Context, text string)
	Cue(ctx context.Context, kind CueKind)
}

// Muted preserves session flow when no announcer is wired.
type Muted struct{}

func (Muted) Announce(context.Context, string) {}
func (Muted) Cue(context.Context, CueKind)     {}

// Speaker announces via an external TTS command and plays synthesized PCM
// cues through Pulse. At most one utterance is active; starting a new one
// cancels the prior.
type Speaker struct {
	logger *slog.Logger
	tts    []string
	cues   bool

	mu         sync.Mutex
	generation uint64
	cancelPrev context.CancelFunc
}

// NewSpeaker constructs a Speaker from speech config.
func NewSpeaker(cfg config.SpeechConfig, logger *slog.Logger) *Speaker {
	return &Speaker{
		logger: logger,
		tts:    cfg.TTS.Argv,
		cues:   cfg.Cues,
	}
}

// Announce speaks text and returns when playback completes. Synthesis
// errors are swallowed and treated as immediate completion.
func (s *Speaker) Announce(ctx context.Context, text string) {
	if len(s.tts) == 0 || text == "" {
		return
	}

	s.mu.Lock()
	if s.cancelPrev != nil {
		s.cancelPrev()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelPrev = cancel
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		if s.generation == gen {
			s.cancelPrev = nil
		}
		s.mu.Unlock()
	}()

	args := append(append([]string(nil), s.tts[1:]...), text)
	cmd := exec.CommandContext(runCtx, s.tts[0], args...)
	if err := cmd.Run(); err != nil {
		s.logDebug("tts playback failed", "error", err.Error())
	}
}

// Cue plays one short boundary tone, best-effort.
func (s *Speaker) Cue(ctx context.Context, kind CueKind) {
	if !s.cues {
		return
	}
	if err := emitCue(ctx, kind); err != nil {
		s.logDebug("cue playback failed", "error", err.Error())
	}
}

func (s *Speaker) logDebug(msg string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Debug(msg, args...)
}
