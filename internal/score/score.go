// Package score turns a stored recording into Feedback. The remote
// evaluation endpoint is tried exactly once per call; any failure degrades to
// a deterministic local heuristic so a completed Recording always yields a
// Feedback and the attempt never stalls on scoring.
package score

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/shoaibmiaan/viva/internal/exam"
	"github.com/shoaibmiaan/viva/internal/platform"
)

// Context describes the response being judged: which part, the nominal
// response window, and the prompt's identity.
type Context struct {
	PartTag     string
	Window      time.Duration
	PromptIndex int
	PromptText  string
}

// Scorer evaluates stored recordings. Safe for concurrent use.
type Scorer struct {
	client *platform.Client
	logger *slog.Logger
}

// NewScorer builds a scorer over the platform client. A nil client skips the
// remote path entirely and every call returns the heuristic.
func NewScorer(client *platform.Client, logger *slog.Logger) *Scorer {
	return &Scorer{client: client, logger: logger}
}

// Score evaluates one stored recording. It never returns an error: remote
// failure of any kind (status, transport, timeout, malformed body) yields the
// heuristic Feedback tagged with its provenance.
func (s *Scorer) Score(ctx context.Context, ref exam.StoredReference, sc Context) exam.Feedback {
	if s.client == nil {
		return heuristicFeedback()
	}

	resp, err := s.client.Evaluate(ctx, platform.EvalRequest{
		FileURL: ref.URL,
		Context: platform.EvalContext{
			Part:        sc.PartTag,
			WindowMS:    sc.Window.Milliseconds(),
			PromptIndex: sc.PromptIndex,
			PromptHash:  promptHash(sc.PromptText),
		},
	})
	if err != nil {
		s.logDebug("evaluation unavailable; using heuristic", "part", sc.PartTag, "error", err.Error())
		return heuristicFeedback()
	}

	criteria := exam.Criteria{
		Fluency:       RoundToBand(resp.Fluency),
		Lexical:       RoundToBand(resp.Lexical),
		Grammar:       RoundToBand(resp.Grammar),
		Pronunciation: RoundToBand(resp.Pron),
	}
	band := RoundToBand(resp.Band)
	if band == 0 {
		band = Overall(criteria)
	}
	if band == 0 {
		// Nothing judgeable in the payload.
		s.logDebug("evaluation response carried no scores; using heuristic", "part", sc.PartTag)
		return heuristicFeedback()
	}

	return exam.Feedback{
		Band:       band,
		Criteria:   criteria,
		Commentary: resp.Commentary,
		Provenance: exam.ProvenanceRemote,
	}
}

// heuristicFeedback is the deterministic degraded result: fixed plausible
// sub-scores plus one generic improvement note.
func heuristicFeedback() exam.Feedback {
	criteria := exam.Criteria{
		Fluency:       6.0,
		Lexical:       6.0,
		Grammar:       5.5,
		Pronunciation: 6.0,
	}
	return exam.Feedback{
		Band:       Overall(criteria),
		Criteria:   criteria,
		Commentary: "Automated scoring was unavailable for this response. Keep extending your answers with reasons and examples, and aim for a steady pace.",
		Provenance: exam.ProvenanceHeuristic,
	}
}

func promptHash(text string) string {
	if text == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}

func (s *Scorer) logDebug(msg string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Debug(msg, args...)
}
