package score

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoaibmiaan/viva/internal/exam"
	"github.com/shoaibmiaan/viva/internal/platform"
)

func scorerFor(t *testing.T, handler http.HandlerFunc) (*Scorer, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := platform.NewClient(server.Client(), platform.Endpoints{Evaluate: server.URL}, nil)
	return NewScorer(client, nil), server
}

var storedRef = exam.StoredReference{URL: "https://store.example/p2-q1.wav", Via: "signed-direct"}

func TestScoreRemoteSuccess(t *testing.T) {
	var seen platform.EvalRequest
	scorer, _ := scorerFor(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&seen))
		_ = json.NewEncoder(w).Encode(platform.EvalResponse{
			Band:       6.75,
			Fluency:    6.4,
			Lexical:    6.0,
			Grammar:    6.6,
			Pron:       7.1,
			Commentary: "Clear structure; watch article usage.",
		})
	})

	fb := scorer.Score(context.Background(), storedRef, Context{
		PartTag:     "p2",
		Window:      2 * time.Minute,
		PromptIndex: 1,
		PromptText:  "Describe a journey you remember well.",
	})

	assert.Equal(t, exam.ProvenanceRemote, fb.Provenance)
	assert.Equal(t, 7.0, fb.Band, "raw band is rounded to the half-band scale")
	assert.Equal(t, 6.5, fb.Criteria.Fluency)
	assert.Equal(t, 6.0, fb.Criteria.Lexical)
	assert.Equal(t, 6.5, fb.Criteria.Grammar)
	assert.Equal(t, 7.0, fb.Criteria.Pronunciation)
	assert.Equal(t, "Clear structure; watch article usage.", fb.Commentary)

	assert.Equal(t, "https://store.example/p2-q1.wav", seen.FileURL)
	assert.Equal(t, "p2", seen.Context.Part)
	assert.Equal(t, int64(120000), seen.Context.WindowMS)
	assert.NotEmpty(t, seen.Context.PromptHash)
}

func TestScoreRemoteBandDerivedFromCriteria(t *testing.T) {
	scorer, _ := scorerFor(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(platform.EvalResponse{
			Fluency: 7.0,
			Lexical: 7.0,
			Grammar: 6.0,
			Pron:    6.0,
		})
	})

	fb := scorer.Score(context.Background(), storedRef, Context{PartTag: "p1"})
	assert.Equal(t, exam.ProvenanceRemote, fb.Provenance)
	assert.Equal(t, 6.5, fb.Band)
}

func TestScoreFailureStatusFallsBackToHeuristic(t *testing.T) {
	hits := 0
	scorer, _ := scorerFor(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "model unavailable", http.StatusBadGateway)
	})

	fb := scorer.Score(context.Background(), storedRef, Context{PartTag: "p1"})
	assert.Equal(t, exam.ProvenanceHeuristic, fb.Provenance)
	assert.Equal(t, 1, hits, "the remote path is attempted exactly once per call")
	assertHeuristic(t, fb)
}

func TestScoreNetworkFailureFallsBackToHeuristic(t *testing.T) {
	scorer, server := scorerFor(t, func(w http.ResponseWriter, r *http.Request) {})
	server.Close()

	fb := scorer.Score(context.Background(), storedRef, Context{PartTag: "p3"})
	assert.Equal(t, exam.ProvenanceHeuristic, fb.Provenance)
}

func TestScoreMalformedBodyFallsBackToHeuristic(t *testing.T) {
	scorer, _ := scorerFor(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	})

	fb := scorer.Score(context.Background(), storedRef, Context{PartTag: "p1"})
	assert.Equal(t, exam.ProvenanceHeuristic, fb.Provenance)
}

func TestScoreEmptyEvaluationFallsBackToHeuristic(t *testing.T) {
	scorer, _ := scorerFor(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(platform.EvalResponse{})
	})

	fb := scorer.Score(context.Background(), storedRef, Context{PartTag: "p1"})
	assert.Equal(t, exam.ProvenanceHeuristic, fb.Provenance)
}

func TestScoreNilClientIsHeuristic(t *testing.T) {
	fb := NewScorer(nil, nil).Score(context.Background(), storedRef, Context{PartTag: "p1"})
	assert.Equal(t, exam.ProvenanceHeuristic, fb.Provenance)
	assertHeuristic(t, fb)
}

func TestScoreHeuristicIsDeterministic(t *testing.T) {
	scorer := NewScorer(nil, nil)
	first := scorer.Score(context.Background(), storedRef, Context{PartTag: "p1"})
	second := scorer.Score(context.Background(), storedRef, Context{PartTag: "p2"})
	assert.Equal(t, first, second)
}

func assertHeuristic(t *testing.T, fb exam.Feedback) {
	t.Helper()
	assert.Equal(t, 6.0, fb.Band)
	assert.Equal(t, 6.0, fb.Criteria.Fluency)
	assert.Equal(t, 6.0, fb.Criteria.Lexical)
	assert.Equal(t, 5.5, fb.Criteria.Grammar)
	assert.Equal(t, 6.0, fb.Criteria.Pronunciation)
	assert.NotEmpty(t, fb.Commentary)
}

func TestRoundToBand(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{-1.0, 0},
		{0, 0},
		{5.24, 5.0},
		{5.25, 5.5},
		{5.75, 6.0},
		{6.74, 6.5},
		{8.9, 9.0},
		{10.5, 9.0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RoundToBand(tc.in), "RoundToBand(%v)", tc.in)
	}
}

func TestOverall(t *testing.T) {
	c := exam.Criteria{Fluency: 6.0, Lexical: 6.0, Grammar: 5.5, Pronunciation: 6.0}
	assert.Equal(t, 6.0, Overall(c))

	c = exam.Criteria{Fluency: 5.0, Lexical: 5.0, Grammar: 5.5, Pronunciation: 5.0}
	assert.Equal(t, 5.0, Overall(c))
}
