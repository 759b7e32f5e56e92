// Package exam defines the speaking-attempt data model shared by the
// capture, upload, scoring, and session packages.
package exam

import (
	"strconv"
	"time"
)

// Mode selects which examination flavor an attempt runs.
type Mode string

const (
	ModeSimulator Mode = "simulator"
	ModePractice  Mode = "practice"
	ModeRoleplay  Mode = "roleplay"
)

// Valid reports whether the mode is one of the known flavors.
func (m Mode) Valid() bool {
	switch m {
	case ModeSimulator, ModePractice, ModeRoleplay:
		return true
	}
	return false
}

// PartID identifies one ordered phase of an attempt.
type PartID int

const (
	Part1 PartID = iota + 1
	Part2
	Part3
)

// Tag returns the wire/storage tag for a part ("p1", "p2", "p3").
func (p PartID) Tag() string {
	switch p {
	case Part1:
		return "p1"
	case Part2:
		return "p2"
	case Part3:
		return "p3"
	default:
		return "p0"
	}
}

// Attempt is one examination session. The identifier is issued lazily by the
// platform on first need and is immutable once set.
type Attempt struct {
	ID        string
	Mode      Mode
	CreatedAt time.Time
	Part      PartID
}

// Prompt is a single question/cue requiring one spoken response.
type Prompt struct {
	Part  PartID
	Index int
	Text  string
}

// Key returns the draft-store key fragment for this prompt.
func (p Prompt) Key() string {
	return p.Part.Tag() + "-q" + strconv.Itoa(p.Index)
}

// Part is one phase plan: its prompts, the per-prompt response window, and
// the preparation window policy (zero means no prep phase).
type Part struct {
	ID       PartID
	Title    string
	Prompts  []Prompt
	Response time.Duration
	Prep     time.Duration
}

// Recording is the finalized audio artifact for one prompt. Immutable once
// finalized; a retry supersedes it with a new Recording rather than mutating.
type Recording struct {
	Prompt     Prompt
	Audio      []byte
	MIME       string
	Duration   time.Duration
	CapturedAt time.Time
	// Partial marks a recording finalized after unexpected device loss.
	Partial bool
}

// StoredReference is the durable location of an uploaded Recording.
type StoredReference struct {
	URL      string
	Via      string
	StoredAt time.Time
}

// Provenance records which path produced a Feedback.
type Provenance string

const (
	ProvenanceRemote    Provenance = "remote"
	ProvenanceHeuristic Provenance = "fallback-heuristic"
)

// Criteria is the sub-score breakdown on the 0–9 band scale.
type Criteria struct {
	Fluency       float64 `json:"fluency"`
	Lexical       float64 `json:"lexical"`
	Grammar       float64 `json:"grammar"`
	Pronunciation float64 `json:"pronunciation"`
}

// Feedback is the scoring result for one Recording. One is always produced
// for every completed Recording, remote or heuristic.
type Feedback struct {
	Band       float64
	Criteria   Criteria
	Commentary string
	Provenance Provenance
}

// Snapshot is the draft-store payload persisted per attempt+prompt.
type Snapshot struct {
	Part      string        `json:"part"`
	Prompt    int           `json:"prompt"`
	Answered  bool          `json:"answered"`
	Elapsed   time.Duration `json:"elapsed_ms"`
	UpdatedAt time.Time     `json:"updated_at"`
}
