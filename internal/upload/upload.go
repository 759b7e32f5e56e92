// Package upload persists finalized recordings through an ordered chain of
// transports: pre-authorized direct write, then generic intake, then the
// narrow fallback intake. The first transport that succeeds wins; each is
// attempted once per call so latency stays bounded.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shoaibmiaan/viva/internal/exam"
	"github.com/shoaibmiaan/viva/internal/platform"
	"github.com/shoaibmiaan/viva/internal/strategy"
)

// Strategy names surfaced in StoredReference.Via and in error causes.
const (
	ViaSignedDirect   = "signed-direct"
	ViaIntake         = "intake"
	ViaFallbackIntake = "fallback-intake"
)

// Error reports total upload failure: every transport in the chain failed.
// The caller keeps the in-memory Recording; a later manual retry calls Upload
// again and may succeed on any transport.
type Error struct {
	AttemptID string
	PartTag   string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("upload failed for attempt %s %s: %v", e.AttemptID, e.PartTag, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Pipeline uploads one Recording per call. Safe for concurrent use.
type Pipeline struct {
	client        *platform.Client
	intakeURL     string
	fallbackURL   string
	bucket        string
	visibility    string
	logger        *slog.Logger
	newObjectName func(partTag string) string
}

// NewPipeline builds the upload chain over the platform client. The two
// intake URLs address the generic and last-resort surfaces; either may be
// empty, which removes that transport from the chain.
func NewPipeline(client *platform.Client, intakeURL, fallbackURL, bucket, visibility string, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		client:      client,
		intakeURL:   intakeURL,
		fallbackURL: fallbackURL,
		bucket:      bucket,
		visibility:  visibility,
		logger:      logger,
		newObjectName: func(partTag string) string {
			return fmt.Sprintf("%s-%s.wav", partTag, uuid.NewString())
		},
	}
}

// Upload persists the recording and returns its durable reference. Each call
// mints a fresh object name, so re-uploading the same Recording yields a
// distinct StoredReference.
func (p *Pipeline) Upload(ctx context.Context, rec exam.Recording, attemptID, partTag string) (exam.StoredReference, error) {
	filename := p.newObjectName(partTag)

	strategies := []strategy.Strategy[string]{
		{Name: ViaSignedDirect, Run: func(ctx context.Context) (string, error) {
			return p.signedDirect(ctx, filename, rec)
		}},
	}
	if p.intakeURL != "" {
		strategies = append(strategies, strategy.Strategy[string]{
			Name: ViaIntake,
			Run: func(ctx context.Context) (string, error) {
				return p.intake(ctx, p.intakeURL, filename, rec, attemptID, partTag)
			},
		})
	}
	if p.fallbackURL != "" {
		strategies = append(strategies, strategy.Strategy[string]{
			Name: ViaFallbackIntake,
			Run: func(ctx context.Context) (string, error) {
				return p.intake(ctx, p.fallbackURL, filename, rec, attemptID, partTag)
			},
		})
	}

	url, via, err := strategy.Run(ctx, strategies)
	if err != nil {
		p.logDebug("upload chain exhausted", "attempt", attemptID, "part", partTag, "error", err.Error())
		return exam.StoredReference{}, &Error{AttemptID: attemptID, PartTag: partTag, Err: err}
	}

	p.logDebug("recording stored", "attempt", attemptID, "part", partTag, "via", via, "url", url)
	return exam.StoredReference{URL: url, Via: via, StoredAt: time.Now()}, nil
}

// signedDirect requests a pre-authorized write location and, when the grant
// requires it, performs the object write itself.
func (p *Pipeline) signedDirect(ctx context.Context, filename string, rec exam.Recording) (string, error) {
	grant, err := p.client.SignUpload(ctx, platform.SignRequest{
		Filename:    filename,
		ContentType: rec.MIME,
		Bucket:      p.bucket,
		Visibility:  p.visibility,
	})
	if err != nil {
		return "", err
	}

	if !grant.Direct() {
		return grant.FileURL, nil
	}

	if err := p.client.DirectPut(ctx, grant.UploadURL, grant.Headers, rec.MIME, rec.Audio); err != nil {
		return "", err
	}
	if grant.PublicURL != "" {
		return grant.PublicURL, nil
	}
	return grant.UploadURL, nil
}

func (p *Pipeline) intake(ctx context.Context, endpoint, filename string, rec exam.Recording, attemptID, partTag string) (string, error) {
	return p.client.Intake(ctx, endpoint, platform.IntakeRequest{
		Filename:    filename,
		ContentType: rec.MIME,
		Payload:     rec.Audio,
		AttemptID:   attemptID,
		PartTag:     partTag,
	})
}

func (p *Pipeline) logDebug(msg string, args ...any) {
	if p.logger == nil {
		return
	}
	p.logger.Debug(msg, args...)
}
