package upload

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoaibmiaan/viva/internal/exam"
	"github.com/shoaibmiaan/viva/internal/platform"
	"github.com/shoaibmiaan/viva/internal/strategy"
)

// uploadFixture is one fake platform: sign, direct-put, generic intake, and
// fallback intake endpoints with switchable failure modes.
type uploadFixture struct {
	server *httptest.Server

	mu              sync.Mutex
	signFails       bool
	putFails        bool
	intakeFails     bool
	fallbackFails   bool
	signReturnsFile bool

	putCount      int
	intakeCount   int
	fallbackCount int
	intakeNames   []string
}

func newUploadFixture(t *testing.T) *uploadFixture {
	t.Helper()
	f := &uploadFixture{}
	mux := http.NewServeMux()

	mux.HandleFunc("/sign", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.signFails {
			http.Error(w, "sign backend down", http.StatusBadGateway)
			return
		}
		if f.signReturnsFile {
			_ = json.NewEncoder(w).Encode(platform.SignResponse{FileURL: f.server.URL + "/objects/inline"})
			return
		}
		_ = json.NewEncoder(w).Encode(platform.SignResponse{
			UploadURL: f.server.URL + "/put",
			PublicURL: f.server.URL + "/objects/direct",
			Headers:   map[string]string{"x-acl": "private"},
		})
	})

	mux.HandleFunc("/put", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.putCount++
		if f.putFails {
			http.Error(w, "object store rejected write", http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	intake := func(fails *bool, count *int, url string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			defer f.mu.Unlock()
			*count++
			if *fails {
				http.Error(w, "intake unavailable", http.StatusServiceUnavailable)
				return
			}
			require.NoError(t, r.ParseMultipartForm(1<<20))
			_, header, err := r.FormFile("file")
			require.NoError(t, err)
			f.intakeNames = append(f.intakeNames, header.Filename)
			_ = json.NewEncoder(w).Encode(map[string]string{"fileUrl": url})
		}
	}
	mux.HandleFunc("/intake", intake(&f.intakeFails, &f.intakeCount, "https://store.example/via-intake"))
	mux.HandleFunc("/fallback", intake(&f.fallbackFails, &f.fallbackCount, "https://store.example/via-fallback"))

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *uploadFixture) pipeline() *Pipeline {
	client := platform.NewClient(f.server.Client(), platform.Endpoints{Sign: f.server.URL + "/sign"}, nil)
	return NewPipeline(client, f.server.URL+"/intake", f.server.URL+"/fallback", "speaking-responses", "private", nil)
}

func testRecording() exam.Recording {
	return exam.Recording{
		Prompt:     exam.Prompt{Part: exam.Part1, Index: 1, Text: "Where are you from?"},
		Audio:      []byte("RIFF-wav-bytes"),
		MIME:       "audio/wav",
		Duration:   12 * time.Second,
		CapturedAt: time.Now(),
	}
}

func TestUploadSignedDirectWins(t *testing.T) {
	f := newUploadFixture(t)

	ref, err := f.pipeline().Upload(context.Background(), testRecording(), "att-1", "p1")
	require.NoError(t, err)
	assert.Equal(t, ViaSignedDirect, ref.Via)
	assert.Equal(t, f.server.URL+"/objects/direct", ref.URL)
	assert.False(t, ref.StoredAt.IsZero())
	assert.Equal(t, 1, f.putCount)
	assert.Zero(t, f.intakeCount, "later strategies must not run after a success")
}

func TestUploadSignReturnsFileURLWithoutPut(t *testing.T) {
	f := newUploadFixture(t)
	f.signReturnsFile = true

	ref, err := f.pipeline().Upload(context.Background(), testRecording(), "att-1", "p1")
	require.NoError(t, err)
	assert.Equal(t, ViaSignedDirect, ref.Via)
	assert.Equal(t, f.server.URL+"/objects/inline", ref.URL)
	assert.Zero(t, f.putCount)
}

func TestUploadFallsBackToIntake(t *testing.T) {
	f := newUploadFixture(t)
	f.signFails = true

	ref, err := f.pipeline().Upload(context.Background(), testRecording(), "att-1", "p1")
	require.NoError(t, err)
	assert.Equal(t, ViaIntake, ref.Via)
	assert.Equal(t, "https://store.example/via-intake", ref.URL)
	assert.Equal(t, 1, f.intakeCount)
	assert.Zero(t, f.fallbackCount)
}

func TestUploadRejectedDirectWriteFallsBack(t *testing.T) {
	f := newUploadFixture(t)
	f.putFails = true

	ref, err := f.pipeline().Upload(context.Background(), testRecording(), "att-1", "p2")
	require.NoError(t, err)
	assert.Equal(t, ViaIntake, ref.Via)
}

func TestUploadLastResortFallbackIntake(t *testing.T) {
	f := newUploadFixture(t)
	f.signFails = true
	f.intakeFails = true

	ref, err := f.pipeline().Upload(context.Background(), testRecording(), "att-1", "p3")
	require.NoError(t, err)
	assert.Equal(t, ViaFallbackIntake, ref.Via)
	assert.Equal(t, "https://store.example/via-fallback", ref.URL)
}

func TestUploadTotalFailureAggregatesAllCauses(t *testing.T) {
	f := newUploadFixture(t)
	f.signFails = true
	f.intakeFails = true
	f.fallbackFails = true

	_, err := f.pipeline().Upload(context.Background(), testRecording(), "att-1", "p1")
	require.Error(t, err)

	var upErr *Error
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, "att-1", upErr.AttemptID)

	var chain *strategy.ChainError
	require.ErrorAs(t, err, &chain)
	require.Len(t, chain.Causes, 3)
	assert.Equal(t, ViaSignedDirect, chain.Causes[0].Name)
	assert.Equal(t, ViaIntake, chain.Causes[1].Name)
	assert.Equal(t, ViaFallbackIntake, chain.Causes[2].Name)

	// Each strategy ran exactly once: no cross-strategy retry loop.
	assert.Equal(t, 1, f.intakeCount)
	assert.Equal(t, 1, f.fallbackCount)
}

func TestUploadRetryMintsDistinctObjectName(t *testing.T) {
	f := newUploadFixture(t)
	f.signFails = true
	pipeline := f.pipeline()

	_, err := pipeline.Upload(context.Background(), testRecording(), "att-1", "p1")
	require.NoError(t, err)
	_, err = pipeline.Upload(context.Background(), testRecording(), "att-1", "p1")
	require.NoError(t, err)

	require.Len(t, f.intakeNames, 2)
	assert.NotEqual(t, f.intakeNames[0], f.intakeNames[1])
	assert.Contains(t, f.intakeNames[0], "p1-")
}
