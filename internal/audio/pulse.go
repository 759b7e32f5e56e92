package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	sampleRate     = 16000
	chunkSizeBytes = 640 // 20ms @ 16kHz mono s16
)

// Backend acquires a capture stream from the physical input device. The
// engine talks only to this interface so tests can substitute a fake.
type Backend interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is one acquired device handle delivering PCM chunks. Chunks closes
// when the stream stops or the device is lost; Err reports device loss after
// that close. Close is idempotent and always releases the handle.
type Stream interface {
	Start() error
	Chunks() <-chan []byte
	Err() error
	Device() string
	Close() error
}

// PulseBackend opens 16kHz mono s16 record streams against a Pulse server.
type PulseBackend struct {
	Input    string
	Fallback string
}

// Open resolves device selection and acquires the Pulse source.
func (b *PulseBackend) Open(ctx context.Context) (Stream, error) {
	selection, err := SelectDevice(ctx, b.Input, b.Fallback)
	if err != nil {
		return nil, err
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("viva"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}

	source, err := client.SourceByID(selection.Device.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", selection.Device.ID, err)
	}

	return &pulseStream{
		selection: selection,
		client:    client,
		source:    source,
		chunks:    make(chan []byte, 128),
		stopCh:    make(chan struct{}),
	}, nil
}

// pulseStream carries one record stream lifecycle from arm to release.
type pulseStream struct {
	selection Selection
	client    *pulse.Client
	source    *pulse.Source
	stream    *pulse.RecordStream

	chunks chan []byte
	stopCh chan struct{}

	mu      sync.Mutex
	pending []byte
	stopped bool
	started bool

	inflight sync.WaitGroup
	bytes    atomic.Int64
}

func (s *pulseStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	writer := pulse.NewWriter(writerFunc(s.onPCM), pulseproto.FormatInt16LE)
	stream, err := s.client.NewRecord(
		writer,
		pulse.RecordSource(s.source),
		pulse.RecordMono,
		pulse.RecordSampleRate(sampleRate),
		pulse.RecordBufferFragmentSize(chunkSizeBytes),
		pulse.RecordMediaName("viva oral response"),
	)
	if err != nil {
		return fmt.Errorf("create pulse record stream: %w", err)
	}

	s.stream = stream
	stream.Start()
	s.started = true
	return nil
}

func (s *pulseStream) Chunks() <-chan []byte {
	return s.chunks
}

// Err reports device loss on the record stream. The stream's writer error is
// io.EOF when we stopped it ourselves; anything else (a dying server reports
// pulse.ErrConnectionClosed) means the device went away mid-capture.
func (s *pulseStream) Err() error {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return nil
	}
	if err := stream.Error(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("record stream: %w", err)
	}
	return nil
}

func (s *pulseStream) Device() string {
	desc := s.selection.Device.Description
	if desc == "" {
		return s.selection.Device.ID
	}
	return fmt.Sprintf("%s (%s)", desc, s.selection.Device.ID)
}

// Close halts the stream, flushes residual PCM, closes Chunks exactly once,
// and releases the Pulse client.
func (s *pulseStream) Close() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	if s.stream != nil {
		s.stream.Stop()
		s.stream.Close()
	}
	if s.client != nil {
		s.client.Close()
	}

	s.inflight.Wait()

	s.mu.Lock()
	pending := append([]byte(nil), s.pending...)
	s.pending = nil
	s.mu.Unlock()

	if len(pending) > 0 {
		chunk := make([]byte, len(pending))
		copy(chunk, pending)
		select {
		case s.chunks <- chunk:
		default:
		}
	}

	close(s.chunks)
	return nil
}

// onPCM receives raw Pulse frames and emits chunkSizeBytes slices.
func (s *pulseStream) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-s.stopCh:
		return 0, io.EOF
	default:
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, io.EOF
	}
	// Guard Add under the same mutex as s.stopped to avoid Add/Wait races.
	s.inflight.Add(1)

	s.pending = append(s.pending, buffer...)

	chunks := make([][]byte, 0, len(s.pending)/chunkSizeBytes)
	for len(s.pending) >= chunkSizeBytes {
		chunk := make([]byte, chunkSizeBytes)
		copy(chunk, s.pending[:chunkSizeBytes])
		s.pending = s.pending[chunkSizeBytes:]
		chunks = append(chunks, chunk)
	}
	s.mu.Unlock()
	defer s.inflight.Done()

	s.bytes.Add(int64(len(buffer)))

	for _, chunk := range chunks {
		select {
		case <-s.stopCh:
			return 0, io.EOF
		case s.chunks <- chunk:
		}
	}

	return len(buffer), nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
