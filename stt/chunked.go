package stt

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.aimuz.me/voicelink/audiocapture"
)

// Transcriber turns one WAV clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, language string) (string, error)
}

// minChunk is the shortest audio worth a request.
const minChunk = 300 * time.Millisecond

// chunkedStream turns a one-shot Transcriber into a Stream by transcribing
// the audio fed since the previous chunk on every interval. Each chunk
// yields one final result.
type chunkedStream struct {
	tr         Transcriber
	language   string
	sampleRate int
	interval   time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending []float32
	err     error

	results chan Result
	stop    chan struct{}
	ended   chan struct{}
	once    sync.Once
}

// NewChunkedStream turns tr into a Stream that transcribes the audio fed
// since the previous chunk every interval. Stop transcribes what is left
// before Results is closed.
func NewChunkedStream(ctx context.Context, tr Transcriber, interval time.Duration, opts Options) Stream {
	return newChunkedStream(ctx, tr, interval, opts)
}

func newChunkedStream(ctx context.Context, tr Transcriber, interval time.Duration, opts Options) *chunkedStream {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &chunkedStream{
		tr:         tr,
		language:   opts.Language,
		sampleRate: opts.SampleRate,
		interval:   interval,
		ctx:        ctx,
		cancel:     cancel,
		results:    make(chan Result, 8),
		stop:       make(chan struct{}),
		ended:      make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *chunkedStream) Feed(samples []float32) {
	s.mu.Lock()
	s.pending = append(s.pending, samples...)
	s.mu.Unlock()
}

func (s *chunkedStream) Results() <-chan Result { return s.results }

func (s *chunkedStream) Stop() {
	s.once.Do(func() { close(s.stop) })
}

func (s *chunkedStream) Abort() {
	s.cancel()
}

// Flushing reports whether Stop was called and the remaining audio is still
// being transcribed.
func (s *chunkedStream) Flushing() bool {
	select {
	case <-s.stop:
	default:
		return false
	}
	select {
	case <-s.ended:
		return false
	default:
		return true
	}
}

func (s *chunkedStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *chunkedStream) run() {
	defer close(s.results)
	defer close(s.ended)
	defer s.cancel()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.stop:
			s.flush(0)
			return
		case <-ticker.C:
			if !s.flush(minChunk) {
				return
			}
		}
	}
}

// flush transcribes pending audio if at least minDur of it is buffered.
// It returns false when the stream should end.
func (s *chunkedStream) flush(minDur time.Duration) bool {
	s.mu.Lock()
	if len(s.pending) == 0 || len(s.pending) < int(minDur.Seconds()*float64(s.sampleRate)) {
		s.mu.Unlock()
		return true
	}
	chunk := s.pending
	s.pending = nil
	s.mu.Unlock()

	text, err := s.tr.Transcribe(s.ctx, audiocapture.EncodeWAV(chunk, s.sampleRate), s.language)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		slog.Warn("transcription failed", "error", err)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		return false
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return true
	}

	select {
	case s.results <- Result{Text: text, Final: true}:
	case <-s.ctx.Done():
		return false
	}
	return true
}
