// Package voice turns continuous microphone input into one finished
// utterance, ending the recording on silence, on a duration cap, or when
// the room is too noisy to tell.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.aimuz.me/voicelink/audiocapture"
	"go.aimuz.me/voicelink/stt"
)

var (
	// ErrRecognitionUnsupported is returned when no speech recognizer is
	// available. Capture cannot start until one is configured.
	ErrRecognitionUnsupported = errors.New("voice: speech recognition unsupported")
	// ErrActive is returned by Start while a recording is in progress.
	ErrActive = errors.New("voice: recording already active")
)

// Config tunes the capture loop.
type Config struct {
	Threshold       float32
	SilenceHold     time.Duration
	SilenceDebounce time.Duration
	MaxRecording    time.Duration
	MaxCycles       int
	Grace           time.Duration
	FlushTimeout    time.Duration
	SampleInterval  time.Duration
	Window          int
	SampleRate      int
	Language        string
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:       0.02,
		SilenceHold:     300 * time.Millisecond,
		SilenceDebounce: 800 * time.Millisecond,
		MaxRecording:    15 * time.Second,
		MaxCycles:       5,
		Grace:           100 * time.Millisecond,
		FlushTimeout:    10 * time.Second,
		SampleInterval:  16 * time.Millisecond,
		Window:          256,
		SampleRate:      16000,
	}
}

// Outcome describes a finished recording.
type Outcome struct {
	Reason     Reason
	Transcript string // empty unless Reason.Sends()
	Cycles     int
	Duration   time.Duration
	Err        error
}

// Hooks receive recorder updates. All hooks run on the recorder's loop
// goroutine except Finished, which runs after the loop has exited. Hooks
// other than Finished must not call Stop.
type Hooks struct {
	Status     func(Status)
	Level      func(float64)
	Transcript func(string)
	Finished   func(Outcome)
}

// MicFunc opens a microphone.
type MicFunc func() (audiocapture.Capturer, error)

// Recorder runs at most one capture session at a time.
type Recorder struct {
	cfg   Config
	rec   stt.Recognizer
	mic   MicFunc
	hooks Hooks
	clock Clock

	// window holds the latest samples for level analysis. It is cleared at
	// the start of every session.
	window *audiocapture.RingBuffer

	mu    sync.Mutex
	cur   *session
	level float64
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(r *Recorder) { r.clock = c }
}

// NewRecorder creates a Recorder. A nil recognizer makes every Start fail
// with ErrRecognitionUnsupported.
func NewRecorder(cfg Config, rec stt.Recognizer, mic MicFunc, hooks Hooks, opts ...Option) *Recorder {
	d := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = d.Window
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = d.SampleInterval
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = d.SampleRate
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = d.FlushTimeout
	}
	r := &Recorder{
		cfg:    cfg,
		rec:    rec,
		mic:    mic,
		hooks:  hooks,
		clock:  SystemClock{},
		window: audiocapture.NewRingBuffer(cfg.Window),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start opens the recognizer and the microphone and begins monitoring.
// The session is reserved before the microphone opens, so Stop can abort a
// start that is still waiting for audio.
func (r *Recorder) Start(ctx context.Context) error {
	if r.rec == nil {
		return ErrRecognitionUnsupported
	}

	r.mu.Lock()
	if r.cur != nil {
		r.mu.Unlock()
		return ErrActive
	}
	micCtx, abort := context.WithCancel(ctx)
	s := &session{
		r:      r,
		window: r.window,
		abort:  abort,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	r.cur = s
	r.mu.Unlock()

	if err := s.open(ctx, micCtx); err != nil {
		abort()
		r.mu.Lock()
		r.cur = nil
		r.mu.Unlock()
		close(s.done)
		return err
	}

	go s.run()

	slog.Info("voice capture started", "recognizer", r.rec.Name())
	return nil
}

// Stop cancels the recording in progress and discards its transcript.
// Calling Stop when idle is a no-op.
func (r *Recorder) Stop() {
	r.mu.Lock()
	s := r.cur
	r.mu.Unlock()

	if s == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Active reports whether a recording is in progress.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur != nil
}

// Level returns the latest microphone level in [0, 1].
func (r *Recorder) Level() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level
}

func (r *Recorder) setLevel(v float64) {
	r.mu.Lock()
	r.level = v
	r.mu.Unlock()
	if r.hooks.Level != nil {
		r.hooks.Level(v)
	}
}

func (r *Recorder) setStatus(s Status) {
	if r.hooks.Status != nil {
		r.hooks.Status(s)
	}
}

// ─── session ────────────────────────────────────────────────────────────

// session is one recording. Once open returns, all of its state is owned
// by run.
type session struct {
	r      *Recorder
	stream stt.Stream
	mic    audiocapture.Capturer
	window *audiocapture.RingBuffer
	det    *Detector
	ticker Ticker
	abort  context.CancelFunc // cancels a microphone start in progress

	finals  []string
	interim string
	status  Status

	finalizing bool
	reason     Reason

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (s *session) cancel() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.abort()
	})
}

// open starts the recognizer, then the microphone. It runs without the
// recorder lock held; micCtx is cancelled by Stop.
func (s *session) open(ctx, micCtx context.Context) error {
	r := s.r
	stream, err := r.rec.Start(ctx, stt.Options{
		Language:   r.cfg.Language,
		Interim:    true,
		SampleRate: r.cfg.SampleRate,
	})
	if err != nil {
		if errors.Is(err, stt.ErrNotReady) {
			return fmt.Errorf("%w: %w", ErrRecognitionUnsupported, err)
		}
		return fmt.Errorf("start recognizer: %w", err)
	}

	mic, err := r.mic()
	if err != nil {
		stream.Abort()
		return fmt.Errorf("open microphone: %w", err)
	}

	s.window.Clear()
	window := s.window
	if err := mic.Start(micCtx, func(samples []float32) {
		window.Write(samples)
		stream.Feed(samples)
	}); err != nil {
		stream.Abort()
		return fmt.Errorf("start microphone: %w", err)
	}

	s.stream = stream
	s.mic = mic
	s.det = NewDetector(r.cfg.Threshold, r.cfg.SilenceHold, r.cfg.MaxRecording, r.cfg.MaxCycles)
	s.ticker = r.clock.NewTicker(r.cfg.SampleInterval)
	return nil
}

func (s *session) text() string {
	parts := s.finals
	if s.interim != "" {
		parts = append(parts[:len(parts):len(parts)], s.interim)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func (s *session) publish(st Status) {
	if st == s.status {
		return
	}
	s.status = st
	s.r.setStatus(st)
}

func (s *session) run() {
	clock := s.r.clock
	cfg := s.r.cfg
	started := clock.Now()
	s.det.Begin(started)
	s.publish(StatusListening)

	var (
		debounce Timer
		grace    Timer
		flush    Timer
		results  = s.stream.Results()
		out      Outcome
	)
	flusher, _ := s.stream.(stt.Flusher)

	// finalize stops recognition and waits out the grace period so late
	// final results still land in the transcript. A stream still flushing
	// audio when grace ends gets until FlushTimeout.
	finalize := func(reason Reason) {
		s.finalizing = true
		s.reason = reason
		if debounce != nil {
			debounce.Stop()
			debounce = nil
		}
		s.stream.Stop()
		grace = clock.NewTimer(cfg.Grace)
		if flusher != nil {
			flush = clock.NewTimer(cfg.FlushTimeout)
		}
		slog.Debug("voice capture finalizing", "reason", reason, "cycles", s.det.Cycles())
	}

loop:
	for {
		select {
		case <-s.stop:
			out.Reason = ReasonManual
			break loop

		case <-s.ticker.C():
			if s.finalizing || s.window.Len() == 0 {
				continue
			}
			res := s.det.Process(Input{
				Samples:       s.window.Read(cfg.Window),
				Now:           clock.Now(),
				HasTranscript: s.text() != "",
				DebounceArmed: debounce != nil,
			})
			s.r.setLevel(res.Level)
			if res.Finalize != ReasonNone {
				finalize(res.Finalize)
				continue
			}
			s.publish(res.Status)
			if res.CancelDebounce && debounce != nil {
				debounce.Stop()
				debounce = nil
			}
			if res.ArmDebounce {
				debounce = clock.NewTimer(cfg.SilenceDebounce)
			}

		case <-timerC(debounce):
			debounce = nil
			if s.finalizing || s.text() == "" {
				continue
			}
			finalize(ReasonSilence)

		case <-timerC(grace):
			grace = nil
			if flusher != nil && flusher.Flushing() {
				slog.Debug("voice capture waiting for recognizer flush")
				continue
			}
			out.Reason = s.reason
			out.Transcript = s.text()
			break loop

		case <-timerC(flush):
			flush = nil
			slog.Warn("recognizer flush timed out", "timeout", cfg.FlushTimeout)
			out.Reason = s.reason
			out.Transcript = s.text()
			break loop

		case res, ok := <-results:
			if !ok {
				results = nil
				if s.finalizing {
					// Every result is in.
					if err := s.stream.Err(); err != nil {
						slog.Warn("recognizer flush failed", "error", err)
					}
					out.Reason = s.reason
					out.Transcript = s.text()
					break loop
				}
				out.Err = s.stream.Err()
				out.Reason = ReasonEnded
				if out.Err != nil {
					out.Reason = ReasonError
				}
				break loop
			}
			if res.Final {
				if t := strings.TrimSpace(res.Text); t != "" {
					s.finals = append(s.finals, t)
				}
				s.interim = ""
			} else {
				s.interim = strings.TrimSpace(res.Text)
			}
			if !s.finalizing {
				s.det.Heard(clock.Now())
				s.publish(StatusSpeaking)
			}
			if s.r.hooks.Transcript != nil {
				s.r.hooks.Transcript(s.text())
			}
		}
	}

	out.Cycles = s.det.Cycles()
	out.Duration = clock.Now().Sub(started)
	if out.Transcript == "" && out.Reason.Sends() {
		// Nothing to send after all; treat like the recognizer ending.
		out.Reason = ReasonEnded
	}
	s.teardown(out, debounce, grace, flush)
}

// teardown releases everything the session holds. It runs exactly once,
// on the loop goroutine, whichever way the session ended.
func (s *session) teardown(out Outcome, timers ...Timer) {
	s.stream.Abort()
	if err := s.mic.Stop(); err != nil {
		slog.Warn("stop microphone", "error", err)
	}
	s.abort()
	s.ticker.Stop()
	for _, t := range timers {
		if t != nil {
			t.Stop()
		}
	}

	s.r.setLevel(0)
	s.window.Clear()
	s.finals = nil
	s.interim = ""
	s.det.Reset()

	if out.Reason.Sends() {
		s.publish(StatusSent)
	} else {
		s.publish(StatusAborted)
	}
	s.publish(StatusIdle)

	s.r.mu.Lock()
	s.r.cur = nil
	s.r.mu.Unlock()
	close(s.done)

	slog.Info("voice capture ended", "reason", out.Reason, "cycles", out.Cycles, "duration", out.Duration)
	if s.r.hooks.Finished != nil {
		s.r.hooks.Finished(out)
	}
}
