package app

import (
	"context"
	"log/slog"

	"go.aimuz.me/voicelink/audiocapture"
	"go.aimuz.me/voicelink/config"
	"go.aimuz.me/voicelink/internal/types"
	"go.aimuz.me/voicelink/stt"
	"go.aimuz.me/voicelink/voice"
)

// VoiceAdapter runs the recorder and reports its progress as events.
type VoiceAdapter struct {
	rec  *voice.Recorder
	emit func(name string, data any)
}

func newVoiceAdapter(cfg *config.Config, recognizer stt.Recognizer, mic voice.MicFunc,
	emit func(name string, data any), finished func(voice.Outcome), opts ...voice.Option) *VoiceAdapter {
	va := &VoiceAdapter{emit: emit}

	// Hooks other than Finished share the recorder's loop goroutine.
	var (
		status voice.Status
		level  float64
	)
	hooks := voice.Hooks{
		Status: func(s voice.Status) {
			status = s
			emit(EventVoiceStatus, types.VoiceUpdate{Status: s.String(), Level: level})
		},
		Level: func(v float64) {
			level = v
			emit(EventVoiceLevel, types.VoiceUpdate{Status: status.String(), Level: v})
		},
		Transcript: func(text string) {
			emit(EventTranscript, types.VoiceUpdate{Status: status.String(), Transcript: text})
		},
		Finished: finished,
	}

	va.rec = voice.NewRecorder(voiceConfig(cfg), recognizer, mic, hooks, opts...)
	return va
}

func voiceConfig(cfg *config.Config) voice.Config {
	v := cfg.Voice
	return voice.Config{
		Threshold:       float32(v.Threshold),
		SilenceHold:     v.SilenceHold,
		SilenceDebounce: v.SilenceDebounce,
		MaxRecording:    v.MaxRecording,
		MaxCycles:       v.MaxCycles,
		Grace:           v.Grace,
		FlushTimeout:    v.FlushTimeout,
		SampleInterval:  v.SampleInterval,
		Window:          v.Window,
		SampleRate:      v.SampleRate,
		Language:        v.Language,
	}
}

// Start begins a recording.
func (va *VoiceAdapter) Start(ctx context.Context) error {
	return va.rec.Start(ctx)
}

// Stop cancels the recording in progress.
func (va *VoiceAdapter) Stop() {
	va.rec.Stop()
}

// Active reports whether a recording is in progress.
func (va *VoiceAdapter) Active() bool {
	return va.rec.Active()
}

// Level returns the latest microphone level.
func (va *VoiceAdapter) Level() float64 {
	return va.rec.Level()
}

// newRecognizer returns the configured recognizer, or nil when none is
// usable.
func newRecognizer(cfg config.Recognizer) stt.Recognizer {
	if cfg.Provider == "none" {
		return nil
	}

	registry := stt.NewRegistry()
	registry.Register(stt.NewWhisper(stt.WhisperConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Chunk:   cfg.Chunk,
	}))

	rec, err := registry.Ready(cfg.Provider)
	if err != nil {
		slog.Warn("speech recognition unavailable", "provider", cfg.Provider, "available", registry.List(), "error", err)
		return nil
	}
	return rec
}

// commandMic opens the configured capture command, or a platform default.
func commandMic(cfg *config.Config) voice.MicFunc {
	rate := cfg.Voice.SampleRate
	args := cfg.Microphone.Args
	return func() (audiocapture.Capturer, error) {
		if len(args) == 0 {
			return audiocapture.New(rate)
		}
		c, err := audiocapture.NewCommand(rate, args)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}
