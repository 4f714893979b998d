package stt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// WhisperConfig holds configuration for Whisper.
type WhisperConfig struct {
	APIKey  string
	BaseURL string        // Optional, defaults to OpenAI's API
	Model   string        // Optional, defaults to "whisper-1"
	Chunk   time.Duration // Audio accumulated per request
}

// Whisper recognizes speech with the OpenAI transcription API, one chunk
// of audio at a time. It produces final results only.
type Whisper struct {
	client *openai.Client
	model  string
	chunk  time.Duration
	ready  bool
}

// NewWhisper creates a Whisper recognizer.
func NewWhisper(cfg WhisperConfig) *Whisper {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(60 * time.Second),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}

	return &Whisper{
		client: &client,
		model:  model,
		chunk:  cfg.Chunk,
		ready:  cfg.APIKey != "",
	}
}

func (w *Whisper) Name() string  { return "whisper" }
func (w *Whisper) IsReady() bool { return w.ready }

// Start opens a chunked recognition stream.
func (w *Whisper) Start(ctx context.Context, opts Options) (Stream, error) {
	if !w.ready {
		return nil, fmt.Errorf("whisper: %w: API key required", ErrNotReady)
	}
	return NewChunkedStream(ctx, w, w.chunk, opts), nil
}

// Transcribe sends one WAV clip to the API.
func (w *Whisper) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: openai.AudioModel(w.model),
	}
	// The API rejects "auto"; leaving the field unset auto-detects.
	if language != "" && language != "auto" {
		params.Language = openai.String(baseLanguage(language))
	}

	resp, err := w.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return resp.Text, nil
}
