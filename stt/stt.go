// Package stt provides continuous speech recognition.
package stt

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrNotReady is returned when a recognizer cannot start, e.g. a missing API key.
var ErrNotReady = errors.New("stt: recognizer not ready")

// Result is one recognition hypothesis.
type Result struct {
	Text  string
	Final bool
}

// Options configures a recognition stream.
type Options struct {
	// Language is a BCP 47 tag or ISO 639-1 code; empty auto-detects.
	Language string
	// Interim requests non-final hypotheses where the engine supports them.
	Interim bool
	// SampleRate of the samples passed to Feed.
	SampleRate int
}

// Stream is a running recognition session.
//
// Results is closed once the stream has ended. After a Stop the engine may
// still deliver final results for audio already fed; after an Abort nothing
// more is delivered. Err reports why the stream ended and is only meaningful
// after Results is closed.
type Stream interface {
	Feed(samples []float32)
	Results() <-chan Result
	Stop()
	Abort()
	Err() error
}

// Flusher is implemented by streams that keep transcribing audio already
// fed after Stop. Flushing reports whether that work is still under way;
// Results is closed once it ends.
type Flusher interface {
	Flushing() bool
}

// Recognizer opens recognition streams.
type Recognizer interface {
	// Name returns the provider identifier.
	Name() string
	// IsReady returns true if Start can succeed.
	IsReady() bool
	// Start opens a continuous stream.
	Start(ctx context.Context, opts Options) (Stream, error)
}

// Registry holds registered recognizers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Recognizer
}

// NewRegistry creates a new recognizer registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Recognizer),
	}
}

// Register adds a recognizer to the registry.
func (r *Registry) Register(p Recognizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns a recognizer by name, or nil.
func (r *Registry) Get(name string) Recognizer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// Ready returns the named recognizer if it is registered and ready.
func (r *Registry) Ready(name string) (Recognizer, error) {
	p := r.Get(name)
	if p == nil {
		return nil, fmt.Errorf("recognizer %q not registered", name)
	}
	if !p.IsReady() {
		return nil, fmt.Errorf("recognizer %q: %w", name, ErrNotReady)
	}
	return p, nil
}

// List returns all registered recognizer names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
