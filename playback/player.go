// Package playback plays reply audio through an external player.
package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.aimuz.me/voicelink/audiocapture"
)

// ErrNoPlayer is returned when no audio player program is installed.
var ErrNoPlayer = errors.New("playback: no audio player available")

// candidates lists players that read encoded audio from stdin, in order of
// preference.
var candidates = [][]string{
	{"ffplay", "-nodisp", "-autoexit", "-loglevel", "error", "-i", "pipe:0"},
	{"mpv", "--no-video", "--really-quiet", "-"},
}

// Player plays one clip at a time. Starting a new clip stops the previous
// one.
type Player struct {
	args []string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Player using args, or the first installed candidate when
// args is empty.
func New(args []string) (*Player, error) {
	if len(args) > 0 {
		if _, err := exec.LookPath(args[0]); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNoPlayer, args[0])
		}
		return &Player{args: args}, nil
	}
	for _, c := range candidates {
		if _, err := exec.LookPath(c[0]); err == nil {
			return &Player{args: c}, nil
		}
	}
	return nil, ErrNoPlayer
}

// Play plays the encoded audio in r and blocks until it finishes, ctx is
// done or another Play replaces it.
func (p *Player) Play(ctx context.Context, r io.Reader) error {
	return p.play(ctx, r, true)
}

// errBusy reports that a clip was already playing and preempt was false.
var errBusy = errors.New("playback: busy")

func (p *Player) play(ctx context.Context, r io.Reader, preempt bool) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	if p.cancel != nil {
		if !preempt {
			p.mu.Unlock()
			cancel()
			return errBusy
		}
		p.cancel()
		prev := p.done
		p.mu.Unlock()
		<-prev
		p.mu.Lock()
	}
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	defer func() {
		cancel()
		p.mu.Lock()
		if p.done == done {
			p.cancel = nil
			p.done = nil
		}
		p.mu.Unlock()
		close(done)
	}()

	cmd := exec.CommandContext(ctx, p.args[0], p.args[1:]...)
	cmd.Stdin = r
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = 500 * time.Millisecond

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("play audio: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Stop interrupts the clip being played, if any.
func (p *Player) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Probe plays a few milliseconds of near silence to find out whether audio
// output works without any user action. It never interrupts a clip: a clip
// already playing, or one that replaces the probe, counts as success.
func (p *Player) Probe(ctx context.Context) error {
	err := p.play(ctx, bytes.NewReader(ProbeClip()), false)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errBusy):
		slog.Debug("playback probe skipped, clip playing")
		return nil
	case errors.Is(err, context.Canceled) && ctx.Err() == nil:
		slog.Debug("playback probe replaced by a clip")
		return nil
	}
	slog.Debug("playback probe failed", "error", err)
	return err
}

// ProbeClip is a 10ms, 16kHz WAV at an inaudible level.
func ProbeClip() []byte {
	const rate = 16000
	samples := make([]float32, rate/100)
	for i := range samples {
		samples[i] = 0.0001
	}
	return audiocapture.EncodeWAV(samples, rate)
}
