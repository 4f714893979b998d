package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"go.aimuz.me/voicelink/coordinator"
	"go.aimuz.me/voicelink/internal/types"
)

// Player plays encoded audio. Play must return once ctx is done.
type Player interface {
	Play(ctx context.Context, r io.Reader) error
	Probe(ctx context.Context) error
}

type queuedClip struct {
	id          string
	contentType string
	size        int
	r           io.Reader
}

// PlaybackAdapter plays reply clips on a single worker goroutine. A newly
// queued clip replaces one still waiting and interrupts the one playing.
type PlaybackAdapter struct {
	player Player
	emit   func(name string, data any)

	mu      sync.Mutex
	pending *queuedClip
	stop    context.CancelFunc // cancels the clip being played
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPlaybackAdapter starts the playback worker.
func NewPlaybackAdapter(player Player, emit func(name string, data any)) *PlaybackAdapter {
	ctx, cancel := context.WithCancel(context.Background())
	pa := &PlaybackAdapter{
		player: player,
		emit:   emit,
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go pa.run()
	return pa
}

// Enqueue schedules clip for playback.
func (pa *PlaybackAdapter) Enqueue(clip *coordinator.AudioClip) {
	item := &queuedClip{
		id:          clip.ID,
		contentType: clip.ContentType,
		size:        clip.Len(),
		r:           clip.Reader(),
	}

	pa.mu.Lock()
	pa.pending = item
	if pa.stop != nil {
		pa.stop()
	}
	pa.mu.Unlock()

	select {
	case pa.wake <- struct{}{}:
	default:
	}
}

// Interrupt stops the clip being played without dropping a queued one.
func (pa *PlaybackAdapter) Interrupt() {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	if pa.stop != nil {
		pa.stop()
	}
}

// Close stops playback and waits for the worker to exit.
func (pa *PlaybackAdapter) Close() {
	pa.cancel()
	<-pa.done
}

func (pa *PlaybackAdapter) run() {
	defer close(pa.done)
	for {
		select {
		case <-pa.ctx.Done():
			return
		case <-pa.wake:
		}

		ctx, stop := context.WithCancel(pa.ctx)
		pa.mu.Lock()
		item := pa.pending
		pa.pending = nil
		pa.stop = stop
		pa.mu.Unlock()
		if item == nil {
			stop()
			continue
		}

		ev := types.Playback{ClipID: item.id, ContentType: item.contentType, Bytes: item.size}
		err := pa.player.Play(ctx, item.r)
		switch {
		case err == nil:
			slog.Debug("reply played", "clip", item.id, "bytes", item.size)
		case errors.Is(err, context.Canceled):
			slog.Debug("reply interrupted", "clip", item.id)
			ev.Error = err.Error()
		default:
			slog.Warn("play reply", "clip", item.id, "error", err)
			ev.Error = err.Error()
		}

		pa.mu.Lock()
		pa.stop = nil
		pa.mu.Unlock()
		stop()
		pa.emit(EventPlayback, ev)
	}
}
