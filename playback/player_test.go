package playback

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

// waitPlaying blocks until p has a clip running.
func waitPlaying(t *testing.T, p *Player) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		p.mu.Lock()
		running := p.cancel != nil
		p.mu.Unlock()
		if running {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("player did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewMissingPlayer(t *testing.T) {
	if _, err := New([]string{"voicelink-no-such-player"}); !errors.Is(err, ErrNoPlayer) {
		t.Errorf("New() = %v, want ErrNoPlayer", err)
	}
}

func TestPlayPipesAudio(t *testing.T) {
	requireSh(t)

	out := filepath.Join(t.TempDir(), "played")
	p, err := New([]string{"sh", "-c", "cat > " + out})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := p.Play(context.Background(), bytes.NewReader([]byte("ID3clip"))); err != nil {
		t.Fatalf("Play: %v", err)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(got) != "ID3clip" {
		t.Errorf("player received %q, want %q", got, "ID3clip")
	}
}

func TestPlayFailure(t *testing.T) {
	requireSh(t)

	p, err := New([]string{"sh", "-c", "echo 'no audio device' >&2; exit 1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Probe(context.Background()); err == nil {
		t.Fatal("Probe succeeded with a failing player")
	}
}

func TestStopInterrupts(t *testing.T) {
	requireSh(t)

	p, err := New([]string{"sh", "-c", "exec sleep 10"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	errc := make(chan error, 1)
	go func() { errc <- p.Play(context.Background(), bytes.NewReader(nil)) }()

	waitPlaying(t, p)

	p.Stop()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Play() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not interrupt playback")
	}
	p.Stop()
}

func TestProbeClip(t *testing.T) {
	clip := ProbeClip()
	if len(clip) != 44+160*2 {
		t.Errorf("len = %d, want %d", len(clip), 44+320)
	}
	if string(clip[:4]) != "RIFF" {
		t.Errorf("header = %q", clip[:4])
	}
}

func TestProbeLeavesClipPlaying(t *testing.T) {
	requireSh(t)

	p, err := New([]string{"sh", "-c", "cat >/dev/null; sleep 0.3"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	errc := make(chan error, 1)
	go func() { errc <- p.Play(context.Background(), bytes.NewReader([]byte("ID3reply"))) }()
	waitPlaying(t, p)

	if err := p.Probe(context.Background()); err != nil {
		t.Errorf("Probe() = %v, want nil while a clip plays", err)
	}
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Play() = %v, want the reply to finish", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reply did not finish")
	}
}

func TestProbeReplacedByClip(t *testing.T) {
	requireSh(t)

	p, err := New([]string{"sh", "-c", "exec sleep 10"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	probe := make(chan error, 1)
	go func() { probe <- p.Probe(context.Background()) }()
	waitPlaying(t, p)

	played := make(chan error, 1)
	go func() { played <- p.Play(context.Background(), bytes.NewReader(nil)) }()

	select {
	case err := <-probe:
		if err != nil {
			t.Errorf("Probe() = %v, want nil when a clip takes over", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("probe not replaced")
	}

	waitPlaying(t, p)
	p.Stop()
	<-played
}
