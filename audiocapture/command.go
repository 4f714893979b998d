package audiocapture

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// frameSamples is how many samples are handed to the AudioHandler per call.
// 512 samples is 32ms at 16kHz.
const frameSamples = 512

// DefaultStartTimeout bounds the wait for the first audio from the capture
// program.
const DefaultStartTimeout = 5 * time.Second

// DefaultArgs returns the capture command for the current platform. The
// program must write mono signed 16-bit little-endian PCM to stdout.
func DefaultArgs(sampleRate int) []string {
	rate := strconv.Itoa(sampleRate)
	switch runtime.GOOS {
	case "linux":
		return []string{"arecord", "-q", "-t", "raw", "-f", "S16_LE", "-c", "1", "-r", rate}
	case "darwin":
		return []string{"ffmpeg", "-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-i", ":0", "-ac", "1", "-ar", rate, "-f", "s16le", "-"}
	case "windows":
		return []string{"ffmpeg", "-hide_banner", "-loglevel", "error",
			"-f", "dshow", "-i", "audio=default", "-ac", "1", "-ar", rate, "-f", "s16le", "-"}
	}
	return nil
}

// CommandCapturer records from a child process.
type CommandCapturer struct {
	args         []string
	sampleRate   int
	startTimeout time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Capturer using the platform default recorder.
func New(sampleRate int) (Capturer, error) {
	return NewCommand(sampleRate, nil)
}

// NewCommand creates a Capturer running args. An empty args selects
// DefaultArgs. ErrUnsupported is returned if the program is not installed.
func NewCommand(sampleRate int, args []string) (*CommandCapturer, error) {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if len(args) == 0 {
		args = DefaultArgs(sampleRate)
	}
	if len(args) == 0 {
		return nil, ErrUnsupported
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("%w: %s not found", ErrUnsupported, args[0])
	}
	return &CommandCapturer{args: args, sampleRate: sampleRate, startTimeout: DefaultStartTimeout}, nil
}

// SetStartTimeout changes how long Start waits for the first audio.
func (c *CommandCapturer) SetStartTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTimeout = d
}

// SampleRate returns the configured sample rate.
func (c *CommandCapturer) SampleRate() int {
	return c.sampleRate
}

func (c *CommandCapturer) Start(ctx context.Context, handler AudioHandler) error {
	if handler == nil {
		return errors.New("audiocapture: nil handler")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrRunning
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, c.args[0], c.args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = 500 * time.Millisecond

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("capture stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", c.args[0], err)
	}

	// A recorder denied access exits before producing audio. Wait for the
	// first bytes so the caller sees the permission error from Start.
	br := bufio.NewReaderSize(stdout, frameSamples*2)
	if err := c.firstAudio(ctx, br); err != nil {
		cancel()
		_ = cmd.Wait()
		if errors.Is(err, ErrNoAudio) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return classify(stderr.String(), err)
	}

	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.pump(cmd, br, handler, &stderr, cancel)

	slog.Info("microphone capture started", "cmd", c.args[0], "rate", c.sampleRate)
	return nil
}

// firstAudio waits until br has a sample, the start timeout passes or ctx
// is done. The caller kills the process on error, which ends the read.
func (c *CommandCapturer) firstAudio(ctx context.Context, br *bufio.Reader) error {
	peeked := make(chan error, 1)
	go func() {
		_, err := br.Peek(2)
		peeked <- err
	}()

	timeout := c.startTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-peeked:
		return err
	case <-timer.C:
		slog.Warn("microphone produced no audio", "cmd", c.args[0], "timeout", timeout)
		return fmt.Errorf("%w within %s", ErrNoAudio, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *CommandCapturer) pump(cmd *exec.Cmd, r io.Reader, handler AudioHandler, stderr *bytes.Buffer, cancel context.CancelFunc) {
	done := c.done
	defer close(done)
	defer cancel()

	err := readPCM(r, handler)
	waitErr := cmd.Wait()

	c.mu.Lock()
	stopped := !c.running
	c.running = false
	c.mu.Unlock()

	if !stopped && (err != nil || waitErr != nil) {
		slog.Warn("microphone capture ended", "error", errors.Join(err, waitErr), "stderr", strings.TrimSpace(stderr.String()))
	}
}

func (c *CommandCapturer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done

	slog.Info("microphone capture stopped")
	return nil
}

// readPCM decodes s16le frames from r until EOF.
func readPCM(r io.Reader, handler AudioHandler) error {
	raw := make([]byte, frameSamples*2)
	samples := make([]float32, frameSamples)
	for {
		n, err := io.ReadFull(r, raw)
		if n >= 2 {
			count := n / 2
			for i := range count {
				v := int16(binary.LittleEndian.Uint16(raw[i*2:]))
				samples[i] = float32(v) / 32768
			}
			handler(samples[:count])
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
	}
}

func classify(stderr string, err error) error {
	msg := strings.ToLower(stderr)
	for _, s := range []string{"permission denied", "not authorized", "not permitted", "access denied"} {
		if strings.Contains(msg, s) {
			return ErrPermissionDenied
		}
	}
	if msg != "" {
		return fmt.Errorf("capture failed: %s: %w", strings.TrimSpace(stderr), err)
	}
	return fmt.Errorf("capture failed: %w", err)
}
