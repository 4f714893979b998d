// Package coordinator owns the single WebSocket connection to the voice
// assistant backend. It reconnects after abnormal closes, persists the
// user's session flags and publishes everything it sees on an ordered
// event bus.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.aimuz.me/voicelink/internal/metrics"
	"go.aimuz.me/voicelink/prefs"
)

var (
	// ErrClosed is returned by Connect after Shutdown.
	ErrClosed = errors.New("coordinator: closed")
	// ErrNotConnected is returned when an operation needs an open socket.
	ErrNotConnected = errors.New("coordinator: not connected")
)

// State is a snapshot of the connection and session flags.
type State struct {
	Connected         bool
	UserInteracted    bool
	Listening         bool
	AutoListening     bool
	Audio             *AudioClip
	LatestReply       string
	ReconnectAttempts int
}

// SessionStore persists the session flags.
type SessionStore interface {
	Session() (prefs.Session, error)
	SetBool(key string, v bool) error
}

// Prober checks whether audio can be played without a user gesture.
type Prober interface {
	Probe(ctx context.Context) error
}

// Config configures a Coordinator.
type Config struct {
	// URL is the ws:// or wss:// endpoint.
	URL    string
	Policy ReconnectPolicy
	// DialTimeout bounds each automatic reconnect attempt.
	DialTimeout time.Duration
}

// Option configures optional collaborators.
type Option func(*Coordinator)

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Coordinator) { c.dialer = d }
}

// WithStore persists session flags to s.
func WithStore(s SessionStore) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithProber sets the autoplay capability probe.
func WithProber(p Prober) Option {
	return func(c *Coordinator) { c.prober = p }
}

// WithMetrics records connection metrics to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// scheduleFunc runs f after d and returns a function that cancels it.
type scheduleFunc func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Coordinator is the process-wide connection owner. Create one with New,
// pass it to whatever needs it and call Shutdown when done.
type Coordinator struct {
	url         string
	policy      ReconnectPolicy
	dialTimeout time.Duration
	dialer      Dialer
	store       SessionStore
	prober      Prober
	metrics     *metrics.Metrics
	schedule    scheduleFunc
	bus         *Bus

	mu         sync.Mutex
	conn       Conn
	dialing    bool
	dialCancel context.CancelFunc
	state      State
	restored   bool
	attempts   int
	retryStop  func() bool
	epoch      uint64 // bumped by Disconnect; invalidates in-flight dials and retries
	closed     bool

	wg sync.WaitGroup
}

// New creates a Coordinator and loads the persisted session flags.
func New(cfg Config, opts ...Option) *Coordinator {
	if cfg.Policy == (ReconnectPolicy{}) {
		cfg.Policy = DefaultReconnectPolicy()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	c := &Coordinator{
		url:         cfg.URL,
		policy:      cfg.Policy,
		dialTimeout: cfg.DialTimeout,
		schedule:    afterFunc,
		bus:         NewBus(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = WebSocketDialer{HandshakeTimeout: cfg.DialTimeout}
	}

	if c.store != nil {
		s, err := c.store.Session()
		if err != nil {
			slog.Warn("load session flags", "error", err)
		}
		c.state.UserInteracted = s.UserInteracted
		c.state.Listening = s.Listening
		c.state.AutoListening = s.AutoListening
		c.restored = s.UserInteracted
	}
	return c
}

// Subscribe registers fn for events published from now on. Current state is
// not replayed; call State for a snapshot.
func (c *Coordinator) Subscribe(fn func(Event)) (unsubscribe func()) {
	return c.bus.Subscribe(fn)
}

// State returns a snapshot.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.ReconnectAttempts = c.attempts
	return s
}

// Connected reports whether the socket is open.
func (c *Coordinator) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Connected
}

// Connect opens the socket unless one is already open or opening. A manual
// Connect restarts the reconnect budget and cancels a pending retry.
func (c *Coordinator) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.cancelRetryLocked()
	c.attempts = 0
	c.mu.Unlock()

	return c.connect(ctx)
}

func (c *Coordinator) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil || c.dialing {
		c.mu.Unlock()
		return nil
	}
	c.dialing = true
	epoch := c.epoch
	ctx, cancel := context.WithCancel(ctx)
	c.dialCancel = cancel
	c.mu.Unlock()

	slog.Debug("websocket dialing", "url", c.url)
	conn, err := c.dialer.Dial(ctx, c.url)
	cancel()

	c.mu.Lock()
	c.dialing = false
	c.dialCancel = nil

	if c.epoch != epoch || c.closed {
		// Disconnected while dialing.
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close(CloseNormal, "client disconnect")
		}
		return nil
	}

	if err != nil {
		c.mu.Unlock()
		slog.Warn("websocket connect failed", "url", c.url, "error", err)
		c.handleClose(nil, CloseAbnormal)
		return fmt.Errorf("connect: %w", err)
	}

	c.conn = conn
	c.state.Connected = true
	c.attempts = 0
	c.metrics.RecordConnect()
	c.bus.Publish(ConnectionChanged{Connected: true})
	if c.restored {
		c.bus.Publish(StateRestored{State: c.state})
	}
	c.wg.Add(1)
	c.mu.Unlock()

	slog.Info("websocket connected", "url", c.url)
	go c.readLoop(conn)
	return nil
}

// Disconnect closes the socket normally. It never schedules a reconnect
// and cancels one that is pending.
func (c *Coordinator) Disconnect() {
	c.mu.Lock()
	c.epoch++
	c.cancelRetryLocked()
	if c.dialCancel != nil {
		c.dialCancel()
	}

	conn := c.conn
	c.conn = nil
	was := conn != nil || c.state.Connected
	c.state.Connected = false
	if was {
		c.metrics.RecordClose(CloseNormal)
		c.bus.Publish(ConnectionChanged{Connected: false})
	}
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(CloseNormal, "client disconnect"); err != nil {
			slog.Debug("websocket close", "error", err)
		}
		slog.Info("websocket disconnected", "url", c.url)
	}
}

// Shutdown disconnects, releases the last audio clip and stops the event
// bus. Events already published are still delivered. Safe to call more
// than once.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.Disconnect()
	c.wg.Wait()

	c.mu.Lock()
	clip := c.state.Audio
	c.state.Audio = nil
	c.mu.Unlock()
	if clip != nil {
		clip.Release()
	}

	c.bus.Close()
}

// SendMessage sends a text frame. It returns false if the socket is not
// open or the write fails.
func (c *Coordinator) SendMessage(text string) bool {
	return c.send(TextMessage, []byte(text), "text")
}

// SendJSON marshals v and sends it as a text frame.
func (c *Coordinator) SendJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("marshal message", "error", err)
		return false
	}
	return c.send(TextMessage, data, "json")
}

func (c *Coordinator) send(t MessageType, data []byte, kind string) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		slog.Warn("send while disconnected", "kind", kind)
		c.metrics.RecordSend(kind, false)
		return false
	}
	if err := conn.WriteMessage(t, data); err != nil {
		slog.Warn("websocket send failed", "kind", kind, "error", err)
		c.metrics.RecordSend(kind, false)
		return false
	}
	c.metrics.RecordSend(kind, true)
	return true
}

// UserMeta introduces the user to the backend.
type UserMeta struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// SendUserMeta sends the user's name, first as a control envelope and then
// as a spoken-style introduction. It is best effort: nothing is sent when
// disconnected or name is empty, and failures are only logged.
func (c *Coordinator) SendUserMeta(name string) {
	if name == "" || !c.Connected() {
		return
	}
	if !c.SendJSON(UserMeta{Type: "user_meta", Name: name}) {
		slog.Warn("send user meta failed", "name", name)
		return
	}
	if !c.SendMessage("我的名字是" + name) {
		slog.Warn("send user introduction failed", "name", name)
	}
}

// SetUserInteracted records whether the user has interacted with the client.
func (c *Coordinator) SetUserInteracted(v bool) {
	c.setFlag(prefs.KeyUserInteracted, v, func(s *State) { s.UserInteracted = v }, UserInteractionChanged{Interacted: v})
}

// SetListening records whether the client is in listening mode.
func (c *Coordinator) SetListening(v bool) {
	c.setFlag(prefs.KeyListening, v, func(s *State) { s.Listening = v }, ListeningChanged{Listening: v})
}

// SetAutoListening records the outcome of the autoplay probe.
func (c *Coordinator) SetAutoListening(v bool) {
	c.setFlag(prefs.KeyAutoListening, v, func(s *State) { s.AutoListening = v }, AutoListeningChanged{Enabled: v})
}

func (c *Coordinator) setFlag(key string, v bool, apply func(*State), e Event) {
	c.mu.Lock()
	apply(&c.state)
	c.bus.Publish(e)
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	if err := c.store.SetBool(key, v); err != nil {
		slog.Warn("persist session flag", "key", key, "error", err)
	}
}

// TryEnableAutoListening plays a near-silent clip to learn whether audio
// may start without a user gesture. On success the user is treated as
// having interacted and listening starts. On failure auto-listening is
// turned off and the UI must ask the user to start listening.
func (c *Coordinator) TryEnableAutoListening(ctx context.Context) bool {
	var err error
	if c.prober == nil {
		err = errors.New("no audio player")
	} else {
		err = c.prober.Probe(ctx)
	}

	if err != nil {
		slog.Info("autoplay unavailable, user interaction required", "error", err)
		c.SetAutoListening(false)
		return false
	}

	c.SetUserInteracted(true)
	c.SetListening(true)
	c.SetAutoListening(true)
	slog.Info("auto-listening enabled")
	return true
}

func (c *Coordinator) readLoop(conn Conn) {
	defer c.wg.Done()

	for {
		t, data, err := conn.ReadMessage()
		if err != nil {
			code := CloseCode(err)
			slog.Debug("websocket read ended", "code", code, "error", err)
			_ = conn.Close(CloseNormal, "")
			c.handleClose(conn, code)
			return
		}

		switch t {
		case BinaryMessage:
			c.metrics.RecordFrame("binary")
			clip := NewAudioClip(data)
			c.mu.Lock()
			old := c.state.Audio
			c.state.Audio = clip
			// The previous clip's event may still be queued.
			c.bus.PublishThen(AudioReceived{Clip: clip}, func() {
				if old != nil {
					old.Release()
				}
			})
			c.mu.Unlock()
		case TextMessage:
			c.metrics.RecordFrame("text")
			text := string(data)
			c.mu.Lock()
			c.state.LatestReply = text
			c.bus.Publish(TextReceived{Text: text})
			c.mu.Unlock()
		}
	}
}

// handleClose processes the end of conn, or a failed dial when conn is nil.
// Closes of a socket that has since been replaced are ignored.
func (c *Coordinator) handleClose(conn Conn, code int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn != nil {
		if conn != c.conn {
			return
		}
		c.conn = nil
	}

	c.state.Connected = false
	c.metrics.RecordClose(code)
	c.bus.Publish(ConnectionChanged{Connected: false})
	slog.Info("websocket closed", "code", code)

	if code == CloseNormal || c.closed {
		return
	}
	c.scheduleRetryLocked()
}

func (c *Coordinator) scheduleRetryLocked() {
	if c.retryStop != nil {
		return
	}
	n := c.attempts + 1
	if !c.policy.Allows(n) {
		slog.Warn("reconnect attempts exhausted", "attempts", c.attempts)
		c.metrics.RecordReconnectExhausted()
		c.bus.Publish(ReconnectExhausted{Attempts: c.attempts})
		return
	}

	c.attempts = n
	delay := c.policy.Delay(n)
	epoch := c.epoch
	c.metrics.RecordReconnect()
	slog.Info("reconnect scheduled", "attempt", n, "max", c.policy.MaxAttempts, "delay", delay)

	c.retryStop = c.schedule(delay, func() {
		c.mu.Lock()
		if c.epoch != epoch || c.closed {
			c.mu.Unlock()
			return
		}
		c.retryStop = nil
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
		defer cancel()
		_ = c.connect(ctx)
	})
}

func (c *Coordinator) cancelRetryLocked() {
	if c.retryStop != nil {
		c.retryStop()
		c.retryStop = nil
	}
}
