package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.aimuz.me/voicelink/chat"
	"go.aimuz.me/voicelink/config"
	"go.aimuz.me/voicelink/coordinator"
	"go.aimuz.me/voicelink/internal/metrics"
	"go.aimuz.me/voicelink/internal/types"
	"go.aimuz.me/voicelink/playback"
	"go.aimuz.me/voicelink/prefs"
	"go.aimuz.me/voicelink/robot"
	"go.aimuz.me/voicelink/stt"
	"go.aimuz.me/voicelink/voice"
)

const (
	autoListenDelay = 500 * time.Millisecond
	sentCacheSize   = 10
	replyCacheSize  = 20
)

// Options replaces the collaborators New would otherwise build from the
// configuration.
type Options struct {
	Store      prefs.Store
	Dialer     coordinator.Dialer
	Player     Player
	Recognizer stt.Recognizer
	Mic        voice.MicFunc
	Detector   chat.Detector
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
	VoiceOpts  []voice.Option

	// Emit receives every event the service produces.
	Emit func(name string, data any)
}

// Service provides the client's functionality to a front end.
// This struct focuses on orchestration; behaviour lives in the components.
type Service struct {
	cfg     *config.Config
	prefs   *prefs.Prefs
	metrics *metrics.Metrics
	coord   *coordinator.Coordinator

	history *chat.History
	sent    *chat.Seen
	replies *chat.Seen

	playback *PlaybackAdapter
	voice    *VoiceAdapter

	robots   *robot.Client
	selector *robot.Selector
	monitor  *robot.Monitor

	emitFn     func(name string, data any)
	now        func() time.Time
	listenWait time.Duration

	mu            sync.Mutex
	robotID       string
	connectedOnce bool
	closed        bool
	ctx           context.Context
	cancel        context.CancelFunc
	unsubscribe   func()
	wg            sync.WaitGroup
}

// New builds the service. Call Start to connect and Shutdown when done.
func New(cfg *config.Config, opts Options) (*Service, error) {
	store := opts.Store
	if store == nil {
		dir, err := cfg.DataPath()
		if err != nil {
			return nil, err
		}
		b, err := prefs.OpenBadger(prefs.BadgerOptions{Dir: dir})
		if err != nil {
			return nil, fmt.Errorf("open prefs: %w", err)
		}
		store = b
	}

	s := &Service{
		cfg:        cfg,
		prefs:      prefs.New(store),
		metrics:    opts.Metrics,
		sent:       chat.NewSeen(sentCacheSize),
		replies:    chat.NewSeen(replyCacheSize),
		emitFn:     opts.Emit,
		now:        time.Now,
		listenWait: autoListenDelay,
		robotID:    cfg.User.RobotID,
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}

	detector := opts.Detector
	if detector == nil {
		detector = chat.NewLinguaDetector()
	}
	s.history = chat.NewHistory(chat.WithDetector(detector))

	player := opts.Player
	if player == nil {
		p, err := playback.New(cfg.Playback.Args)
		if err != nil {
			slog.Warn("audio playback unavailable", "error", err)
		} else {
			player = p
		}
	}

	coordOpts := []coordinator.Option{
		coordinator.WithStore(s.prefs),
		coordinator.WithMetrics(s.metrics),
	}
	if opts.Dialer != nil {
		coordOpts = append(coordOpts, coordinator.WithDialer(opts.Dialer))
	}
	if player != nil {
		coordOpts = append(coordOpts, coordinator.WithProber(player))
		s.playback = NewPlaybackAdapter(player, s.emit)
	}
	s.coord = coordinator.New(coordinator.Config{
		URL: cfg.WebSocketURL(),
		Policy: coordinator.ReconnectPolicy{
			MaxAttempts: cfg.Reconnect.MaxAttempts,
			BaseDelay:   cfg.Reconnect.BaseDelay,
		},
		DialTimeout: cfg.Server.DialTimeout,
	}, coordOpts...)

	recognizer := opts.Recognizer
	if recognizer == nil {
		recognizer = newRecognizer(cfg.Recognizer)
	}
	mic := opts.Mic
	if mic == nil {
		mic = commandMic(cfg)
	}
	s.voice = newVoiceAdapter(cfg, recognizer, mic, s.emit, s.onRecordingFinished, opts.VoiceOpts...)

	s.robots = robot.NewClient(cfg.APIBase(), opts.HTTPClient)
	s.selector = robot.NewSelector(s.coord, cfg.Server.AckTimeout)
	if cfg.MQTT.Broker != "" {
		s.monitor = robot.NewMonitor(robot.MonitorConfig{
			Broker:   cfg.MQTT.Broker,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topics:   cfg.MQTT.Topics,
		}, s.RobotID, func(a robot.Activity) {
			slog.Debug("robot activity", "topic", a.Topic, "summary", a.Summary())
			s.emit(EventRobotActivity, a)
		})
	}

	return s, nil
}

// Start subscribes to the connection and opens it. A failed first dial is
// not an error: the coordinator keeps retrying in the background.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return coordinator.ErrClosed
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.unsubscribe = s.coord.Subscribe(s.handleEvent)
	s.mu.Unlock()

	if addr := s.cfg.Metrics.Addr; addr != "" {
		s.spawn(func() {
			if err := s.metrics.Serve(s.ctx, addr); err != nil {
				slog.Error("serve metrics", "addr", addr, "error", err)
			}
		})
	}

	if s.monitor != nil {
		if err := s.monitor.Start(); err != nil {
			slog.Warn("robot monitor unavailable", "error", err)
		}
	}

	if err := s.coord.Connect(s.ctx); err != nil {
		if errors.Is(err, coordinator.ErrClosed) {
			return err
		}
		slog.Warn("initial connect failed, retrying in background", "error", err)
	}
	return nil
}

// Shutdown stops every component. Safe to call more than once.
func (s *Service) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribe, cancel := s.unsubscribe, s.cancel
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}

	s.voice.Stop()
	if s.monitor != nil {
		s.monitor.Stop()
	}
	if s.playback != nil {
		s.playback.Close()
	}
	s.coord.Shutdown()
	s.wg.Wait()

	if err := s.prefs.Close(); err != nil {
		slog.Error("close prefs", "error", err)
	}
}

// emit is a safe wrapper around the configured emitter.
func (s *Service) emit(name string, data any) {
	if s.emitFn != nil {
		s.emitFn(name, data)
	}
}

// spawn runs fn on a goroutine Shutdown waits for. Nothing is started once
// Shutdown has begun.
func (s *Service) spawn(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Go(fn)
}

// ─────────────────────────────────────────────────────────────────────────────
// Connection events
// ─────────────────────────────────────────────────────────────────────────────

func (s *Service) handleEvent(e coordinator.Event) {
	s.emit(e.Name(), e)

	switch ev := e.(type) {
	case coordinator.ConnectionChanged:
		if ev.Connected {
			s.onConnected()
		}
	case coordinator.AudioReceived:
		s.onAudio(ev.Clip)
	case coordinator.TextReceived:
		s.onText(ev.Text)
	case coordinator.ReconnectExhausted:
		slog.Warn("connection lost, reconnect manually", "attempts", ev.Attempts)
	}
}

func (s *Service) onConnected() {
	s.coord.SendUserMeta(s.cfg.User.Name)

	s.mu.Lock()
	first := !s.connectedOnce
	s.connectedOnce = true
	s.mu.Unlock()

	if id := s.RobotID(); id != "" {
		s.spawn(func() {
			if _, err := s.SelectRobot(s.ctx, id); err != nil {
				slog.Warn("restore robot selection", "robot_id", id, "error", err)
			}
		})
	}

	if first && !s.coord.State().UserInteracted {
		s.spawn(func() {
			t := time.NewTimer(s.listenWait)
			defer t.Stop()
			select {
			case <-s.ctx.Done():
				return
			case <-t.C:
			}
			s.coord.TryEnableAutoListening(s.ctx)
		})
	}
}

func (s *Service) onAudio(clip *coordinator.AudioClip) {
	if !s.coord.State().UserInteracted {
		s.coord.SetUserInteracted(true)
		s.coord.SetListening(true)
	}
	if s.playback != nil {
		s.playback.Enqueue(clip)
	}
}

func (s *Service) onText(text string) {
	if chat.IsControl(text) {
		slog.Debug("control message", "text", text)
		s.emit(EventControl, text)
		return
	}
	if !s.replies.Add(strings.TrimSpace(text)) {
		slog.Debug("duplicate reply dropped", "text", text)
		return
	}
	if msg, ok := s.history.Add(chat.RoleAssistant, text); ok {
		s.emit(EventChatMessage, msg)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Messaging
// ─────────────────────────────────────────────────────────────────────────────

// Send sends a user message. Text already sent among the last few
// messages is suppressed. It returns false when nothing was sent.
func (s *Service) Send(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if s.sent.Contains(text) {
		slog.Info("duplicate message suppressed", "text", text)
		return false
	}
	if !s.coord.SendMessage(text) {
		return false
	}
	s.sent.Add(text)
	if msg, ok := s.history.Add(chat.RoleUser, text); ok {
		s.emit(EventChatMessage, msg)
	}
	return true
}

// Messages returns the conversation as it should be displayed.
func (s *Service) Messages() []chat.Message {
	return s.history.Display()
}

// ExportHistory writes the conversation to a dated file in dir and returns
// its path.
func (s *Service) ExportHistory(dir string) (string, error) {
	path := filepath.Join(dir, chat.ExportFileName(s.now()))
	if err := os.WriteFile(path, []byte(s.history.Export()), 0644); err != nil {
		return "", fmt.Errorf("export history: %w", err)
	}
	slog.Info("history exported", "path", path, "messages", s.history.Len())
	return path, nil
}

// ClearHistory forgets the conversation.
func (s *Service) ClearHistory() {
	s.history.Clear()
	s.sent.Reset()
	s.replies.Reset()
}

// ─────────────────────────────────────────────────────────────────────────────
// Voice
// ─────────────────────────────────────────────────────────────────────────────

// StartRecording records one utterance and sends its transcript when the
// speaker falls silent.
func (s *Service) StartRecording(ctx context.Context) error {
	if !s.coord.Connected() {
		return coordinator.ErrNotConnected
	}

	st := s.coord.State()
	if !st.UserInteracted {
		s.coord.SetUserInteracted(true)
	}
	if !st.Listening {
		s.coord.SetListening(true)
	}
	if s.playback != nil {
		s.playback.Interrupt()
	}
	return s.voice.Start(ctx)
}

// StopRecording cancels the recording in progress without sending it.
func (s *Service) StopRecording() {
	s.voice.Stop()
}

// SetListening turns listening mode on or off.
func (s *Service) SetListening(v bool) {
	if !v {
		s.voice.Stop()
	}
	s.coord.SetListening(v)
}

func (s *Service) onRecordingFinished(o voice.Outcome) {
	s.metrics.RecordFinalization(o.Reason.String(), o.Duration)

	res := types.RecordingResult{
		Reason:     o.Reason.String(),
		Transcript: o.Transcript,
		Cycles:     o.Cycles,
		DurationMs: o.Duration.Milliseconds(),
	}
	if o.Err != nil {
		res.Error = o.Err.Error()
	}
	if o.Reason.Sends() && o.Transcript != "" {
		res.Sent = s.Send(o.Transcript)
	}
	s.emit(EventRecordingDone, res)
}

// ─────────────────────────────────────────────────────────────────────────────
// Connection
// ─────────────────────────────────────────────────────────────────────────────

// Reconnect opens the connection manually, restarting the retry budget.
func (s *Service) Reconnect(ctx context.Context) error {
	return s.coord.Connect(ctx)
}

// Disconnect closes the connection without reconnecting.
func (s *Service) Disconnect() {
	s.coord.Disconnect()
}

// Status returns a snapshot for display.
func (s *Service) Status() types.Status {
	st := s.coord.State()
	return types.Status{
		Connected:         st.Connected,
		UserInteracted:    st.UserInteracted,
		Listening:         st.Listening,
		AutoListening:     st.AutoListening,
		Recording:         s.voice.Active(),
		Level:             s.voice.Level(),
		ReconnectAttempts: st.ReconnectAttempts,
		RobotID:           s.RobotID(),
		LatestReply:       st.LatestReply,
		Messages:          s.history.Len(),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Robot
// ─────────────────────────────────────────────────────────────────────────────

// RobotID returns the robot commands are routed to, if one was selected.
func (s *Service) RobotID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.robotID
}

// SelectRobot routes commands to robot id and returns the acknowledgement
// latency.
func (s *Service) SelectRobot(ctx context.Context, id string) (time.Duration, error) {
	latency, err := s.selector.Select(ctx, id)
	if err != nil {
		return 0, err
	}
	id = strings.TrimSpace(id)
	s.metrics.RecordAck(latency)

	s.mu.Lock()
	s.robotID = id
	s.mu.Unlock()

	s.emit(EventRobotSelected, types.RobotSelection{RobotID: id, Latency: robot.FormatLatency(latency)})
	return latency, nil
}

// DefaultRobotID asks the backend which robot new connections use.
func (s *Service) DefaultRobotID(ctx context.Context) (string, error) {
	return s.robots.DefaultRobotID(ctx)
}

// Health returns the backend's health report.
func (s *Service) Health(ctx context.Context) (robot.Health, error) {
	return s.robots.Health(ctx)
}

// Prefs returns the preference store.
func (s *Service) Prefs() *prefs.Prefs {
	return s.prefs
}

// Metrics returns the client metrics.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}
