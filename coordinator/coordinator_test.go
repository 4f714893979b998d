package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"go.aimuz.me/voicelink/prefs"
)

const testURL = "ws://robot.test/ws"

type testEnv struct {
	c      *Coordinator
	dialer *fakeDialer
	sched  *manualScheduler
	events *recorder
	store  *prefs.Prefs
}

func newEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		dialer: &fakeDialer{},
		sched:  &manualScheduler{},
		store:  prefs.New(prefs.NewMemory()),
	}
	all := append([]Option{WithDialer(env.dialer), WithStore(env.store)}, opts...)
	env.c = New(Config{URL: testURL, Policy: ReconnectPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond}}, all...)
	env.c.schedule = env.sched.schedule
	env.events = record(env.c)
	t.Cleanup(env.c.Shutdown)
	return env
}

func (env *testEnv) connect(t *testing.T) *fakeConn {
	t.Helper()
	conn := newFakeConn()
	env.dialer.queue(conn)
	if err := env.c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	env.events.expectConnection(t, true)
	return conn
}

func TestConnect(t *testing.T) {
	env := newEnv(t)
	env.connect(t)

	if !env.c.Connected() {
		t.Error("Connected() = false after connect")
	}

	// Already open: no second dial, no event.
	if err := env.c.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if n := env.dialer.count(); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
	if env.dialer.urls[0] != testURL {
		t.Errorf("url = %q, want %q", env.dialer.urls[0], testURL)
	}
	env.events.expectNone(t)
}

func TestInboundFrames(t *testing.T) {
	env := newEnv(t)
	conn := env.connect(t)

	conn.push(TextMessage, `{"type":"robot_id_set","robot_id":"r1"}`)
	e := env.events.next(t)
	if tr, ok := e.(TextReceived); !ok || tr.Text != `{"type":"robot_id_set","robot_id":"r1"}` {
		t.Fatalf("event = %+v, want verbatim TextReceived", e)
	}

	conn.push(BinaryMessage, "\xff\xfbfirst")
	first := env.events.next(t).(AudioReceived).Clip
	if first.ContentType != DefaultAudioType {
		t.Errorf("ContentType = %q, want %q", first.ContentType, DefaultAudioType)
	}

	conn.push(BinaryMessage, "ID3second")
	second := env.events.next(t).(AudioReceived).Clip

	waitUntil(t, "previous clip released", first.Released)
	if second.Released() || string(second.Bytes()) != "ID3second" {
		t.Errorf("current clip = %q released=%v", second.Bytes(), second.Released())
	}
	if first.URI() == second.URI() {
		t.Error("clips share a URI")
	}

	st := env.c.State()
	if st.Audio != second {
		t.Error("State().Audio is not the latest clip")
	}
	if st.LatestReply != `{"type":"robot_id_set","robot_id":"r1"}` {
		t.Errorf("LatestReply = %q", st.LatestReply)
	}
}

func TestClipReadableUntilDispatched(t *testing.T) {
	env := newEnv(t)
	conn := env.connect(t)

	gate := make(chan struct{})
	got := make(chan string, 2)
	env.c.Subscribe(func(e Event) {
		if a, ok := e.(AudioReceived); ok {
			<-gate
			got <- string(a.Clip.Bytes())
		}
	})

	conn.push(BinaryMessage, "ID3first")
	conn.push(BinaryMessage, "ID3second")
	waitUntil(t, "second clip read", func() bool {
		a := env.c.State().Audio
		return a != nil && string(a.Bytes()) == "ID3second"
	})
	close(gate)

	for _, want := range []string{"ID3first", "ID3second"} {
		select {
		case b := <-got:
			if b != want {
				t.Errorf("clip bytes = %q, want %q", b, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("clip event not delivered")
		}
	}
}

func TestAbnormalCloseReconnects(t *testing.T) {
	env := newEnv(t)
	conn := env.connect(t)

	conn.serverClose(1011)
	env.events.expectConnection(t, false)

	if got := env.sched.scheduled(); !slices.Equal(got, []time.Duration{100 * time.Millisecond}) {
		t.Fatalf("scheduled = %v, want [100ms]", got)
	}
	if env.c.State().ReconnectAttempts != 1 {
		t.Errorf("ReconnectAttempts = %d, want 1", env.c.State().ReconnectAttempts)
	}

	env.dialer.queue(newFakeConn())
	env.sched.fire(t)
	env.events.expectConnection(t, true)

	if env.c.State().ReconnectAttempts != 0 {
		t.Errorf("ReconnectAttempts = %d after reconnect, want 0", env.c.State().ReconnectAttempts)
	}
}

func TestNetworkDropReconnects(t *testing.T) {
	env := newEnv(t)
	conn := env.connect(t)

	conn.drop()
	env.events.expectConnection(t, false)
	if n := len(env.sched.scheduled()); n != 1 {
		t.Errorf("scheduled = %d, want 1", n)
	}
}

func TestNormalCloseDoesNotReconnect(t *testing.T) {
	env := newEnv(t)
	conn := env.connect(t)

	conn.serverClose(CloseNormal)
	env.events.expectConnection(t, false)
	env.events.expectNone(t)

	if n := len(env.sched.scheduled()); n != 0 {
		t.Errorf("scheduled = %d, want 0", n)
	}
}

func TestReconnectExhausted(t *testing.T) {
	env := newEnv(t)

	if err := env.c.Connect(context.Background()); err == nil {
		t.Fatal("Connect succeeded with no server")
	}
	env.events.expectConnection(t, false)

	for range 5 {
		env.sched.fire(t)
		env.events.expectConnection(t, false)
	}

	e := env.events.next(t)
	ex, ok := e.(ReconnectExhausted)
	if !ok || ex.Attempts != 5 {
		t.Fatalf("event = %+v, want ReconnectExhausted{5}", e)
	}

	want := []time.Duration{100, 200, 300, 400, 500}
	for i := range want {
		want[i] *= time.Millisecond
	}
	if got := env.sched.scheduled(); !slices.Equal(got, want) {
		t.Errorf("delays = %v, want %v", got, want)
	}
	if n := env.dialer.count(); n != 6 {
		t.Errorf("dials = %d, want 6", n)
	}

	// Manual reconnect is still available.
	env.connect(t)
}

func TestDisconnect(t *testing.T) {
	env := newEnv(t)
	conn := env.connect(t)

	env.c.Disconnect()
	env.events.expectConnection(t, false)
	env.events.expectNone(t)

	if conn.code() != CloseNormal {
		t.Errorf("close code = %d, want %d", conn.code(), CloseNormal)
	}
	if n := len(env.sched.scheduled()); n != 0 {
		t.Errorf("scheduled = %d, want 0", n)
	}

	// Disconnect while already disconnected publishes nothing.
	env.c.Disconnect()
	env.events.expectNone(t)
}

func TestDisconnectCancelsPendingRetry(t *testing.T) {
	env := newEnv(t)
	conn := env.connect(t)

	conn.drop()
	env.events.expectConnection(t, false)

	env.c.Disconnect()
	env.events.expectNone(t)

	if env.sched.stopped != 1 {
		t.Errorf("stopped retries = %d, want 1", env.sched.stopped)
	}
}

func TestStaleRetryIgnored(t *testing.T) {
	env := newEnv(t)
	conn := env.connect(t)
	conn.drop()
	env.events.expectConnection(t, false)

	// Grab the retry before Disconnect can cancel it, as a timer that has
	// already fired would.
	env.sched.mu.Lock()
	retry := env.sched.pending[0]
	env.sched.mu.Unlock()

	env.c.Disconnect()
	retry()

	if n := env.dialer.count(); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
	env.events.expectNone(t)
}

func TestSendMessage(t *testing.T) {
	env := newEnv(t)

	if env.c.SendMessage("hello") {
		t.Error("SendMessage succeeded while disconnected")
	}

	conn := env.connect(t)
	if !env.c.SendMessage("turn on the light") {
		t.Fatal("SendMessage failed while connected")
	}
	frames := conn.frames()
	if len(frames) != 1 || frames[0].t != TextMessage || string(frames[0].data) != "turn on the light" {
		t.Errorf("frames = %+v", frames)
	}

	conn.mu.Lock()
	conn.writeErr = errors.New("broken pipe")
	conn.mu.Unlock()
	if env.c.SendMessage("again") {
		t.Error("SendMessage reported success on write error")
	}
}

func TestSendUserMeta(t *testing.T) {
	env := newEnv(t)

	env.c.SendUserMeta("Ada") // disconnected: nothing to do

	conn := env.connect(t)
	env.c.SendUserMeta("")
	if n := len(conn.frames()); n != 0 {
		t.Fatalf("frames = %d after empty name, want 0", n)
	}

	env.c.SendUserMeta("Ada")
	frames := conn.frames()
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}

	var meta map[string]string
	if err := json.Unmarshal(frames[0].data, &meta); err != nil {
		t.Fatalf("unmarshal meta: %v", err)
	}
	if meta["type"] != "user_meta" || meta["name"] != "Ada" {
		t.Errorf("meta = %v", meta)
	}
	if got := string(frames[1].data); got != "我的名字是Ada" {
		t.Errorf("intro = %q, want %q", got, "我的名字是Ada")
	}
}

func TestSessionFlagsPersist(t *testing.T) {
	store := prefs.New(prefs.NewMemory())
	if err := store.SetBool(prefs.KeyUserInteracted, true); err != nil {
		t.Fatal(err)
	}
	if err := store.SetBool(prefs.KeyListening, true); err != nil {
		t.Fatal(err)
	}

	dialer := &fakeDialer{}
	c := New(Config{URL: testURL}, WithDialer(dialer), WithStore(store))
	defer c.Shutdown()
	events := record(c)

	st := c.State()
	if !st.UserInteracted || !st.Listening || st.AutoListening {
		t.Errorf("restored state = %+v", st)
	}

	dialer.queue(newFakeConn())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	events.expectConnection(t, true)
	e := events.next(t)
	if rs, ok := e.(StateRestored); !ok || !rs.State.UserInteracted || !rs.State.Connected {
		t.Fatalf("event = %+v, want StateRestored", e)
	}

	c.SetListening(false)
	if e := events.next(t); e != (ListeningChanged{Listening: false}) {
		t.Errorf("event = %+v, want ListeningChanged{false}", e)
	}
	if v, _ := store.Bool(prefs.KeyListening); v {
		t.Error("listening flag not persisted")
	}
}

func TestNoRestoreWithoutInteraction(t *testing.T) {
	env := newEnv(t)
	env.connect(t)
	env.events.expectNone(t)
}

func TestTryEnableAutoListening(t *testing.T) {
	t.Run("allowed", func(t *testing.T) {
		p := &fakeProber{}
		env := newEnv(t, WithProber(p))

		if !env.c.TryEnableAutoListening(context.Background()) {
			t.Fatal("TryEnableAutoListening() = false")
		}
		want := []Event{
			UserInteractionChanged{Interacted: true},
			ListeningChanged{Listening: true},
			AutoListeningChanged{Enabled: true},
		}
		for _, w := range want {
			if e := env.events.next(t); e != w {
				t.Errorf("event = %+v, want %+v", e, w)
			}
		}

		s, err := env.store.Session()
		if err != nil {
			t.Fatal(err)
		}
		if !s.UserInteracted || !s.Listening || !s.AutoListening {
			t.Errorf("persisted = %+v, want all true", s)
		}
	})

	t.Run("blocked", func(t *testing.T) {
		p := &fakeProber{err: errors.New("no audio device")}
		env := newEnv(t, WithProber(p))

		if env.c.TryEnableAutoListening(context.Background()) {
			t.Fatal("TryEnableAutoListening() = true")
		}
		if e := env.events.next(t); e != (AutoListeningChanged{Enabled: false}) {
			t.Errorf("event = %+v, want AutoListeningChanged{false}", e)
		}
		env.events.expectNone(t)
		if st := env.c.State(); st.UserInteracted || st.Listening {
			t.Errorf("state = %+v, want untouched", st)
		}
	})

	t.Run("no player", func(t *testing.T) {
		env := newEnv(t)
		if env.c.TryEnableAutoListening(context.Background()) {
			t.Fatal("TryEnableAutoListening() = true without a prober")
		}
	})
}

func TestShutdown(t *testing.T) {
	env := newEnv(t)
	conn := env.connect(t)

	conn.push(BinaryMessage, "ID3clip")
	clip := env.events.next(t).(AudioReceived).Clip

	env.c.Shutdown()
	env.c.Shutdown()

	env.events.expectConnection(t, false)
	if !clip.Released() {
		t.Error("audio not released on shutdown")
	}
	if conn.code() != CloseNormal {
		t.Errorf("close code = %d, want %d", conn.code(), CloseNormal)
	}
	if err := env.c.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Shutdown = %v, want ErrClosed", err)
	}
}

func TestReconnectPolicy(t *testing.T) {
	p := DefaultReconnectPolicy()
	for n := 1; n <= 5; n++ {
		if got := p.Delay(n); got != time.Duration(n)*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", n, got, time.Duration(n)*time.Second)
		}
		if !p.Allows(n) {
			t.Errorf("Allows(%d) = false", n)
		}
	}
	if p.Allows(6) {
		t.Error("Allows(6) = true")
	}
}
