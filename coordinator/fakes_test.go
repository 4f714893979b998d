package coordinator

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	t    MessageType
	data []byte
}

// fakeConn is an in-memory socket. The test plays the server through
// push and serverClose.
type fakeConn struct {
	in     chan frame
	closed chan struct{}
	once   sync.Once

	mu        sync.Mutex
	written   []frame
	closeCode int
	writeErr  error
	serverErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan frame, 16), closed: make(chan struct{}), closeCode: -1}
}

func (c *fakeConn) ReadMessage() (MessageType, []byte, error) {
	select {
	case f := <-c.in:
		return f.t, f.data, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.serverErr != nil {
			return 0, nil, c.serverErr
		}
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(t MessageType, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, frame{t, append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closeCode == -1 {
		c.closeCode = code
	}
	c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(t MessageType, data string) {
	c.in <- frame{t, []byte(data)}
}

// serverClose ends the read loop with a close frame carrying code.
func (c *fakeConn) serverClose(code int) {
	c.mu.Lock()
	c.serverErr = &websocket.CloseError{Code: code}
	c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
}

// drop ends the read loop as if the network went away.
func (c *fakeConn) drop() {
	c.mu.Lock()
	c.serverErr = errors.New("connection reset by peer")
	c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
}

func (c *fakeConn) frames() []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame(nil), c.written...)
}

func (c *fakeConn) code() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

// fakeDialer hands out queued conns; with none queued it fails.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
	urls  []string
}

func (d *fakeDialer) queue(c *fakeConn) {
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.urls = append(d.urls, url)
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// manualScheduler records retry delays; tests fire them by hand.
type manualScheduler struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending []func()
	stopped int
}

func (s *manualScheduler) schedule(d time.Duration, f func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	idx := len(s.pending)
	s.pending = append(s.pending, f)
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.pending[idx] == nil {
			return false
		}
		s.pending[idx] = nil
		s.stopped++
		return true
	}
}

// fire runs the most recently scheduled retry.
func (s *manualScheduler) fire(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	if len(s.pending) == 0 || s.pending[len(s.pending)-1] == nil {
		s.mu.Unlock()
		t.Fatal("no pending retry")
	}
	f := s.pending[len(s.pending)-1]
	s.pending[len(s.pending)-1] = nil
	s.mu.Unlock()
	f()
}

func (s *manualScheduler) scheduled() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// recorder collects bus events.
type recorder struct {
	ch chan Event
}

func record(c *Coordinator) *recorder {
	r := &recorder{ch: make(chan Event, 64)}
	c.Subscribe(func(e Event) { r.ch <- e })
	return r
}

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case e := <-r.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func (r *recorder) expectConnection(t *testing.T, want bool) {
	t.Helper()
	e := r.next(t)
	cc, ok := e.(ConnectionChanged)
	if !ok {
		t.Fatalf("event = %T %+v, want ConnectionChanged", e, e)
	}
	if cc.Connected != want {
		t.Fatalf("Connected = %v, want %v", cc.Connected, want)
	}
}

func (r *recorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case e := <-r.ch:
		t.Fatalf("unexpected event %T %+v", e, e)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeProber struct {
	err   error
	calls int
}

func (p *fakeProber) Probe(context.Context) error {
	p.calls++
	return p.err
}

// waitUntil polls cond until it holds or two seconds pass.
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
