// Package chat keeps the conversation shown to the user.
package chat

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role is who said a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Label is the export prefix for the role.
func (r Role) Label() string {
	if r == RoleUser {
		return "User"
	}
	return "AI"
}

// Message is one chat entry.
type Message struct {
	ID       string    `json:"id"`
	Role     Role      `json:"role"`
	Content  string    `json:"content"`
	Time     time.Time `json:"time"`
	Language string    `json:"language,omitempty"`
}

const (
	maxMessages  = 100
	displayLimit = 50
	dupLookback  = 3
	dupWindow    = 2 * time.Second
)

// History is a bounded, de-duplicated message log.
type History struct {
	mu     sync.Mutex
	msgs   []Message
	now    func() time.Time
	detect Detector
}

// Option configures a History.
type Option func(*History)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *History) { h.now = now }
}

// WithDetector tags each message with its language.
func WithDetector(d Detector) Option {
	return func(h *History) { h.detect = d }
}

// NewHistory creates an empty history.
func NewHistory(opts ...Option) *History {
	h := &History{now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Add appends a message. Blank content and repeats of one of the last few
// messages within a short window are dropped; ok reports whether the
// message was kept.
func (h *History) Add(role Role, content string) (msg Message, ok bool) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	for i := max(0, len(h.msgs)-dupLookback); i < len(h.msgs); i++ {
		m := h.msgs[i]
		if m.Role == role && m.Content == content && now.Sub(m.Time) < dupWindow {
			return Message{}, false
		}
	}

	msg = Message{
		ID:      uuid.NewString(),
		Role:    role,
		Content: content,
		Time:    now,
	}
	if h.detect != nil {
		msg.Language = h.detect.Detect(content)
	}

	h.msgs = append(h.msgs, msg)
	if len(h.msgs) > maxMessages {
		h.msgs = append([]Message(nil), h.msgs[len(h.msgs)-maxMessages:]...)
	}
	return msg, true
}

// Messages returns every retained message, oldest first.
func (h *History) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.msgs...)
}

// Len returns the number of retained messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

// Display returns the most recent messages with repeated role and content
// pairs shown once.
func (h *History) Display() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[string]bool, len(h.msgs))
	out := make([]Message, 0, len(h.msgs))
	for _, m := range h.msgs {
		key := string(m.Role) + ":" + m.Content
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	if len(out) > displayLimit {
		out = out[len(out)-displayLimit:]
	}
	return out
}

// Export renders the history as plain text.
func (h *History) Export() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	blocks := make([]string, len(h.msgs))
	for i, m := range h.msgs {
		blocks[i] = fmt.Sprintf("[%s] %s", m.Role.Label(), m.Content)
	}
	return strings.Join(blocks, "\n\n")
}

// Clear removes all messages.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = nil
}

// ExportFileName is the suggested file name for an export made at t.
func ExportFileName(t time.Time) string {
	return "chat-history-" + t.Format(time.DateOnly) + ".txt"
}
