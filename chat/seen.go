package chat

import (
	"encoding/json"
	"strings"
	"sync"
)

// Seen remembers the last n distinct strings.
type Seen struct {
	mu    sync.Mutex
	limit int
	order []string
	set   map[string]struct{}
}

// NewSeen creates a set holding at most limit entries.
func NewSeen(limit int) *Seen {
	return &Seen{
		limit: max(1, limit),
		set:   make(map[string]struct{}),
	}
}

// Add records s. It returns false if s was already present.
func (s *Seen) Add(v string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.set[v]; ok {
		return false
	}
	s.set[v] = struct{}{}
	s.order = append(s.order, v)
	for len(s.order) > s.limit {
		delete(s.set, s.order[0])
		s.order = s.order[1:]
	}
	return true
}

// Contains reports whether v is present.
func (s *Seen) Contains(v string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.set[v]
	return ok
}

// Len returns the number of entries.
func (s *Seen) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Reset forgets everything.
func (s *Seen) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	clear(s.set)
}

// IsControl reports whether text is a JSON control envelope (an object
// with a "type" field) rather than something said in the conversation.
func IsControl(text string) bool {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") {
		return false
	}
	var env struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return false
	}
	return env.Type != nil
}
