package robot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.aimuz.me/voicelink/coordinator"
)

// DefaultAckTimeout bounds the wait for a selection acknowledgement.
const DefaultAckTimeout = 5 * time.Second

// Link is the part of the coordinator a Selector needs.
type Link interface {
	Connected() bool
	SendJSON(v any) bool
	Subscribe(fn func(coordinator.Event)) (unsubscribe func())
}

type setRobotID struct {
	Type    string `json:"type"`
	RobotID string `json:"robot_id"`
}

type ack struct {
	Type    string `json:"type"`
	RobotID string `json:"robot_id"`
}

// Selector binds the connection to a robot.
type Selector struct {
	link    Link
	timeout time.Duration
	now     func() time.Time
}

// NewSelector creates a Selector. A zero timeout uses DefaultAckTimeout.
func NewSelector(link Link, timeout time.Duration) *Selector {
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}
	return &Selector{link: link, timeout: timeout, now: time.Now}
}

// Select validates id, asks the backend to route commands to it and waits
// for the acknowledgement. It returns the round-trip latency. A timeout is
// reported as ErrAckTimeout and is not retried.
func (s *Selector) Select(ctx context.Context, id string) (time.Duration, error) {
	id, err := ValidateID(id)
	if err != nil {
		return 0, err
	}
	if !s.link.Connected() {
		return 0, coordinator.ErrNotConnected
	}

	acked := make(chan struct{})
	var once sync.Once
	unsubscribe := s.link.Subscribe(func(e coordinator.Event) {
		if tr, ok := e.(coordinator.TextReceived); ok && isAck(tr.Text, id) {
			once.Do(func() { close(acked) })
		}
	})
	defer unsubscribe()

	start := s.now()
	if !s.link.SendJSON(setRobotID{Type: "set_robot_id", RobotID: id}) {
		return 0, coordinator.ErrNotConnected
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-acked:
		latency := s.now().Sub(start)
		slog.Info("robot selected", "robot_id", id, "latency", latency)
		return latency, nil
	case <-timer.C:
		slog.Warn("robot selection not acknowledged", "robot_id", id, "timeout", s.timeout)
		return 0, fmt.Errorf("select %s: %w", id, ErrAckTimeout)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func isAck(text, id string) bool {
	var a ack
	if err := json.Unmarshal([]byte(text), &a); err != nil {
		return false
	}
	return a.Type == "robot_id_set" && a.RobotID == id
}
