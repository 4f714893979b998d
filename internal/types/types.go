// Package types provides shared type definitions for the application.
package types

// Status is a snapshot of the client for display.
type Status struct {
	Connected         bool    `json:"connected"`
	UserInteracted    bool    `json:"userInteracted"`
	Listening         bool    `json:"listening"`
	AutoListening     bool    `json:"autoListening"`
	Recording         bool    `json:"recording"`
	Level             float64 `json:"level"`
	ReconnectAttempts int     `json:"reconnectAttempts"`
	RobotID           string  `json:"robotId,omitempty"`
	LatestReply       string  `json:"latestReply,omitempty"`
	Messages          int     `json:"messages"`
}

// VoiceUpdate reports capture progress.
type VoiceUpdate struct {
	Status     string  `json:"status"`
	Level      float64 `json:"level"`
	Transcript string  `json:"transcript,omitempty"`
}

// RecordingResult reports how a recording ended.
type RecordingResult struct {
	Reason     string `json:"reason"`
	Transcript string `json:"transcript,omitempty"`
	Sent       bool   `json:"sent"`
	Cycles     int    `json:"cycles"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// Playback reports a reply clip that finished playing.
type Playback struct {
	ClipID      string `json:"clipId"`
	ContentType string `json:"contentType"`
	Bytes       int    `json:"bytes"`
	Error       string `json:"error,omitempty"`
}

// RobotSelection reports an acknowledged robot selection.
type RobotSelection struct {
	RobotID string `json:"robotId"`
	Latency string `json:"latency"`
}
