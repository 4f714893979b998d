// Package app wires the connection, voice capture, chat and robot
// components into the client service.
package app

// Event names emitted by the service in addition to the coordinator's own
// (connectionChange, audioReceived, textReceived, ...), which are forwarded
// under their own names.
const (
	EventChatMessage   = "chat-message"
	EventControl       = "control-message"
	EventPlayback      = "audio-playback"
	EventVoiceStatus   = "voice-status"
	EventVoiceLevel    = "voice-level"
	EventTranscript    = "voice-transcript"
	EventRecordingDone = "recording-done"
	EventRobotActivity = "robot-activity"
	EventRobotSelected = "robot-selected"
)
