package voice

import (
	"math"
	"time"
)

// Status is the capture state reported to listeners.
type Status int

const (
	StatusIdle Status = iota
	StatusListening
	StatusSpeaking
	StatusSilence
	StatusSent
	StatusAborted
)

var statusNames = [...]string{"idle", "listening", "speaking", "silence", "sent", "aborted"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// Reason is why a capture session ended.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonSilence     // debounce elapsed after speech
	ReasonMaxTime     // recording exceeded the hard cap
	ReasonNoisy       // too many speech-start cycles
	ReasonManual      // stopped by the user
	ReasonError       // recognizer failed
	ReasonEnded       // recognizer ended on its own
)

var reasonNames = [...]string{"", "silence", "max-time", "noisy", "manual", "error", "ended"}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return "unknown"
}

// Sends reports whether a session ending for r delivers its transcript.
func (r Reason) Sends() bool {
	return r == ReasonSilence || r == ReasonMaxTime || r == ReasonNoisy
}

// Detector classifies per-tick microphone energy into speech and silence
// and decides when a recording should be cut short.
type Detector struct {
	threshold    float32
	silenceHold  time.Duration
	maxRecording time.Duration
	maxCycles    int

	// State
	status     Status
	started    time.Time
	lastSpeech time.Time
	cycles     int
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(threshold float32, silenceHold, maxRecording time.Duration, maxCycles int) *Detector {
	return &Detector{
		threshold:    threshold,
		silenceHold:  silenceHold,
		maxRecording: maxRecording,
		maxCycles:    maxCycles,
		status:       StatusIdle,
	}
}

// Input is one energy sample.
type Input struct {
	Samples       []float32
	Now           time.Time
	HasTranscript bool
	DebounceArmed bool
}

// Result is the outcome of processing one Input.
type Result struct {
	RMS    float32
	Level  float64 // min(1, 2*RMS), for a level meter
	Status Status

	Finalize       Reason // ReasonMaxTime or ReasonNoisy, else ReasonNone
	ArmDebounce    bool
	CancelDebounce bool
}

// Begin starts a new recording at now.
func (d *Detector) Begin(now time.Time) {
	d.Reset()
	d.status = StatusListening
	d.started = now
}

// Heard marks recognizer activity: the speaker is talking even if the
// energy meter disagrees. It does not count as a new speech cycle.
func (d *Detector) Heard(now time.Time) {
	d.status = StatusSpeaking
	d.lastSpeech = now
}

// Process evaluates one tick. The caps are checked before the energy so a
// noisy room cannot keep a recording open.
func (d *Detector) Process(in Input) Result {
	rms := calculateRMS(in.Samples)
	res := Result{
		RMS:   rms,
		Level: math.Min(1, float64(rms)*2),
	}

	if in.HasTranscript && in.Now.Sub(d.started) > d.maxRecording {
		res.Finalize = ReasonMaxTime
		res.Status = d.status
		return res
	}
	if in.HasTranscript && d.cycles >= d.maxCycles {
		res.Finalize = ReasonNoisy
		res.Status = d.status
		return res
	}

	if rms > d.threshold {
		if d.status != StatusSpeaking {
			d.cycles++
		}
		d.status = StatusSpeaking
		d.lastSpeech = in.Now
		res.CancelDebounce = in.DebounceArmed
	} else if !d.lastSpeech.IsZero() && in.Now.Sub(d.lastSpeech) >= d.silenceHold {
		d.status = StatusSilence
		res.ArmDebounce = !in.DebounceArmed && in.HasTranscript
	}

	res.Status = d.status
	return res
}

// Cycles returns how many times speech has started in this recording.
func (d *Detector) Cycles() int {
	return d.cycles
}

// Status returns the current classification.
func (d *Detector) Status() Status {
	return d.status
}

// Reset clears all state.
func (d *Detector) Reset() {
	d.status = StatusIdle
	d.started = time.Time{}
	d.lastSpeech = time.Time{}
	d.cycles = 0
}

// calculateRMS calculates the root mean square of audio samples.
func calculateRMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}
