package voice

import (
	"math"
	"testing"
	"time"
)

func makeSilence(n int) []float32 {
	return make([]float32, n)
}

func makeSpeech(n int, amplitude float32) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = amplitude
		} else {
			samples[i] = -amplitude
		}
	}
	return samples
}

func newTestDetector() *Detector {
	return NewDetector(0.02, 300*time.Millisecond, 15*time.Second, 5)
}

func TestDetectorSequence(t *testing.T) {
	d := newTestDetector()
	t0 := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	d.Begin(t0)

	sequence := []struct {
		name         string
		samples      []float32
		at           time.Duration
		transcript   bool
		armed        bool
		wantStatus   Status
		wantArm      bool
		wantCancel   bool
		wantFinalize Reason
		wantCycles   int
	}{
		{"1. quiet before speech", makeSilence(256), 16 * time.Millisecond, false, false, StatusListening, false, false, ReasonNone, 0},
		{"2. speech starts", makeSpeech(256, 0.05), 32 * time.Millisecond, false, false, StatusSpeaking, false, false, ReasonNone, 1},
		{"3. speech continues", makeSpeech(256, 0.05), 48 * time.Millisecond, true, false, StatusSpeaking, false, false, ReasonNone, 1},
		{"4. short pause", makeSilence(256), 200 * time.Millisecond, true, false, StatusSpeaking, false, false, ReasonNone, 1},
		{"5. silence held", makeSilence(256), 348 * time.Millisecond, true, false, StatusSilence, true, false, ReasonNone, 1},
		{"6. already armed", makeSilence(256), 400 * time.Millisecond, true, true, StatusSilence, false, false, ReasonNone, 1},
		{"7. speech resumes", makeSpeech(256, 0.05), 500 * time.Millisecond, true, true, StatusSpeaking, false, true, ReasonNone, 2},
	}

	for _, step := range sequence {
		res := d.Process(Input{
			Samples:       step.samples,
			Now:           t0.Add(step.at),
			HasTranscript: step.transcript,
			DebounceArmed: step.armed,
		})
		if res.Status != step.wantStatus {
			t.Errorf("%s: Status = %v, want %v", step.name, res.Status, step.wantStatus)
		}
		if res.ArmDebounce != step.wantArm {
			t.Errorf("%s: ArmDebounce = %v, want %v", step.name, res.ArmDebounce, step.wantArm)
		}
		if res.CancelDebounce != step.wantCancel {
			t.Errorf("%s: CancelDebounce = %v, want %v", step.name, res.CancelDebounce, step.wantCancel)
		}
		if res.Finalize != step.wantFinalize {
			t.Errorf("%s: Finalize = %v, want %v", step.name, res.Finalize, step.wantFinalize)
		}
		if d.Cycles() != step.wantCycles {
			t.Errorf("%s: Cycles() = %d, want %d", step.name, d.Cycles(), step.wantCycles)
		}
	}
}

func TestDetectorSilenceWithoutTranscript(t *testing.T) {
	d := newTestDetector()
	t0 := time.Now()
	d.Begin(t0)

	d.Process(Input{Samples: makeSpeech(256, 0.1), Now: t0})
	res := d.Process(Input{Samples: makeSilence(256), Now: t0.Add(time.Second)})

	if res.Status != StatusSilence {
		t.Errorf("Status = %v, want %v", res.Status, StatusSilence)
	}
	if res.ArmDebounce {
		t.Error("ArmDebounce = true with empty transcript")
	}
}

func TestDetectorCaps(t *testing.T) {
	tests := []struct {
		name       string
		cycles     int
		elapsed    time.Duration
		transcript bool
		want       Reason
	}{
		{"max time", 1, 15*time.Second + time.Millisecond, true, ReasonMaxTime},
		{"max time at cap", 1, 15 * time.Second, true, ReasonNone},
		{"max time without transcript", 1, 20 * time.Second, false, ReasonNone},
		{"noisy", 5, time.Second, true, ReasonNoisy},
		{"noisy without transcript", 5, time.Second, false, ReasonNone},
		{"max time wins over noisy", 7, 16 * time.Second, true, ReasonMaxTime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDetector()
			t0 := time.Now()
			d.Begin(t0)
			d.cycles = tt.cycles

			res := d.Process(Input{
				Samples:       makeSpeech(256, 0.1),
				Now:           t0.Add(tt.elapsed),
				HasTranscript: tt.transcript,
			})
			if res.Finalize != tt.want {
				t.Errorf("Finalize = %v, want %v", res.Finalize, tt.want)
			}
		})
	}
}

func TestDetectorHeard(t *testing.T) {
	d := newTestDetector()
	t0 := time.Now()
	d.Begin(t0)

	d.Heard(t0.Add(100 * time.Millisecond))
	if d.Status() != StatusSpeaking {
		t.Errorf("Status() = %v, want %v", d.Status(), StatusSpeaking)
	}
	if d.Cycles() != 0 {
		t.Errorf("Cycles() = %d, want 0", d.Cycles())
	}

	// Energy while already speaking is not a new cycle.
	d.Process(Input{Samples: makeSpeech(256, 0.1), Now: t0.Add(116 * time.Millisecond)})
	if d.Cycles() != 0 {
		t.Errorf("Cycles() = %d, want 0", d.Cycles())
	}
}

func TestCalculateRMS(t *testing.T) {
	tests := []struct {
		name    string
		samples []float32
		want    float32
	}{
		{"empty", nil, 0},
		{"silence", makeSilence(100), 0},
		{"constant", makeSpeech(100, 0.5), 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calculateRMS(tt.samples)
			if math.Abs(float64(got-tt.want)) > 1e-6 {
				t.Errorf("calculateRMS() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLevel(t *testing.T) {
	d := newTestDetector()
	d.Begin(time.Now())

	if res := d.Process(Input{Samples: makeSpeech(256, 0.25), Now: time.Now()}); math.Abs(res.Level-0.5) > 1e-6 {
		t.Errorf("Level = %v, want 0.5", res.Level)
	}
	if res := d.Process(Input{Samples: makeSpeech(256, 0.8), Now: time.Now()}); res.Level != 1 {
		t.Errorf("Level = %v, want 1", res.Level)
	}
}

func TestReasonSends(t *testing.T) {
	for r, want := range map[Reason]bool{
		ReasonSilence: true,
		ReasonMaxTime: true,
		ReasonNoisy:   true,
		ReasonManual:  false,
		ReasonError:   false,
		ReasonEnded:   false,
	} {
		if got := r.Sends(); got != want {
			t.Errorf("%v.Sends() = %v, want %v", r, got, want)
		}
	}
}
