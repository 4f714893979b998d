package prefs

import (
	"errors"
	"testing"

	"go.aimuz.me/voicelink/typography"
)

func TestStores(t *testing.T) {
	badgerStore, err := OpenBadger(BadgerOptions{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}

	stores := []struct {
		name  string
		store Store
	}{
		{"memory", NewMemory()},
		{"badger", badgerStore},
	}

	for _, tt := range stores {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.store
			defer s.Close()

			if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
			}

			if err := s.Set("b", "2"); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := s.Set("a", "1"); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if got, err := s.Get("a"); err != nil || got != "1" {
				t.Errorf("Get(a) = %q, %v, want %q", got, err, "1")
			}

			var keys []string
			for k := range s.All() {
				keys = append(keys, k)
			}
			if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
				t.Errorf("All() keys = %v, want [a b]", keys)
			}

			if err := s.Delete("a"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := s.Delete("a"); err != nil {
				t.Fatalf("Delete missing: %v", err)
			}
			if _, err := s.Get("a"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after Delete error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestBadgerPersists(t *testing.T) {
	dir := t.TempDir()

	p, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := p.SetBool(KeyUserInteracted, true); err != nil {
		t.Fatalf("SetBool: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p.Close()

	sess, err := p.Session()
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if !sess.UserInteracted || sess.Listening {
		t.Errorf("Session() = %+v, want only UserInteracted", sess)
	}
}

func TestTypography(t *testing.T) {
	tests := []struct {
		name     string
		stored   map[string]string
		wantSize typography.FontSize
		wantHC   bool
	}{
		{
			name:     "empty store",
			wantSize: typography.Standard,
		},
		{
			name:     "legacy alias",
			stored:   map[string]string{KeyFontSize: "長者適用"},
			wantSize: typography.SeniorFriendly,
		},
		{
			name:     "unknown size",
			stored:   map[string]string{KeyFontSize: "gigantic", KeyHighContrast: "true"},
			wantSize: typography.Standard,
			wantHC:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemory()
			for k, v := range tt.stored {
				_ = store.Set(k, v)
			}

			s, err := New(store).Typography()
			if err != nil {
				t.Fatalf("Typography: %v", err)
			}
			if s.Size != tt.wantSize {
				t.Errorf("Size = %q, want %q", s.Size, tt.wantSize)
			}
			if s.HighContrast != tt.wantHC {
				t.Errorf("HighContrast = %v, want %v", s.HighContrast, tt.wantHC)
			}
		})
	}
}

func TestSetters(t *testing.T) {
	store := NewMemory()
	p := New(store)

	f, err := p.SetFontSize("超大")
	if err != nil {
		t.Fatalf("SetFontSize: %v", err)
	}
	if f != typography.ExtraLarge {
		t.Errorf("SetFontSize = %q, want %q", f, typography.ExtraLarge)
	}
	if v, _ := store.Get(KeyFontSize); v != "extra-large" {
		t.Errorf("stored font size = %q, want %q", v, "extra-large")
	}

	if _, err := p.SetFontSize("tiny"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("SetFontSize(tiny) error = %v, want ErrInvalidValue", err)
	}

	on, err := p.ToggleReducedMotion()
	if err != nil || !on {
		t.Fatalf("ToggleReducedMotion = %v, %v, want true", on, err)
	}
	if on, _ := p.ToggleReducedMotion(); on {
		t.Errorf("second ToggleReducedMotion = true, want false")
	}

	if th, _ := p.Theme(); th != ThemeLight {
		t.Errorf("default Theme = %q, want %q", th, ThemeLight)
	}
	if err := p.SetTheme(ThemeDark); err != nil {
		t.Fatalf("SetTheme: %v", err)
	}
	if th, _ := p.Theme(); th != ThemeDark {
		t.Errorf("Theme = %q, want %q", th, ThemeDark)
	}
	if err := p.SetTheme("sepia"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("SetTheme(sepia) error = %v, want ErrInvalidValue", err)
	}
}
