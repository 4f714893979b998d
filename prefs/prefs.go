package prefs

import (
	"errors"
	"fmt"
	"strconv"

	"go.aimuz.me/voicelink/typography"
)

// Storage keys. The wro2025_ prefix is kept so existing stores stay readable.
const (
	KeyUserInteracted = "wro2025_user_interacted"
	KeyListening      = "wro2025_is_listening"
	KeyAutoListening  = "wro2025_auto_listening"
	KeyFontSize       = "wro2025_font_size"
	KeyHighContrast   = "wro2025_high_contrast"
	KeyReducedMotion  = "wro2025_reduced_motion"
	KeyTheme          = "theme"
)

// Theme is the colour scheme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// ErrInvalidValue is returned when a setter is given a value outside its
// allowed set.
var ErrInvalidValue = errors.New("prefs: invalid value")

// Session holds the flags that survive a restart of the client.
type Session struct {
	UserInteracted bool `json:"userInteracted"`
	Listening      bool `json:"listening"`
	AutoListening  bool `json:"autoListening"`
}

// Prefs is a typed view over a Store.
type Prefs struct {
	store Store
}

// New wraps store.
func New(store Store) *Prefs {
	return &Prefs{store: store}
}

// Open opens an on-disk badger store under dir.
func Open(dir string) (*Prefs, error) {
	store, err := OpenBadger(BadgerOptions{Dir: dir})
	if err != nil {
		return nil, err
	}
	return New(store), nil
}

// Close closes the underlying store.
func (p *Prefs) Close() error {
	return p.store.Close()
}

// Bool reads a boolean flag. Missing keys read as false. Both "true" and
// the JSON literal written by older clients are accepted.
func (p *Prefs) Bool(key string) (bool, error) {
	v, err := p.store.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, nil
	}
	return b, nil
}

// SetBool writes a boolean flag as "true" or "false".
func (p *Prefs) SetBool(key string, v bool) error {
	return p.store.Set(key, strconv.FormatBool(v))
}

// Session loads the persisted session flags.
func (p *Prefs) Session() (Session, error) {
	var s Session
	var err error
	if s.UserInteracted, err = p.Bool(KeyUserInteracted); err != nil {
		return Session{}, fmt.Errorf("load user interacted: %w", err)
	}
	if s.Listening, err = p.Bool(KeyListening); err != nil {
		return Session{}, fmt.Errorf("load listening: %w", err)
	}
	if s.AutoListening, err = p.Bool(KeyAutoListening); err != nil {
		return Session{}, fmt.Errorf("load auto listening: %w", err)
	}
	return s, nil
}

// Typography loads the reading preferences. An unknown stored font size
// falls back to standard.
func (p *Prefs) Typography() (typography.Settings, error) {
	s := typography.Default()

	v, err := p.store.Get(KeyFontSize)
	switch {
	case err == nil:
		s.Size = typography.MustParse(v)
	case !errors.Is(err, ErrNotFound):
		return s, fmt.Errorf("load font size: %w", err)
	}

	if s.HighContrast, err = p.Bool(KeyHighContrast); err != nil {
		return s, fmt.Errorf("load high contrast: %w", err)
	}
	if s.ReducedMotion, err = p.Bool(KeyReducedMotion); err != nil {
		return s, fmt.Errorf("load reduced motion: %w", err)
	}
	return s, nil
}

// SetFontSize stores the font size. Legacy aliases are stored in their
// current form.
func (p *Prefs) SetFontSize(value string) (typography.FontSize, error) {
	f, ok := typography.Parse(value)
	if !ok {
		return "", fmt.Errorf("font size %q: %w", value, ErrInvalidValue)
	}
	return f, p.store.Set(KeyFontSize, string(f))
}

// ToggleHighContrast flips the high contrast flag and returns the new value.
func (p *Prefs) ToggleHighContrast() (bool, error) {
	return p.toggle(KeyHighContrast)
}

// ToggleReducedMotion flips the reduced motion flag and returns the new value.
func (p *Prefs) ToggleReducedMotion() (bool, error) {
	return p.toggle(KeyReducedMotion)
}

func (p *Prefs) toggle(key string) (bool, error) {
	v, err := p.Bool(key)
	if err != nil {
		return false, err
	}
	v = !v
	return v, p.SetBool(key, v)
}

// Theme returns the stored theme, light when unset.
func (p *Prefs) Theme() (Theme, error) {
	v, err := p.store.Get(KeyTheme)
	if errors.Is(err, ErrNotFound) {
		return ThemeLight, nil
	}
	if err != nil {
		return ThemeLight, err
	}
	if t := Theme(v); t == ThemeDark {
		return t, nil
	}
	return ThemeLight, nil
}

// SetTheme stores the theme.
func (p *Prefs) SetTheme(t Theme) error {
	if t != ThemeLight && t != ThemeDark {
		return fmt.Errorf("theme %q: %w", t, ErrInvalidValue)
	}
	return p.store.Set(KeyTheme, string(t))
}

// Dump returns every stored entry.
func (p *Prefs) Dump() map[string]string {
	out := make(map[string]string)
	for k, v := range p.store.All() {
		out[k] = v
	}
	return out
}
