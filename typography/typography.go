// Package typography computes reading-size and accessibility settings from
// the user's font size preference.
package typography

import (
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// FontSize is a user-selectable text size.
type FontSize string

const (
	Small          FontSize = "small"
	Standard       FontSize = "standard"
	Large          FontSize = "large"
	SeniorFriendly FontSize = "senior-friendly"
	ExtraLarge     FontSize = "extra-large"
)

const (
	// BaseSize is the body text size in px at the standard multiplier.
	BaseSize = 20.0

	// Ratio is the modular scale step between adjacent sizes.
	Ratio = 1.333
)

var multipliers = map[FontSize]float64{
	Small:          0.875,
	Standard:       1.0,
	Large:          1.25,
	SeniorFriendly: 1.5,
	ExtraLarge:     1.75,
}

// legacyAliases maps older localized preference values to current sizes.
var legacyAliases = map[string]FontSize{
	"小":    Small,
	"標準":   Standard,
	"大":    Large,
	"長者適用": SeniorFriendly,
	"超大":   ExtraLarge,
}

var displayNames = map[FontSize]string{
	Small:          "Small",
	Standard:       "Standard",
	Large:          "Large",
	SeniorFriendly: "Senior Friendly",
	ExtraLarge:     "Extra Large",
}

// Sizes returns every font size from smallest to largest.
func Sizes() []FontSize {
	return []FontSize{Small, Standard, Large, SeniorFriendly, ExtraLarge}
}

// Parse resolves a stored or user-entered value, accepting legacy aliases.
func Parse(s string) (FontSize, bool) {
	s = strings.TrimSpace(norm.NFKC.String(s))
	if f := FontSize(strings.ToLower(s)); f.Valid() {
		return f, true
	}
	if f, ok := legacyAliases[s]; ok {
		return f, true
	}
	return "", false
}

// MustParse is like Parse but falls back to Standard.
func MustParse(s string) FontSize {
	if f, ok := Parse(s); ok {
		return f
	}
	return Standard
}

// Valid reports whether f is one of the known sizes.
func (f FontSize) Valid() bool {
	_, ok := multipliers[f]
	return ok
}

// Multiplier returns the scale applied to every text size. Unknown sizes
// use the standard multiplier.
func (f FontSize) Multiplier() float64 {
	if m, ok := multipliers[f]; ok {
		return m
	}
	return 1.0
}

// DisplayName returns a human readable label.
func (f FontSize) DisplayName() string {
	if n, ok := displayNames[f]; ok {
		return n
	}
	return displayNames[Standard]
}

// SeniorOptimized reports whether f gets the relaxed line height and wider
// letter spacing.
func (f FontSize) SeniorOptimized() bool {
	return f == SeniorFriendly || f == ExtraLarge
}

// Scale is a modular type scale in px.
type Scale struct {
	XS, SM, MD, LG, XL, XXL, XXXL float64
}

// ScaleFor derives the type scale for f.
func ScaleFor(f FontSize) Scale {
	base := BaseSize * f.Multiplier()
	return Scale{
		XS:   base / Ratio / Ratio,
		SM:   base / Ratio,
		MD:   base,
		LG:   base * Ratio,
		XL:   base * math.Pow(Ratio, 2),
		XXL:  base * math.Pow(Ratio, 3),
		XXXL: base * math.Pow(Ratio, 4),
	}
}

// Settings is the complete set of reading preferences.
type Settings struct {
	Size          FontSize
	HighContrast  bool
	ReducedMotion bool
}

// Default returns standard size with no accessibility overrides.
func Default() Settings {
	return Settings{Size: Standard}
}

// BaseSize returns the body text size in px.
func (s Settings) BaseSize() float64 {
	return BaseSize * s.Size.Multiplier()
}

// LineHeight returns the body line height.
func (s Settings) LineHeight() float64 {
	if s.Size.SeniorOptimized() {
		return 1.75
	}
	return 1.6
}

// LetterSpacing returns the wide and wider letter spacing values.
func (s Settings) LetterSpacing() (wide, wider string) {
	if s.Size.SeniorOptimized() {
		return "0.02em", "0.03em"
	}
	return "0.01em", "0.02em"
}

// TransitionDuration is zero when reduced motion is requested.
func (s Settings) TransitionDuration() time.Duration {
	if s.ReducedMotion {
		return 0
	}
	return 150 * time.Millisecond
}

// TouchTarget returns the minimum interactive target size in px.
func (s Settings) TouchTarget() int {
	target := 44.0
	if s.Size.SeniorOptimized() {
		target = 60
	}
	return int(math.Round(target * s.Size.Multiplier()))
}

var semanticBase = map[string]float64{
	"xs":  15,
	"sm":  20,
	"md":  20,
	"lg":  27,
	"xl":  36,
	"2xl": 47,
	"3xl": 63,
}

// FontSizeFor returns the rounded px size of a semantic size name
// (xs, sm, md, lg, xl, 2xl, 3xl). Unknown names use md.
func (s Settings) FontSizeFor(semantic string) int {
	base, ok := semanticBase[semantic]
	if !ok {
		base = semanticBase["md"]
	}
	return int(math.Round(base * s.Size.Multiplier()))
}

// Vars renders the settings as CSS custom properties.
func (s Settings) Vars() map[string]string {
	sc := ScaleFor(s.Size)
	wide, wider := s.LetterSpacing()
	return map[string]string{
		"--typo-user-scale":          trimFloat(s.Size.Multiplier()),
		"--typo-base-size":           px(s.BaseSize()),
		"--typo-xs":                  px(sc.XS),
		"--typo-sm":                  px(sc.SM),
		"--typo-md":                  px(sc.MD),
		"--typo-lg":                  px(sc.LG),
		"--typo-xl":                  px(sc.XL),
		"--typo-2xl":                 px(sc.XXL),
		"--typo-3xl":                 px(sc.XXXL),
		"--typo-base-line-height":    trimFloat(s.LineHeight()),
		"--typo-ls-wide":             wide,
		"--typo-ls-wider":            wider,
		"--typo-transition-duration": fmt.Sprintf("%dms", s.TransitionDuration().Milliseconds()),
	}
}

func px(v float64) string {
	return trimFloat(v) + "px"
}

func trimFloat(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}
