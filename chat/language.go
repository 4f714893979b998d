package chat

import (
	"strings"

	"github.com/pemistahl/lingua-go"
)

// Detector guesses the language of a message.
type Detector interface {
	// Detect returns an ISO 639-1 code, or "" when unsure.
	Detect(text string) string
}

// DefaultLanguages are the languages the assistant is used with.
var DefaultLanguages = []lingua.Language{
	lingua.English,
	lingua.Chinese,
	lingua.Japanese,
	lingua.Korean,
	lingua.French,
	lingua.German,
	lingua.Spanish,
}

// LinguaDetector detects languages with lingua-go.
type LinguaDetector struct {
	detector lingua.LanguageDetector
}

// NewLinguaDetector builds a detector for langs, or DefaultLanguages.
func NewLinguaDetector(langs ...lingua.Language) *LinguaDetector {
	if len(langs) < 2 {
		langs = DefaultLanguages
	}
	return &LinguaDetector{
		detector: lingua.NewLanguageDetectorBuilder().
			FromLanguages(langs...).
			WithLowAccuracyMode().
			Build(),
	}
}

func (d *LinguaDetector) Detect(text string) string {
	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return ""
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}
