package stt

import "golang.org/x/text/language"

// baseLanguage reduces a BCP 47 tag to its ISO 639-1 base ("zh-TW" -> "zh"),
// which is what the transcription API accepts.
func baseLanguage(tag string) string {
	t, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	base, _ := t.Base()
	return base.String()
}
