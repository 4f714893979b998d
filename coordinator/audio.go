package coordinator

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DefaultAudioType is assumed when a clip's format cannot be sniffed.
// The backend speaks MP3.
const DefaultAudioType = "audio/mpeg"

// AudioClip is a playable reply received as a binary frame. Only the most
// recent clip is retained by the Coordinator; older clips are released.
type AudioClip struct {
	ID          string
	ContentType string

	mu       sync.Mutex
	data     []byte
	released bool
}

// NewAudioClip wraps data, sniffing its content type.
func NewAudioClip(data []byte) *AudioClip {
	return &AudioClip{
		ID:          uuid.NewString(),
		ContentType: sniffAudio(data),
		data:        data,
	}
}

// URI is a stable handle for the clip, unique per clip.
func (c *AudioClip) URI() string {
	return "voicelink:audio/" + c.ID
}

// Bytes returns the encoded audio, or nil once released.
func (c *AudioClip) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

// Reader returns a reader over the encoded audio.
func (c *AudioClip) Reader() io.Reader {
	return bytes.NewReader(c.Bytes())
}

// Len returns the encoded size in bytes.
func (c *AudioClip) Len() int {
	return len(c.Bytes())
}

// Release drops the audio data. Safe to call more than once.
func (c *AudioClip) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
	c.released = true
}

// Released reports whether Release has been called.
func (c *AudioClip) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

func sniffAudio(data []byte) string {
	if len(data) >= 3 && (string(data[:3]) == "ID3" || (data[0] == 0xFF && data[1]&0xE0 == 0xE0)) {
		return DefaultAudioType
	}
	ct := http.DetectContentType(data)
	if strings.HasPrefix(ct, "audio/") || ct == "application/ogg" {
		return ct
	}
	return DefaultAudioType
}
