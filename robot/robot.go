// Package robot selects which robot the assistant drives and watches what
// it is doing.
package robot

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrInvalidRobotID is returned for an empty or malformed robot id.
	ErrInvalidRobotID = errors.New("robot: invalid robot id")
	// ErrAckTimeout is returned when the backend does not confirm a
	// selection in time.
	ErrAckTimeout = errors.New("robot: no acknowledgement from server")
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidationError explains why an id was rejected, in words fit for the
// user.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrInvalidRobotID }

// ValidateID checks id after trimming and returns the trimmed form.
func ValidateID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", &ValidationError{Message: "Please enter Robot ID"}
	}
	if !idPattern.MatchString(id) {
		return "", &ValidationError{Message: "Invalid format, use letters, numbers, dash or underscore"}
	}
	return id, nil
}

// FormatLatency renders d as "123ms" below a second and "1.2s" above.
func FormatLatency(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
