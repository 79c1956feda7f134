package quota

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrHardLimitExceeded is the sentinel every ExceededError unwraps to.
	ErrHardLimitExceeded = errors.New("hard limit exceeded")

	// ErrInvalidLimit is returned by Add for an unusable limit definition.
	ErrInvalidLimit = errors.New("invalid hard limit")
)

// ExceededError reports the first hard limit that would be violated, with
// enough context for the caller to decide whether to wait or give up.
type ExceededError struct {
	Name    string
	Period  Period
	Current int
	Max     int
	ResetIn time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("hard limit %q exceeded: %d/%d calls this %s, resets in %s",
		e.Name, e.Current, e.Max, e.Period, e.ResetIn.Round(time.Second))
}

func (e *ExceededError) Unwrap() error {
	return ErrHardLimitExceeded
}

// AsExceeded extracts an ExceededError from err.
func AsExceeded(err error) (*ExceededError, bool) {
	var e *ExceededError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
