package pipeline

import (
	"errors"
	"fmt"

	"github.com/storyforge/api/internal/client"
)

// SafetyBlockedError is terminal for the whole job. Its reason is surfaced
// to the user verbatim and it is never retried, at any level.
type SafetyBlockedError struct {
	Stage  string
	Reason string
}

func (e *SafetyBlockedError) Error() string {
	return fmt.Sprintf("content blocked by safety filters (%s): %s", e.Stage, e.Reason)
}

// IsSafetyBlocked reports whether err is (or wraps) a safety block, either
// one raised by the gate or a provider-side content-policy rejection.
func IsSafetyBlocked(err error) bool {
	var sbe *SafetyBlockedError
	return errors.As(err, &sbe) || errors.Is(err, client.ErrContentPolicy)
}

// ErrRetryExhausted wraps the last error after a retry policy runs out of
// attempts. Components absorb it locally (missing image, missing reference);
// it never reaches the job level on its own.
var ErrRetryExhausted = errors.New("retry attempts exhausted")
