package incidents

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("incident not found")
	ErrForbidden = errors.New("incident belongs to another organization")
	// ErrConsistencyFault marks a version chain that breaks the single-latest invariant.
	// It is reported, never repaired.
	ErrConsistencyFault       = errors.New("incident version chain is inconsistent")
	ErrConflictRetryExhausted = errors.New("concurrent update retries exhausted")
	ErrTokenGeneration        = errors.New("token generation failed")
	ErrInvalidContent         = errors.New("invalid incident content")
)

type ConsistencyError struct {
	IncidentID  string
	Op          string
	LatestCount int
	Detail      string
}

func (e *ConsistencyError) Error() string {
	msg := fmt.Sprintf("%s: incident %s during %s: %d latest versions", ErrConsistencyFault, e.IncidentID, e.Op, e.LatestCount)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ConsistencyError) Unwrap() error {
	return ErrConsistencyFault
}

func invalidContent(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidContent, fmt.Sprintf(format, args...))
}
