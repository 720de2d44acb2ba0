package ticket

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by service operations. Callers branch on these
// with errors.Is to pick the right user-facing reply.
var (
	// ErrNotFound means the request ID does not exist.
	ErrNotFound = errors.New("ticket: request not found")

	// ErrNotActionable means the request exists but its current status does
	// not permit the attempted transition. The request is left unmodified
	// and no history entry is written.
	ErrNotActionable = errors.New("ticket: request not actionable in current status")

	// ErrForbidden means the acting user may not perform the operation:
	// either it needs the admin role, or it touches a request they don't own.
	ErrForbidden = errors.New("ticket: operation not permitted for this user")
)

// RateLimitedError reports a denied attempt and how long until the limiter
// would admit another one.
type RateLimitedError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("ticket: rate limited on %s, retry in %s", e.Action, e.RetryAfter.Round(time.Second))
}

// IsRateLimited reports whether err wraps a RateLimitedError and returns it.
func IsRateLimited(err error) (*RateLimitedError, bool) {
	var rle *RateLimitedError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}
