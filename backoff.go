package modelsync

import "time"

// RetryStrategy computes the delay before retry attempt n (1-indexed). A
// negative return value means "stop retrying". It is a pure function of
// the attempt number, grounded on the teacher's ReloadOrchestrator backoff
// fields but expressed as a plug-point rather than fixed struct fields, so
// a caller can swap in jittered or unbounded strategies.
type RetryStrategy func(attempt int) time.Duration

// DefaultRetryStrategy backs off 2s, 4s, 8s, then gives up, matching
// syncOptions.retryStrategy's documented default.
func DefaultRetryStrategy(attempt int) time.Duration {
	switch attempt {
	case 1:
		return 2 * time.Second
	case 2:
		return 4 * time.Second
	case 3:
		return 8 * time.Second
	default:
		return -1
	}
}
