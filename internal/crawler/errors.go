package crawler

import "errors"

var (
	// ErrTransient marks timeouts, resets and 5xx responses.
	ErrTransient = errors.New("transient fetch failure")
	// ErrSourceRejected marks auth or session rejections; the source client
	// refreshes its session before returning it.
	ErrSourceRejected = errors.New("source rejected request")
	// ErrStoreUnavailable marks a queue or record store outage. Runners keep
	// the entity and retry until the store answers.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrSinkFailed marks a content sink write failure.
	ErrSinkFailed = errors.New("content sink failed")
)
