// Package timeout defines centralized timeout constants.
package timeout

import "time"

const (
	// FetchTimeout bounds a single backend accessor call.
	FetchTimeout = 30 * time.Second

	// PersistTimeout bounds a single durable snapshot write or read.
	PersistTimeout = 5 * time.Second

	// TransitionTimeout bounds a contract status write.
	TransitionTimeout = 10 * time.Second

	// SweepTimeout bounds one scheduler sweep run.
	SweepTimeout = 2 * time.Minute

	// ShutdownTimeout is the grace period for stopping the HTTP server.
	ShutdownTimeout = 15 * time.Second

	// CoalesceWindow is how long a fetch waits for a newer request for the same key before invoking the backend.
	CoalesceWindow = 10 * time.Millisecond
)
