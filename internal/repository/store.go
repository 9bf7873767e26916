package repository

import "context"

// PresenceStore tracks the set of live client sessions. Implementations must be
// concurrency-safe; the Redis implementation is shared between gateway replicas.
type PresenceStore interface {
	// Add registers a session. Adding a session twice is a no-op.
	Add(ctx context.Context, session string) error
	// Remove forgets a session. Removing an unknown session is a no-op.
	Remove(ctx context.Context, session string) error
	// Count returns the number of live sessions.
	Count(ctx context.Context) (int64, error)
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// OperationReporter receives one call per storage operation.
type OperationReporter interface {
	ReportStorageOperation(kind, collection string)
}

const (
	presenceKey        = "presence:sessions"
	presenceCollection = "presence"
)
