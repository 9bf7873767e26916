package repository

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]struct{}
	reporter OperationReporter
}

// NewMemoryStore returns an in-memory PresenceStore for local development/testing.
// reporter may be nil.
func NewMemoryStore(reporter OperationReporter) PresenceStore {
	return &memoryStore{
		sessions: make(map[string]struct{}),
		reporter: reporter,
	}
}

func (m *memoryStore) Add(ctx context.Context, session string) error {
	m.mu.Lock()
	m.sessions[session] = struct{}{}
	m.mu.Unlock()
	m.report("write")
	return nil
}

func (m *memoryStore) Remove(ctx context.Context, session string) error {
	m.mu.Lock()
	delete(m.sessions, session)
	m.mu.Unlock()
	m.report("delete")
	return nil
}

func (m *memoryStore) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	n := len(m.sessions)
	m.mu.Unlock()
	m.report("read")
	return int64(n), nil
}

func (m *memoryStore) Ping(ctx context.Context) error { return nil }

func (m *memoryStore) report(kind string) {
	if m.reporter != nil {
		m.reporter.ReportStorageOperation(kind, presenceCollection)
	}
}
