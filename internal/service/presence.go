package service

import (
	"context"
	"fmt"
	"time"

	"chat-observability/internal/repository"

	"github.com/rs/zerolog"
)

// ConnectionReporter receives the number of live connections.
type ConnectionReporter interface {
	ReportConnectionCount(n int64)
}

// Presence keeps the live session set and publishes its size after every change.
type Presence struct {
	store    repository.PresenceStore
	reporter ConnectionReporter
	logger   zerolog.Logger
}

// NewPresence returns a Presence over store. reporter may be nil.
func NewPresence(store repository.PresenceStore, reporter ConnectionReporter, logger zerolog.Logger) *Presence {
	return &Presence{store: store, reporter: reporter, logger: logger}
}

// Join registers a session.
func (p *Presence) Join(ctx context.Context, session string) error {
	if err := p.store.Add(ctx, session); err != nil {
		return fmt.Errorf("join %s: %w", session, err)
	}
	p.Publish(ctx)
	return nil
}

// Leave unregisters a session.
func (p *Presence) Leave(ctx context.Context, session string) error {
	if err := p.store.Remove(ctx, session); err != nil {
		return fmt.Errorf("leave %s: %w", session, err)
	}
	p.Publish(ctx)
	return nil
}

// Ping reports whether the presence store is reachable.
func (p *Presence) Ping(ctx context.Context) error {
	return p.store.Ping(ctx)
}

// Publish reads the session count and reports it. Store errors are logged and the
// last reported value is kept.
func (p *Presence) Publish(ctx context.Context) {
	n, err := p.store.Count(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("presence count unavailable")
		return
	}
	if p.reporter != nil {
		p.reporter.ReportConnectionCount(n)
	}
}

// Run publishes the count every interval until ctx is done, picking up sessions
// added by other replicas sharing the store.
func (p *Presence) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Publish(ctx)
		}
	}
}
