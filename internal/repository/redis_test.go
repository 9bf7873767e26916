package repository

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRedisStorePresence tests the Redis-backed presence set with miniredis.
func TestRedisStorePresence(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()

	rep := &recordingReporter{}
	store, err := NewRedisStore(mr.Addr(), rep)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}

	ctx := context.Background()
	require.NoError(t, store.Add(ctx, "s1"))
	require.NoError(t, store.Add(ctx, "s2"))
	require.NoError(t, store.Add(ctx, "s1"))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	members, err := mr.Members(presenceKey)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s1", "s2"}, members)

	require.NoError(t, store.Remove(ctx, "s1"))
	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// PING at connect and below is not a data command.
	require.NoError(t, store.Ping(ctx))
	assert.Equal(t, []string{
		"write/presence", "write/presence", "write/presence",
		"read/presence",
		"delete/presence",
		"read/presence",
	}, rep.snapshot())
}

func TestRedisStoreUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisStore(addr, nil)
	assert.Error(t, err)
}

func TestRedisStorePingAfterOutage(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	store, err := NewRedisStore(mr.Addr(), nil)
	require.NoError(t, err)

	mr.Close()
	assert.Error(t, store.Ping(context.Background()))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		args       []interface{}
		kind       string
		collection string
		ok         bool
	}{
		{[]interface{}{"get", "users:42"}, "read", "users", true},
		{[]interface{}{"SET", "messages:1", "x"}, "write", "messages", true},
		{[]interface{}{"del", "conversations:9"}, "delete", "conversations", true},
		{[]interface{}{"sadd", "presence:sessions", "a"}, "write", "presence", true},
		{[]interface{}{"get", "plainkey"}, "read", "plainkey", true},
		{[]interface{}{"ping"}, "", "", false},
		{[]interface{}{"flushall", "async"}, "", "", false},
		{[]interface{}{"get", ":nokey"}, "", "", false},
	}
	for _, tt := range tests {
		kind, collection, ok := classify(tt.args)
		assert.Equal(t, tt.ok, ok, "%v", tt.args)
		assert.Equal(t, tt.kind, kind, "%v", tt.args)
		assert.Equal(t, tt.collection, collection, "%v", tt.args)
	}
}

// BenchmarkRedisPresenceAdd benchmarks Redis presence writes.
func BenchmarkRedisPresenceAdd(b *testing.B) {
	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()

	store, _ := NewRedisStore(mr.Addr(), nil)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.Add(ctx, "bench")
	}
}
