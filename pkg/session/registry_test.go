package session_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/mcpecho/pkg/adapters/memory"
	"github.com/aretw0/mcpecho/pkg/domain"
	"github.com/aretw0/mcpecho/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SlowStore simulates latency to provoke race conditions if locking is missing.
type SlowStore struct {
	*memory.Store
}

func (s *SlowStore) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	time.Sleep(time.Millisecond) // Simulate IO
	return s.Store.Load(ctx, sessionID)
}

type recordingObserver struct {
	mu      sync.Mutex
	created []string
	removed []string
}

func (o *recordingObserver) SessionCreated(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created = append(o.created, id)
}

func (o *recordingObserver) SessionRemoved(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed = append(o.removed, id)
}

func TestRegistry_CreateAndGet(t *testing.T) {
	reg := session.NewRegistry(memory.NewStore())
	ctx := context.Background()

	id, err := reg.Create(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, session.IDPrefix))

	sess, err := reg.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, sess.ID)
	assert.Empty(t, sess.State)
	assert.Zero(t, sess.RequestCount)
	assert.False(t, sess.CreatedAt.IsZero())
	assert.Equal(t, sess.CreatedAt, sess.LastActivity)
}

func TestRegistry_IDsAreUnique(t *testing.T) {
	reg := session.NewRegistry(memory.NewStore())
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		id, err := reg.Create(ctx)
		require.NoError(t, err)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestRegistry_GetUnknownDoesNotCreate(t *testing.T) {
	reg := session.NewRegistry(memory.NewStore())
	ctx := context.Background()

	_, err := reg.Get(ctx, "sess_client-chosen")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Equal(t, 0, reg.Len(ctx), "lookup must not fabricate a session")

	_, err = reg.Get(ctx, "")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	obs := &recordingObserver{}
	reg := session.NewRegistry(memory.NewStore(), session.WithObserver(obs))
	ctx := context.Background()

	id, err := reg.Create(ctx)
	require.NoError(t, err)

	removed, err := reg.Remove(ctx, id)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = reg.Remove(ctx, id)
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = reg.Remove(ctx, "never-existed")
	require.NoError(t, err)
	assert.False(t, removed)

	assert.Equal(t, []string{id}, obs.created)
	assert.Equal(t, []string{id}, obs.removed)
}

func TestRegistry_MultipleObservers(t *testing.T) {
	first := &recordingObserver{}
	second := &recordingObserver{}
	reg := session.NewRegistry(memory.NewStore(), session.WithObserver(first))
	reg.Observe(second)
	ctx := context.Background()

	id, err := reg.Create(ctx)
	require.NoError(t, err)
	_, err = reg.Remove(ctx, id)
	require.NoError(t, err)

	for _, obs := range []*recordingObserver{first, second} {
		assert.Equal(t, []string{id}, obs.created)
		assert.Equal(t, []string{id}, obs.removed)
	}
}

func TestRegistry_Touch(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	reg := session.NewRegistry(memory.NewStore(), session.WithClock(clock))
	ctx := context.Background()

	id, err := reg.Create(ctx)
	require.NoError(t, err)

	now = now.Add(time.Minute)
	require.NoError(t, reg.Touch(ctx, id))
	require.NoError(t, reg.Touch(ctx, id))

	sess, err := reg.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, sess.RequestCount)
	assert.Equal(t, now, sess.LastActivity)
	assert.Equal(t, time.Minute, sess.Idle(now.Add(time.Minute)))

	err = reg.Touch(ctx, "unknown")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRegistry_UpdateCommitsOrDiscards(t *testing.T) {
	reg := session.NewRegistry(memory.NewStore())
	ctx := context.Background()

	id, err := reg.Create(ctx)
	require.NoError(t, err)

	committed, err := reg.Update(ctx, id, func(s *domain.Session) error {
		s.State["color"] = "red"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "red", committed.State["color"])

	boom := errors.New("boom")
	_, err = reg.Update(ctx, id, func(s *domain.Session) error {
		s.State["color"] = "blue"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	sess, err := reg.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "red", sess.State["color"], "failed transaction must not be committed")
}

func TestRegistry_SnapshotIsNotAlias(t *testing.T) {
	reg := session.NewRegistry(memory.NewStore())
	ctx := context.Background()

	id, err := reg.Create(ctx)
	require.NoError(t, err)

	snap, err := reg.Get(ctx, id)
	require.NoError(t, err)
	snap.State["sneaky"] = true

	sess, err := reg.Get(ctx, id)
	require.NoError(t, err)
	assert.NotContains(t, sess.State, "sneaky")
}

func TestRegistry_ConcurrentUpdatesSameSession(t *testing.T) {
	reg := session.NewRegistry(&SlowStore{Store: memory.NewStore()})
	ctx := context.Background()

	id, err := reg.Create(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	writers := 20
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := reg.Update(ctx, id, func(s *domain.Session) error {
				s.State[fmt.Sprintf("k%d", i)] = i
				return nil
			})
			assert.NoError(t, err)
			assert.NoError(t, reg.Touch(ctx, id))
		}(i)
	}
	wg.Wait()

	sess, err := reg.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, sess.State, writers, "no update may be lost")
	assert.Equal(t, writers, sess.RequestCount)
}

func TestRegistry_ConcurrentLifecycle(t *testing.T) {
	reg := session.NewRegistry(memory.NewStore())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := reg.Create(ctx)
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, reg.Touch(ctx, id))
			_, err = reg.Get(ctx, id)
			assert.NoError(t, err)
			removed, err := reg.Remove(ctx, id)
			assert.NoError(t, err)
			assert.True(t, removed)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, reg.Len(ctx))
}

func TestRegistry_ListAndStats(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	reg := session.NewRegistry(memory.NewStore(), session.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	first, err := reg.Create(ctx)
	require.NoError(t, err)
	now = now.Add(10 * time.Second)
	second, err := reg.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, reg.Touch(ctx, first))
	require.NoError(t, reg.Touch(ctx, first))
	require.NoError(t, reg.Touch(ctx, second))
	_, err = reg.Update(ctx, second, func(s *domain.Session) error {
		s.Initialized = true
		return nil
	})
	require.NoError(t, err)

	sessions, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	now = now.Add(5 * time.Second)
	stats, err := reg.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, 3, stats.TotalRequests)
	assert.Equal(t, 1, stats.Initialized)
	assert.Equal(t, 15*time.Second, stats.OldestAge)
	assert.Equal(t, 5*time.Second, stats.NewestAge)
}
