package memory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/mcpecho/pkg/adapters/memory"
	"github.com/aretw0/mcpecho/pkg/domain"
	"github.com/aretw0/mcpecho/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunSessionStoreContract(t, store)
}

func TestMemoryStore_SaveIsolatesCaller(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	sess := domain.NewSession("s1", time.Now())
	sess.State["color"] = "red"
	require.NoError(t, store.Save(ctx, "s1", sess))

	// Mutating the caller's copy after Save must not reach the store
	sess.State["color"] = "blue"

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "red", loaded.State["color"])
}

func TestMemoryStore_ConcurrentSaves(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s-%d", i)
			assert.NoError(t, store.Save(ctx, id, domain.NewSession(id, time.Now())))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, store.Len())
	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 50)
}
