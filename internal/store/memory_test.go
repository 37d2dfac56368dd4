package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreWriteRead(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(nil)
	defer m.Close()

	require.NoError(t, m.Write(ctx, "rooms/r1/name", "Test Room"))
	require.NoError(t, m.Write(ctx, "rooms/r1/life", 20))

	v, err := m.Read(ctx, "rooms/r1/name")
	require.NoError(t, err)
	assert.Equal(t, "Test Room", v)

	v, err = m.Read(ctx, "rooms/r1")
	require.NoError(t, err)
	node, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Test Room", node["name"])
	assert.Equal(t, float64(20), node["life"])

	v, err = m.Read(ctx, "rooms/nope")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestMemoryStoreLastWriteWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(nil)
	defer m.Close()

	require.NoError(t, m.Write(ctx, "rooms/r1/currentTurnIndex", 1))
	require.NoError(t, m.Write(ctx, "rooms/r1/currentTurnIndex", 2))

	v, err := m.Read(ctx, "rooms/r1/currentTurnIndex")
	require.NoError(t, err)
	assert.Equal(t, float64(2), v)
}

func TestMemoryStoreWriteReplacesSubtree(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(nil)
	defer m.Close()

	require.NoError(t, m.Write(ctx, "rooms/r1", map[string]any{"a": 1, "b": 2}))
	require.NoError(t, m.Write(ctx, "rooms/r1", map[string]any{"c": 3}))

	v, err := m.Read(ctx, "rooms/r1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"c": float64(3)}, v)
}

func TestMemoryStoreDeleteAndPrune(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(nil)
	defer m.Close()

	require.NoError(t, m.Write(ctx, "rooms/r1/players/p1/life", 20))
	require.NoError(t, m.Write(ctx, "rooms/r1/players/p1/life", nil))

	v, err := m.Read(ctx, "rooms/r1/players/p1/life")
	require.NoError(t, err)
	assert.Nil(t, v)

	// Empty parents prune away so absent subtrees read as nil.
	v, err = m.Read(ctx, "rooms/r1")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestMemoryStoreMultiPathUpdate(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(nil)
	defer m.Close()

	require.NoError(t, m.Write(ctx, "rooms/r1/players/p1/life", 20))
	require.NoError(t, m.Update(ctx, map[string]any{
		"rooms/r1/players/p1/life":      17,
		"rooms/r1/players/p1/handCount": 6,
		"rooms/r1/players/p1/tmp":       nil,
	}))

	v, err := m.Read(ctx, "rooms/r1/players/p1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"life": float64(17), "handCount": float64(6)}, v)
}

func TestMemoryStoreSubscribe(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(nil)
	defer m.Close()

	require.NoError(t, m.Write(ctx, "rooms/r1/name", "before"))

	var mu sync.Mutex
	var got []any
	sub, err := m.Subscribe("rooms/r1", func(v any) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	// Writes below, at, and above the subscription path all notify;
	// unrelated paths do not.
	require.NoError(t, m.Write(ctx, "rooms/r1/name", "after"))
	require.NoError(t, m.Write(ctx, "rooms/r2/name", "elsewhere"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]any{"name": "before"}, got[0])
	assert.Equal(t, map[string]any{"name": "after"}, got[1])
}

func TestMemoryStoreSubscribeOrderedCoalescedUpdate(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(nil)
	defer m.Close()

	var mu sync.Mutex
	var got []any
	sub, err := m.Subscribe("rooms/r1", func(v any) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	// A multi-path update delivers one snapshot, not one per path.
	require.NoError(t, m.Update(ctx, map[string]any{
		"rooms/r1/a": 1,
		"rooms/r1/b": 2,
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Nil(t, got[0])
	assert.Equal(t, map[string]any{"a": float64(1), "b": float64(2)}, got[1])
}

func TestMemoryStoreUnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(nil)
	defer m.Close()

	var mu sync.Mutex
	count := 0
	sub, err := m.Subscribe("rooms/r1", func(any) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 5*time.Millisecond)

	sub.Unsubscribe()
	require.NoError(t, m.Write(ctx, "rooms/r1/name", "x"))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}
