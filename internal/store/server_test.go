package store

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T, policy AccessPolicy) (backing *MemoryStore, wsURL string) {
	t.Helper()
	backing = NewMemoryStore(nil)
	srv := httptest.NewServer(NewServer(backing, policy, nil).Router())
	t.Cleanup(func() {
		srv.Close()
		backing.Close()
	})
	return backing, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dialTest(t *testing.T, url, uid string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, uid, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientServerReadWriteUpdate(t *testing.T) {
	_, url := testServer(t, AllowAllPolicy{})
	c := dialTest(t, url, "p1")
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, "rooms/r1/name", "Over The Wire"))
	v, err := c.Read(ctx, "rooms/r1/name")
	require.NoError(t, err)
	assert.Equal(t, "Over The Wire", v)

	require.NoError(t, c.Update(ctx, map[string]any{
		"rooms/r1/life": 18,
		"rooms/r1/name": nil,
	}))
	v, err = c.Read(ctx, "rooms/r1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"life": float64(18)}, v)
}

func TestClientSubscribeFanOut(t *testing.T) {
	_, url := testServer(t, AllowAllPolicy{})
	writer := dialTest(t, url, "p1")
	watcher := dialTest(t, url, "p2")
	ctx := context.Background()

	var mu sync.Mutex
	var got []any
	sub, err := watcher.Subscribe("rooms/r1", func(v any) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, writer.Write(ctx, "rooms/r1/name", "fan out"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Nil(t, got[0])
	assert.Equal(t, map[string]any{"name": "fan out"}, got[1])
}

func TestOwnershipPolicyOverWire(t *testing.T) {
	backing, url := testServer(t, RoomOwnershipPolicy{})
	ctx := context.Background()

	// Seed a room created by alice.
	require.NoError(t, backing.Write(ctx, "rooms/r1", map[string]any{
		"id":           "r1",
		"createdByUid": "alice",
	}))

	alice := dialTest(t, url, "alice")
	bob := dialTest(t, url, "bob")

	// Players may write only their own subtree.
	require.NoError(t, bob.Write(ctx, "rooms/r1/players/bob/life", 20))
	err := bob.Write(ctx, "rooms/r1/players/alice/life", 1)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	// Shared turn fields are writable by anyone.
	require.NoError(t, bob.Write(ctx, "rooms/r1/currentTurnIndex", 1))

	// Only the creator cancels the room.
	err = bob.Write(ctx, "rooms/r1", nil)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	require.NoError(t, alice.Write(ctx, "rooms/r1", nil))

	v, err := backing.Read(ctx, "rooms/r1")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDialUnreachableFailsClosed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Dial(ctx, "ws://127.0.0.1:1/ws", "p1", nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}
