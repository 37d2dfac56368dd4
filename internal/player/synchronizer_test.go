package player

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deckhaven/playtable-server-go/internal/catalog"
	"github.com/deckhaven/playtable-server-go/internal/deck"
	"github.com/deckhaven/playtable-server-go/internal/play"
	"github.com/deckhaven/playtable-server-go/internal/room"
	"github.com/deckhaven/playtable-server-go/internal/store"
	"github.com/deckhaven/playtable-server-go/internal/zone"
)

type stubCatalog struct{}

func (stubCatalog) GetByID(_ context.Context, id string) (*catalog.Entry, error) {
	return &catalog.Entry{ID: id, Name: "Card " + id}, nil
}
func (stubCatalog) GetByName(context.Context, string, bool) (*catalog.Entry, error) {
	return nil, nil
}
func (stubCatalog) SearchByText(context.Context, string) ([]*catalog.Entry, error) {
	return nil, nil
}

// recordingStore counts and captures the write traffic a synchronizer
// produces, passing everything through to the backing store.
type recordingStore struct {
	store.Store

	mu      sync.Mutex
	writes  []string
	updates []map[string]any
}

func (r *recordingStore) Write(ctx context.Context, path string, value any) error {
	r.mu.Lock()
	r.writes = append(r.writes, path)
	r.mu.Unlock()
	return r.Store.Write(ctx, path, value)
}

func (r *recordingStore) Update(ctx context.Context, values map[string]any) error {
	copied := make(map[string]any, len(values))
	for k, v := range values {
		copied[k] = v
	}
	r.mu.Lock()
	r.updates = append(r.updates, copied)
	r.mu.Unlock()
	return r.Store.Update(ctx, values)
}

func (r *recordingStore) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

func (r *recordingStore) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func (r *recordingStore) updateAt(i int) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates[i]
}

func (r *recordingStore) reset() {
	r.mu.Lock()
	r.writes = nil
	r.updates = nil
	r.mu.Unlock()
}

type fixture struct {
	rec  *recordingStore
	ctrl *play.Controller
	syn  *Synchronizer
}

// testOptions keeps the debounce short enough for tests while the
// max-delay bound stays comfortably above it.
var testOptions = Options{Debounce: 10 * time.Millisecond, MaxDelay: 150 * time.Millisecond}

func newFixture(t *testing.T, m *store.MemoryStore, roomID, uid string) *fixture {
	t.Helper()
	rec := &recordingStore{Store: m}
	cache := catalog.NewCache(stubCatalog{}, time.Millisecond, nil)

	var syn *Synchronizer
	ctrl := play.NewController(cache, func() {
		if syn != nil {
			syn.MarkDirty()
		}
	}, nil)
	syn = NewSynchronizer(rec, cache, ctrl, roomID, room.Participant{
		UID:        uid,
		PlayerName: uid,
		DeckName:   "Bears",
	}, testOptions, nil)
	return &fixture{rec: rec, ctrl: ctrl, syn: syn}
}

func testDeck() deck.Deck {
	return deck.Deck{
		Name: "Bears",
		Entries: []deck.Entry{
			{CardID: "forest", Count: 24},
			{CardID: "bears", Count: 20},
			{CardID: "bolt", Count: 16},
		},
	}
}

// readPlayerState decodes the persisted players/{uid} document; nil
// when absent or undecodable.
func readPlayerState(m *store.MemoryStore, roomID, uid string) *wireState {
	v, err := m.Read(context.Background(), store.JoinPath("rooms", roomID, "players", uid))
	if err != nil || v == nil {
		return nil
	}
	var w wireState
	if err := store.DecodeValue(v, &w); err != nil {
		return nil
	}
	return &w
}

// waitSynced polls until the persisted state satisfies cond.
func waitSynced(t *testing.T, m *store.MemoryStore, roomID, uid string, cond func(w *wireState) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		w := readPlayerState(m, roomID, uid)
		return w != nil && cond(w)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConnectCreatesInitialState(t *testing.T) {
	m := store.NewMemoryStore(nil)
	t.Cleanup(func() { m.Close() })
	f := newFixture(t, m, "room-1", "alice")

	require.NoError(t, f.syn.Connect(context.Background(), testDeck()))
	assert.Equal(t, StateReady, f.syn.State())

	// A fresh player costs exactly one full write.
	assert.Equal(t, 1, f.rec.writeCount())

	w := readPlayerState(m, "room-1", "alice")
	require.NotNil(t, w)
	assert.Len(t, zone.Decode(w.Library).Order, 60)
	assert.Len(t, zone.Decode(w.Hand).Order, 0)
	assert.Equal(t, 0, w.HandCount)
	assert.Equal(t, 60, w.LibraryCount)
	assert.Equal(t, play.StartingLife, w.Life)
	assert.True(t, w.IsOnline)
	assert.Equal(t, "alice", w.UID)
}

func TestBurstCoalescesIntoOneIncrementalWrite(t *testing.T) {
	m := store.NewMemoryStore(nil)
	t.Cleanup(func() { m.Close() })
	f := newFixture(t, m, "room-1", "alice")
	require.NoError(t, f.syn.Connect(context.Background(), testDeck()))

	f.ctrl.Draw(3)
	id := f.ctrl.Zone(zone.Hand)[0].InstanceID
	require.NoError(t, f.ctrl.Play(id))

	waitSynced(t, m, "room-1", "alice", func(w *wireState) bool {
		return len(zone.Decode(w.Battlefield).Order) == 1 && w.HandCount == 2
	})

	// The draw-and-play burst settled as a single incremental update.
	assert.Equal(t, 1, f.rec.updateCount())
	assert.Equal(t, 1, f.rec.writeCount(), "only the initial write is full")
}

func TestTapSyncsAsSinglePointWrite(t *testing.T) {
	m := store.NewMemoryStore(nil)
	t.Cleanup(func() { m.Close() })
	f := newFixture(t, m, "room-1", "alice")
	require.NoError(t, f.syn.Connect(context.Background(), testDeck()))

	f.ctrl.Draw(1)
	id := f.ctrl.Zone(zone.Hand)[0].InstanceID
	require.NoError(t, f.ctrl.Play(id))
	waitSynced(t, m, "room-1", "alice", func(w *wireState) bool {
		return len(zone.Decode(w.Battlefield).Order) == 1
	})

	f.rec.reset()
	require.NoError(t, f.ctrl.ToggleTap(id))

	require.Eventually(t, func() bool { return f.rec.updateCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(2 * testOptions.Debounce)
	require.Equal(t, 1, f.rec.updateCount(), "one tap is one update")
	assert.Equal(t, 0, f.rec.writeCount())

	values := f.rec.updateAt(0)
	require.Len(t, values, 2, "tapped flag plus the lastUpdate stamp")
	tappedPath := store.JoinPath("rooms", "room-1", "players", "alice", "battlefield", "cardsById", id, "tapped")
	assert.Equal(t, true, values[tappedPath])
	for path := range values {
		if path != tappedPath {
			assert.True(t, strings.HasSuffix(path, "/lastUpdate"), "unexpected path %s", path)
		}
	}
}

func TestFlushWithoutChangesSkipsWrite(t *testing.T) {
	m := store.NewMemoryStore(nil)
	t.Cleanup(func() { m.Close() })
	f := newFixture(t, m, "room-1", "alice")
	require.NoError(t, f.syn.Connect(context.Background(), testDeck()))

	f.rec.reset()
	f.syn.MarkDirty()
	time.Sleep(3 * testOptions.Debounce)

	assert.Equal(t, 0, f.rec.updateCount())
	assert.Equal(t, 0, f.rec.writeCount())
}

func TestRejoinRestoresExactState(t *testing.T) {
	m := store.NewMemoryStore(nil)
	t.Cleanup(func() { m.Close() })
	ctx := context.Background()

	first := newFixture(t, m, "room-1", "alice")
	require.NoError(t, first.syn.Connect(ctx, testDeck()))

	first.ctrl.Draw(7)
	played := first.ctrl.Zone(zone.Hand)[0].InstanceID
	require.NoError(t, first.ctrl.Play(played))
	require.NoError(t, first.ctrl.ToggleTap(played))
	first.ctrl.AdjustLife(-4)

	waitSynced(t, m, "room-1", "alice", func(w *wireState) bool {
		bf := zone.Decode(w.Battlefield)
		return len(bf.Order) == 1 && bf.CardsByID[played].Tapped && w.Life == 16
	})
	before := first.ctrl.WireZones()
	require.NoError(t, first.syn.Disconnect(ctx))

	second := newFixture(t, m, "room-1", "alice")
	require.NoError(t, second.syn.Connect(ctx, testDeck()))
	assert.Equal(t, StateReady, second.syn.State())

	// Restore never writes zone state; the synced snapshot is primed
	// from the store instead. Its only write is the presence flip.
	assert.Equal(t, 0, second.rec.writeCount())
	require.Equal(t, 1, second.rec.updateCount())
	for path := range second.rec.updateAt(0) {
		assert.True(t,
			strings.HasSuffix(path, "/isOnline") || strings.HasSuffix(path, "/lastUpdate"),
			"unexpected restore write %s", path)
	}

	assert.Equal(t, before, second.ctrl.WireZones(), "zones survive rejoin instance-for-instance")
	assert.Equal(t, 16, second.ctrl.Life())

	// The first mutation after rejoin syncs incrementally.
	second.ctrl.AdjustLife(-1)
	require.Eventually(t, func() bool { return second.rec.updateCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, second.rec.writeCount())
	values := second.rec.updateAt(1)
	assert.Equal(t, 15, values[store.JoinPath("rooms", "room-1", "players", "alice", "life")])
}

func TestRejoinMarksPlayerOnline(t *testing.T) {
	m := store.NewMemoryStore(nil)
	t.Cleanup(func() { m.Close() })
	ctx := context.Background()

	first := newFixture(t, m, "room-1", "alice")
	require.NoError(t, first.syn.Connect(ctx, testDeck()))
	first.ctrl.Draw(3)
	waitSynced(t, m, "room-1", "alice", func(w *wireState) bool { return w.HandCount == 3 })
	require.NoError(t, first.syn.Disconnect(ctx))

	w := readPlayerState(m, "room-1", "alice")
	require.NotNil(t, w)
	require.False(t, w.IsOnline)

	second := newFixture(t, m, "room-1", "alice")
	require.NoError(t, second.syn.Connect(ctx, testDeck()))

	// The restore path flips presence back on at both the player state
	// and the lobby projection.
	w = readPlayerState(m, "room-1", "alice")
	require.NotNil(t, w)
	assert.True(t, w.IsOnline)

	v, err := m.Read(ctx, store.JoinPath("roomsIndex", "room-1", "players", "alice", "isOnline"))
	require.NoError(t, err)
	assert.Equal(t, true, v)

	// And it stays on across later incremental syncs.
	second.ctrl.Draw(1)
	waitSynced(t, m, "room-1", "alice", func(w *wireState) bool { return w.HandCount == 4 })
	w = readPlayerState(m, "room-1", "alice")
	require.NotNil(t, w)
	assert.True(t, w.IsOnline)
}

func TestPeerViewsHydratePublicZonesOnly(t *testing.T) {
	m := store.NewMemoryStore(nil)
	t.Cleanup(func() { m.Close() })
	ctx := context.Background()

	alice := newFixture(t, m, "room-1", "alice")
	require.NoError(t, alice.syn.Connect(ctx, testDeck()))
	alice.ctrl.Draw(2)
	played := alice.ctrl.Zone(zone.Hand)[0].InstanceID
	require.NoError(t, alice.ctrl.Play(played))
	waitSynced(t, m, "room-1", "alice", func(w *wireState) bool {
		return len(zone.Decode(w.Battlefield).Order) == 1
	})

	bob := newFixture(t, m, "room-1", "bob")
	var mu sync.Mutex
	var latest map[string]*PeerView
	bob.syn.OnPeersUpdate(func(peers map[string]*PeerView) {
		mu.Lock()
		latest = peers
		mu.Unlock()
	})
	require.NoError(t, bob.syn.Connect(ctx, testDeck()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		p := latest["alice"]
		return p != nil && len(p.Battlefield) == 1
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	p := latest["alice"]
	assert.Equal(t, played, p.Battlefield[0].InstanceID)
	assert.False(t, p.Battlefield[0].Card.Unknown, "public zone cards hydrate from the catalog")
	assert.Equal(t, 1, p.HandCount, "hand contents stay opaque, only the count travels")
	assert.Equal(t, 58, p.LibraryCount)
	assert.True(t, p.IsOnline)
	assert.NotContains(t, latest, "bob", "a peer set never includes the local player")
}

// gatedStore stalls every Update until released, simulating a store
// slower than the debounce window.
type gatedStore struct {
	store.Store
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Update(ctx context.Context, values map[string]any) error {
	g.entered <- struct{}{}
	<-g.release
	return g.Store.Update(ctx, values)
}

func TestFlushesNeverOverlap(t *testing.T) {
	m := store.NewMemoryStore(nil)
	t.Cleanup(func() { m.Close() })
	ctx := context.Background()

	rec := &recordingStore{Store: m}
	gated := &gatedStore{Store: rec, entered: make(chan struct{}, 2), release: make(chan struct{})}
	cache := catalog.NewCache(stubCatalog{}, time.Millisecond, nil)

	var syn *Synchronizer
	ctrl := play.NewController(cache, func() {
		if syn != nil {
			syn.MarkDirty()
		}
	}, nil)
	syn = NewSynchronizer(gated, cache, ctrl, "room-1", room.Participant{UID: "alice"}, testOptions, nil)
	require.NoError(t, syn.Connect(ctx, testDeck()))

	// First flush enters the store and stalls there.
	ctrl.Draw(1)
	select {
	case <-gated.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first flush never reached the store")
	}

	// A mutation during the stalled write arms a second flush. It must
	// queue behind the in-flight one, not run against the same snapshot.
	ctrl.AdjustLife(-1)
	time.Sleep(5 * testOptions.Debounce)
	select {
	case <-gated.entered:
		t.Fatal("second flush overlapped the stalled write")
	default:
	}
	assert.Equal(t, 0, rec.updateCount())

	gated.release <- struct{}{}
	select {
	case <-gated.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("queued flush never ran")
	}
	gated.release <- struct{}{}

	require.Eventually(t, func() bool { return rec.updateCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	// The queued flush diffed against the snapshot the first write left
	// behind: it carries only the life change, not a re-send of the draw.
	values := rec.updateAt(1)
	assert.Equal(t, 19, values[store.JoinPath("rooms", "room-1", "players", "alice", "life")])
	for path := range values {
		assert.False(t, strings.Contains(path, "/hand/") || strings.Contains(path, "/library/"),
			"stale zone diff resent: %s", path)
	}
}

func TestDisconnectMarksOfflineAndStopsSync(t *testing.T) {
	m := store.NewMemoryStore(nil)
	t.Cleanup(func() { m.Close() })
	ctx := context.Background()
	f := newFixture(t, m, "room-1", "alice")
	require.NoError(t, f.syn.Connect(ctx, testDeck()))

	require.NoError(t, f.syn.Disconnect(ctx))
	assert.Equal(t, StateDisconnected, f.syn.State())

	w := readPlayerState(m, "room-1", "alice")
	require.NotNil(t, w, "player state survives disconnect for later restore")
	assert.False(t, w.IsOnline)
	assert.Len(t, zone.Decode(w.Library).Order, 60)

	v, err := m.Read(ctx, store.JoinPath("roomsIndex", "room-1", "players", "alice", "isOnline"))
	require.NoError(t, err)
	assert.Equal(t, false, v)

	// Mutations after disconnect no longer sync.
	f.rec.reset()
	f.ctrl.Draw(1)
	time.Sleep(3 * testOptions.Debounce)
	assert.Equal(t, 0, f.rec.updateCount())
	assert.Equal(t, 0, f.rec.writeCount())

	// A second disconnect is a no-op.
	require.NoError(t, f.syn.Disconnect(ctx))
}
