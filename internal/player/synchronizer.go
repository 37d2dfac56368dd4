package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deckhaven/playtable-server-go/internal/catalog"
	"github.com/deckhaven/playtable-server-go/internal/deck"
	"github.com/deckhaven/playtable-server-go/internal/room"
	"github.com/deckhaven/playtable-server-go/internal/store"
	"github.com/deckhaven/playtable-server-go/internal/zone"
)

const (
	// DefaultDebounce is the quiet period after the last local mutation
	// before a sync write is issued.
	DefaultDebounce = 300 * time.Millisecond
	// DefaultMaxDelay bounds debounce restarts so continuous mutation
	// cannot starve the sync indefinitely.
	DefaultMaxDelay = 2 * time.Second

	writeTimeout = 10 * time.Second
)

// Options tunes the synchronizer's sync loop.
type Options struct {
	Debounce time.Duration
	MaxDelay time.Duration
}

// syncedSnapshot is the in-memory copy of the previously synced state.
// It exists only to compute the next diff and has no remote
// representation; it dies with the client session.
type syncedSnapshot struct {
	zones        map[string]zone.WireZone
	handCount    int
	libraryCount int
	life         int
}

// Synchronizer owns the per-player sync loop: it snapshots local zone
// state, diffs it against the last-synced snapshot, pushes minimal
// patches to the remote store on a debounce, and hydrates remote peer
// snapshots into local views. Each client is the sole writer of its own
// player subtree, so there are no write-write races on it by
// construction.
type Synchronizer struct {
	store  store.Store
	cache  *catalog.Cache
	local  LocalState
	logger *zap.Logger

	roomID      string
	participant room.Participant
	debounce    *debouncer

	// flushMu serializes flushes: a store write slower than the debounce
	// window must not let a second timer fire diff against a stale
	// snapshot and land writes out of mutation order.
	flushMu sync.Mutex

	mu         sync.Mutex
	state      State
	lastSynced *syncedSnapshot
	sub        store.Subscription
	onPeers    func(peers map[string]*PeerView)
	onRoom     func(r *room.Room)
}

// NewSynchronizer wires a synchronizer for one participant of one room.
// local is the play surface producing zone state; its change callback
// should be this synchronizer's MarkDirty.
func NewSynchronizer(s store.Store, cache *catalog.Cache, local LocalState, roomID string, p room.Participant, opts Options, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	syn := &Synchronizer{
		store:       s,
		cache:       cache,
		local:       local,
		logger:      logger.With(zap.String("room_id", roomID), zap.String("uid", p.UID)),
		roomID:      roomID,
		participant: p,
		state:       StateUninitialized,
	}
	syn.debounce = newDebouncer(opts.Debounce, opts.MaxDelay, syn.flush)
	return syn
}

// OnPeersUpdate registers the callback receiving hydrated peer views on
// every room snapshot. Must be set before Connect.
func (s *Synchronizer) OnPeersUpdate(fn func(peers map[string]*PeerView)) {
	s.mu.Lock()
	s.onPeers = fn
	s.mu.Unlock()
}

// OnRoomUpdate registers the callback receiving the decoded room on
// every snapshot; nil signals the room was cancelled.
func (s *Synchronizer) OnRoomUpdate(fn func(r *room.Room)) {
	s.mu.Lock()
	s.onRoom = fn
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect joins the sync loop to the room. If the remote store already
// holds this participant's state with a non-empty hand or library, the
// state is restored (prefetch, then hydrate); otherwise a fresh
// shuffled library is instantiated from d and written as the initial
// full player state. An unreachable store fails closed: the error is
// returned and nothing is simulated locally.
func (s *Synchronizer) Connect(ctx context.Context, d deck.Deck) error {
	basePath := s.playerPath()

	existing, err := s.store.Read(ctx, basePath)
	if err != nil {
		return fmt.Errorf("player state unavailable: %w", err)
	}

	var persisted wireState
	if existing != nil {
		if err := store.DecodeValue(existing, &persisted); err != nil {
			// Corrupt state hydrates best-effort rather than failing.
			s.logger.Warn("stale player state, starting fresh", zap.Error(err))
		}
	}

	if existing != nil && persisted.hasZoneContents() {
		s.setState(StateRestoring)
		if err := s.restore(ctx, &persisted); err != nil {
			return err
		}
	} else {
		s.setState(StateCreating)
		if err := s.create(ctx, d); err != nil {
			return err
		}
	}

	sub, err := s.store.Subscribe(store.JoinPath("rooms", s.roomID), s.handleRoomSnapshot)
	if err != nil {
		return fmt.Errorf("subscribe room: %w", err)
	}
	s.mu.Lock()
	s.sub = sub
	s.state = StateReady
	s.mu.Unlock()
	s.logger.Info("synchronizer connected")
	return nil
}

// restore hydrates all five zones from the persisted wire state.
// Catalog ids are prefetched first so hydration never blocks on
// in-flight network calls, then the last-synced snapshot is primed with
// the restored state so the next sync is incremental.
func (s *Synchronizer) restore(ctx context.Context, persisted *wireState) error {
	ids := make(map[string]struct{})
	for _, name := range zone.Names {
		for id := range zone.CollectCardIDs(persisted.zoneValue(name)) {
			ids[id] = struct{}{}
		}
	}
	s.cache.Prefetch(ctx, ids)

	zones := make(map[string][]*zone.Card, len(zone.Names))
	wireZones := make(map[string]zone.WireZone, len(zone.Names))
	for _, name := range zone.Names {
		raw := persisted.zoneValue(name)
		zones[name] = zone.Hydrate(raw, s.cache)
		wireZones[name] = zone.Decode(raw)
	}
	s.local.Restore(zones, persisted.Life)

	s.mu.Lock()
	s.lastSynced = &syncedSnapshot{
		zones:        wireZones,
		handCount:    len(wireZones[zone.Hand].Order),
		libraryCount: len(wireZones[zone.Library].Order),
		life:         persisted.Life,
	}
	s.mu.Unlock()

	// Disconnect left isOnline false at both paths; a rejoining player
	// has to flip it back or peers keep rendering them offline.
	base := s.playerPath()
	presence := make(map[string]any, 3)
	presence[store.JoinPath(base, "isOnline")] = true
	presence[store.JoinPath(base, "lastUpdate")] = time.Now().UnixMilli()
	presence[store.JoinPath("roomsIndex", s.roomID, "players", s.participant.UID, "isOnline")] = true
	if err := s.store.Update(ctx, presence); err != nil {
		return fmt.Errorf("mark online: %w", err)
	}

	s.logger.Info("player state restored",
		zap.Int("hand", len(zones[zone.Hand])),
		zap.Int("library", len(zones[zone.Library])),
	)
	return nil
}

// create instantiates and shuffles a fresh library, then performs the
// one unavoidable full-size initial write.
func (s *Synchronizer) create(ctx context.Context, d deck.Deck) error {
	instances := d.Instantiate()
	deck.Shuffle(instances)

	ids := make(map[string]struct{}, len(d.Entries))
	for _, e := range d.Entries {
		ids[e.CardID] = struct{}{}
	}
	s.cache.Prefetch(ctx, ids)
	s.local.LoadLibrary(instances)

	zones := s.local.WireZones()
	if err := s.writeFull(ctx, zones, s.local.Life()); err != nil {
		return err
	}
	s.logger.Info("player state created", zap.Int("library", len(instances)), zap.String("deck", d.Name))
	return nil
}

// MarkDirty schedules a sync after the debounce window. Every further
// mutation inside the window restarts it, coalescing bursts into one
// write.
func (s *Synchronizer) MarkDirty() {
	s.mu.Lock()
	connected := s.state == StateReady || s.state == StateSyncing || s.state == StateIdle
	s.mu.Unlock()
	if connected {
		s.debounce.Trigger()
	}
}

// flush runs on debounce expiry: one write per tick, in local-mutation
// order, covering all changed zones and scalars, or no write at all
// when nothing differs. Flushes never overlap; a tick that fires while
// a slow write is in flight waits for it and then diffs against the
// snapshot that write left behind.
func (s *Synchronizer) flush() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if s.state == StateDisconnected || s.state == StateUninitialized {
		s.mu.Unlock()
		return
	}
	s.state = StateSyncing
	last := s.lastSynced
	s.mu.Unlock()

	zones := s.local.WireZones()
	life := s.local.Life()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	if last == nil {
		err = s.writeFull(ctx, zones, life)
	} else {
		err = s.writeIncremental(ctx, last, zones, life)
	}
	if err != nil {
		// Keep the old snapshot: the next mutation re-diffs from the
		// last state the store acknowledged.
		s.logger.Warn("sync write failed", zap.Error(err))
	}

	s.mu.Lock()
	if s.state == StateSyncing {
		s.state = StateIdle
	}
	s.mu.Unlock()
}

func (s *Synchronizer) writeFull(ctx context.Context, zones map[string]zone.WireZone, life int) error {
	handCount := len(zones[zone.Hand].Order)
	libraryCount := len(zones[zone.Library].Order)
	state := map[string]any{
		"uid":          s.participant.UID,
		"playerName":   s.participant.PlayerName,
		"deckName":     s.participant.DeckName,
		"battlefield":  zones[zone.Battlefield],
		"graveyard":    zones[zone.Graveyard],
		"exile":        zones[zone.Exile],
		"hand":         zones[zone.Hand],
		"library":      zones[zone.Library],
		"handCount":    handCount,
		"libraryCount": libraryCount,
		"life":         life,
		"lastUpdate":   time.Now().UnixMilli(),
		"isOnline":     true,
	}
	if err := s.store.Write(ctx, s.playerPath(), state); err != nil {
		return fmt.Errorf("full sync: %w", err)
	}
	s.setSynced(zones, handCount, libraryCount, life)
	return nil
}

func (s *Synchronizer) writeIncremental(ctx context.Context, last *syncedSnapshot, zones map[string]zone.WireZone, life int) error {
	base := s.playerPath()
	writes := make(map[string]any)

	for _, name := range zone.Names {
		prev := last.zones[name]
		d := zone.Diff(&prev, zones[name])
		for path, v := range zone.ApplyDiff(store.JoinPath(base, name), d) {
			writes[path] = v
		}
	}

	handCount := len(zones[zone.Hand].Order)
	libraryCount := len(zones[zone.Library].Order)
	if handCount != last.handCount {
		writes[store.JoinPath(base, "handCount")] = handCount
	}
	if libraryCount != last.libraryCount {
		writes[store.JoinPath(base, "libraryCount")] = libraryCount
	}
	if life != last.life {
		writes[store.JoinPath(base, "life")] = life
	}

	// Nothing differs: skip the write entirely.
	if len(writes) == 0 {
		return nil
	}
	writes[store.JoinPath(base, "lastUpdate")] = time.Now().UnixMilli()

	if err := s.store.Update(ctx, writes); err != nil {
		return fmt.Errorf("incremental sync: %w", err)
	}
	s.setSynced(zones, handCount, libraryCount, life)
	return nil
}

func (s *Synchronizer) setSynced(zones map[string]zone.WireZone, handCount, libraryCount, life int) {
	s.mu.Lock()
	s.lastSynced = &syncedSnapshot{zones: zones, handCount: handCount, libraryCount: libraryCount, life: life}
	s.mu.Unlock()
}

// handleRoomSnapshot ingests every room update delivered by the store
// subscription: the decoded room goes to the room callback, and each
// other participant's public zones are hydrated into peer views.
func (s *Synchronizer) handleRoomSnapshot(value any) {
	s.mu.Lock()
	onPeers, onRoom := s.onPeers, s.onRoom
	disconnected := s.state == StateDisconnected
	s.mu.Unlock()
	if disconnected {
		return
	}

	if value == nil {
		if onRoom != nil {
			onRoom(nil)
		}
		return
	}

	var r room.Room
	if err := store.DecodeValue(value, &r); err != nil {
		s.logger.Warn("undecodable room snapshot", zap.Error(err))
		return
	}
	if onRoom != nil {
		onRoom(&r)
	}
	if onPeers == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	peers := make(map[string]*PeerView)
	for uid, raw := range r.Players {
		if uid == s.participant.UID {
			continue
		}
		var w wireState
		if err := store.DecodeValue(raw, &w); err != nil {
			s.logger.Warn("undecodable peer state", zap.String("peer", uid), zap.Error(err))
			continue
		}

		// Peers' hand and library contents stay opaque; only public
		// zones hydrate.
		ids := make(map[string]struct{})
		for _, name := range []string{zone.Battlefield, zone.Graveyard, zone.Exile} {
			for id := range zone.CollectCardIDs(w.zoneValue(name)) {
				ids[id] = struct{}{}
			}
		}
		s.cache.Prefetch(ctx, ids)

		peers[uid] = &PeerView{
			UID:          w.UID,
			PlayerName:   w.PlayerName,
			DeckName:     w.DeckName,
			Battlefield:  zone.Hydrate(w.Battlefield, s.cache),
			Graveyard:    zone.Hydrate(w.Graveyard, s.cache),
			Exile:        zone.Hydrate(w.Exile, s.cache),
			HandCount:    w.HandCount,
			LibraryCount: w.LibraryCount,
			Life:         w.Life,
			LastUpdate:   w.LastUpdate,
			IsOnline:     w.IsOnline,
		}
	}
	onPeers(peers)
}

// Disconnect marks the participant offline and stops the sync loop.
// Player state is never deleted here; it stays in the store so a rejoin
// restores the exact game state.
func (s *Synchronizer) Disconnect(ctx context.Context) error {
	s.debounce.Stop()

	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.state = StateDisconnected
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}

	offline := make(map[string]any, 2)
	offline[store.JoinPath(s.playerPath(), "isOnline")] = false
	offline[store.JoinPath("roomsIndex", s.roomID, "players", s.participant.UID, "isOnline")] = false
	err := s.store.Update(ctx, offline)
	if err != nil {
		return fmt.Errorf("mark offline: %w", err)
	}
	s.logger.Info("synchronizer disconnected")
	return nil
}

func (s *Synchronizer) playerPath() string {
	return store.JoinPath("rooms", s.roomID, "players", s.participant.UID)
}

func (s *Synchronizer) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
