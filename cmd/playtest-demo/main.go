// Command playtest-demo starts an in-process store server, connects two
// websocket clients, and plays a few scripted turns to show the sync
// layer end to end: create/join, initial full sync, incremental tap and
// draw patches, peer hydration, and turn advancement.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/deckhaven/playtable-server-go/internal/catalog"
	"github.com/deckhaven/playtable-server-go/internal/deck"
	"github.com/deckhaven/playtable-server-go/internal/play"
	"github.com/deckhaven/playtable-server-go/internal/player"
	"github.com/deckhaven/playtable-server-go/internal/room"
	"github.com/deckhaven/playtable-server-go/internal/store"
	"github.com/deckhaven/playtable-server-go/internal/zone"
)

// demoCatalog is a tiny in-memory catalog so the demo runs without a
// database. Ids outside it hydrate as placeholders.
type demoCatalog struct {
	entries map[string]*catalog.Entry
}

func (d *demoCatalog) GetByID(_ context.Context, id string) (*catalog.Entry, error) {
	return d.entries[id], nil
}

func (d *demoCatalog) GetByName(_ context.Context, name string, _ bool) (*catalog.Entry, error) {
	for _, e := range d.entries {
		if e.Name == name {
			return e, nil
		}
	}
	return nil, nil
}

func (d *demoCatalog) SearchByText(_ context.Context, query string) ([]*catalog.Entry, error) {
	var out []*catalog.Entry
	for _, e := range d.entries {
		if e.Name == query {
			out = append(out, e)
		}
	}
	return out, nil
}

func newDemoCatalog() *demoCatalog {
	cards := []*catalog.Entry{
		{ID: "bears", Name: "Grizzly Bears", ManaCost: "{1}{G}", TypeLine: "Creature — Bear", Power: "2", Toughness: "2"},
		{ID: "angel", Name: "Serra Angel", ManaCost: "{3}{W}{W}", TypeLine: "Creature — Angel", Power: "4", Toughness: "4"},
		{ID: "bolt", Name: "Lightning Bolt", ManaCost: "{R}", TypeLine: "Instant"},
		{ID: "forest", Name: "Forest", TypeLine: "Basic Land — Forest"},
	}
	entries := make(map[string]*catalog.Entry, len(cards))
	for _, c := range cards {
		entries[c.ID] = c
	}
	return &demoCatalog{entries: entries}
}

func demoDeck(name string) deck.Deck {
	return deck.Deck{
		Name: name,
		Entries: []deck.Entry{
			{CardID: "forest", Count: 24},
			{CardID: "bears", Count: 16},
			{CardID: "angel", Count: 10},
			{CardID: "bolt", Count: 10},
		},
	}
}

type demoPlayer struct {
	name       string
	client     *store.Client
	controller *play.Controller
	sync       *player.Synchronizer
}

func connectPlayer(ctx context.Context, url, uid, name, roomID string, cache *catalog.Cache, logger *zap.Logger) (*demoPlayer, error) {
	client, err := store.Dial(ctx, url, uid, logger)
	if err != nil {
		return nil, err
	}

	coord := room.NewCoordinator(client, logger)
	participant := room.Participant{UID: uid, PlayerName: name, DeckName: "Demo Deck"}
	if err := coord.Join(ctx, roomID, participant); err != nil {
		return nil, err
	}

	p := &demoPlayer{name: name, client: client}
	p.controller = play.NewController(cache, func() {
		if p.sync != nil {
			p.sync.MarkDirty()
		}
	}, logger)
	p.sync = player.NewSynchronizer(client, cache, p.controller, roomID, participant,
		player.Options{Debounce: 100 * time.Millisecond}, logger)
	p.sync.OnPeersUpdate(func(peers map[string]*player.PeerView) {
		for _, peer := range peers {
			fmt.Printf("[%s] sees %s: life=%d hand=%d library=%d battlefield=%d\n",
				name, peer.PlayerName, peer.Life, peer.HandCount, peer.LibraryCount, len(peer.Battlefield))
		}
	})

	if err := p.sync.Connect(ctx, demoDeck("Demo Deck")); err != nil {
		return nil, err
	}
	return p, nil
}

func main() {
	logger := zap.NewNop()
	ctx := context.Background()

	backing := store.NewMemoryStore(logger)
	srv := store.NewServer(backing, store.RoomOwnershipPolicy{}, logger)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	go http.Serve(lis, srv.Router())
	url := fmt.Sprintf("ws://%s/ws", lis.Addr())
	fmt.Printf("store server on %s\n", lis.Addr())

	cache := catalog.NewCache(newDemoCatalog(), 10*time.Millisecond, logger)

	// Alice creates the room.
	admin, err := store.Dial(ctx, url, "alice", logger)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	coord := room.NewCoordinator(admin, logger)
	roomID, err := coord.CreateRoom(ctx, "Demo Game", "alice")
	if err != nil {
		log.Fatalf("create room: %v", err)
	}
	fmt.Printf("room created: %s\n", roomID)

	alice, err := connectPlayer(ctx, url, "alice", "Alice", roomID, cache, logger)
	if err != nil {
		log.Fatalf("connect alice: %v", err)
	}
	bob, err := connectPlayer(ctx, url, "bob", "Bob", roomID, cache, logger)
	if err != nil {
		log.Fatalf("connect bob: %v", err)
	}

	// Opening hands.
	alice.controller.Draw(7)
	bob.controller.Draw(7)

	// Alice plays and taps her first card.
	hand := alice.controller.Zone(zone.Hand)
	if len(hand) > 0 {
		first := hand[0]
		if err := alice.controller.Play(first.InstanceID); err != nil {
			log.Fatalf("play: %v", err)
		}
		if err := alice.controller.ToggleTap(first.InstanceID); err != nil {
			log.Fatalf("tap: %v", err)
		}
		fmt.Printf("[Alice] played and tapped %s\n", first.Card.Name)
	}

	// Bob takes damage.
	bob.controller.AdjustLife(-3)

	// Let debounced syncs flush and fan out.
	time.Sleep(500 * time.Millisecond)

	next, err := coord.AdvanceTurn(ctx, roomID)
	if err != nil {
		log.Fatalf("advance turn: %v", err)
	}
	fmt.Printf("turn advanced, index=%d\n", next)

	time.Sleep(300 * time.Millisecond)

	alice.sync.Disconnect(ctx)
	bob.sync.Disconnect(ctx)
	alice.client.Close()
	bob.client.Close()
	admin.Close()
	fmt.Println("demo complete")
}
