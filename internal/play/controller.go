// Package play is the UI-facing play surface: the zone mutations a
// player performs (draw, play, exile, tap, ...) that produce the local
// state the synchronizer observes.
package play

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/deckhaven/playtable-server-go/internal/catalog"
	"github.com/deckhaven/playtable-server-go/internal/deck"
	"github.com/deckhaven/playtable-server-go/internal/zone"
)

// StartingLife is the life total a fresh player begins with.
const StartingLife = 20

var (
	// ErrCardNotFound reports an instance id absent from the named zone.
	ErrCardNotFound = errors.New("play: card not found")
	// ErrUnknownZone reports a zone name outside the five game zones.
	ErrUnknownZone = errors.New("play: unknown zone")
)

// Controller owns one player's local game state. Every mutation keeps
// the invariant that an instance id lives in exactly one zone, and
// notifies the change callback so the synchronizer can schedule a sync.
type Controller struct {
	cache    *catalog.Cache
	logger   *zap.Logger
	onChange func()

	mu    sync.RWMutex
	zones map[string][]*zone.Card
	life  int
}

// NewController creates an empty play surface. onChange fires after
// every local mutation; pass nil to disable.
func NewController(cache *catalog.Cache, onChange func(), logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	zones := make(map[string][]*zone.Card, len(zone.Names))
	for _, name := range zone.Names {
		zones[name] = nil
	}
	return &Controller{
		cache:    cache,
		logger:   logger,
		onChange: onChange,
		zones:    zones,
		life:     StartingLife,
	}
}

// LoadLibrary replaces the library with freshly instantiated deck
// cards, resolving catalog entries through the cache.
func (c *Controller) LoadLibrary(instances []zone.CardInstance) {
	cards := make([]*zone.Card, 0, len(instances))
	for _, inst := range instances {
		cards = append(cards, &zone.Card{
			InstanceID: inst.InstanceID,
			Card:       c.cache.Resolve(inst.CardID),
			Tapped:     inst.Tapped,
			FaceDown:   inst.FaceDown,
		})
	}
	c.mu.Lock()
	c.zones[zone.Library] = cards
	c.mu.Unlock()
	c.changed()
}

// Restore replaces all zones and life with previously hydrated state,
// as on rejoin. It does not fire the change callback: restored state is
// already what the remote store holds.
func (c *Controller) Restore(zones map[string][]*zone.Card, life int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range zone.Names {
		c.zones[name] = zones[name]
	}
	c.life = life
}

// Draw moves up to n cards from the top of the library to the hand and
// returns how many moved.
func (c *Controller) Draw(n int) int {
	c.mu.Lock()
	lib := c.zones[zone.Library]
	if n > len(lib) {
		n = len(lib)
	}
	drawn := lib[:n]
	c.zones[zone.Library] = lib[n:]
	c.zones[zone.Hand] = append(c.zones[zone.Hand], drawn...)
	c.mu.Unlock()
	if n > 0 {
		c.changed()
	}
	return n
}

// Play moves a card from hand to battlefield.
func (c *Controller) Play(instanceID string) error {
	return c.MoveCard(instanceID, zone.Hand, zone.Battlefield, -1)
}

// ToGraveyard moves a card from any zone to the graveyard.
func (c *Controller) ToGraveyard(instanceID, from string) error {
	return c.MoveCard(instanceID, from, zone.Graveyard, -1)
}

// ExileCard moves a card from any zone to exile.
func (c *Controller) ExileCard(instanceID, from string) error {
	return c.MoveCard(instanceID, from, zone.Exile, -1)
}

// ReturnToHand moves a card from any zone back to its owner's hand.
func (c *Controller) ReturnToHand(instanceID, from string) error {
	return c.MoveCard(instanceID, from, zone.Hand, -1)
}

// MoveCard moves one instance between zones, inserting at position
// (-1 appends). The instance id is preserved; tap and face-down state
// reset when a card leaves the battlefield.
func (c *Controller) MoveCard(instanceID, from, to string, position int) error {
	c.mu.Lock()
	src, ok := c.zones[from]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownZone, from)
	}
	if _, ok := c.zones[to]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownZone, to)
	}
	idx := indexOf(src, instanceID)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s in %s", ErrCardNotFound, instanceID, from)
	}
	card := src[idx]
	c.zones[from] = append(src[:idx:idx], src[idx+1:]...)
	if to != zone.Battlefield {
		card.Tapped = false
		card.FaceDown = false
	}

	dst := c.zones[to]
	if position < 0 || position >= len(dst) {
		c.zones[to] = append(dst, card)
	} else {
		dst = append(dst, nil)
		copy(dst[position+1:], dst[position:])
		dst[position] = card
		c.zones[to] = dst
	}
	c.mu.Unlock()
	c.changed()
	return nil
}

// ToggleTap flips the tapped state of a battlefield card.
func (c *Controller) ToggleTap(instanceID string) error {
	c.mu.Lock()
	idx := indexOf(c.zones[zone.Battlefield], instanceID)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s on battlefield", ErrCardNotFound, instanceID)
	}
	card := c.zones[zone.Battlefield][idx]
	card.Tapped = !card.Tapped
	c.mu.Unlock()
	c.changed()
	return nil
}

// UntapAll untaps every battlefield card.
func (c *Controller) UntapAll() {
	c.mu.Lock()
	changed := false
	for _, card := range c.zones[zone.Battlefield] {
		if card.Tapped {
			card.Tapped = false
			changed = true
		}
	}
	c.mu.Unlock()
	if changed {
		c.changed()
	}
}

// SetFaceDown sets the face-down state of a battlefield card.
func (c *Controller) SetFaceDown(instanceID string, faceDown bool) error {
	c.mu.Lock()
	idx := indexOf(c.zones[zone.Battlefield], instanceID)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s on battlefield", ErrCardNotFound, instanceID)
	}
	c.zones[zone.Battlefield][idx].FaceDown = faceDown
	c.mu.Unlock()
	c.changed()
	return nil
}

// ShuffleLibrary shuffles the library uniformly.
func (c *Controller) ShuffleLibrary() {
	c.mu.Lock()
	deck.ShuffleCards(c.zones[zone.Library])
	c.mu.Unlock()
	c.changed()
}

// Mulligan returns the hand to the library, shuffles, and draws one
// card fewer than the hand held.
func (c *Controller) Mulligan() int {
	c.mu.Lock()
	handSize := len(c.zones[zone.Hand])
	if handSize == 0 {
		c.mu.Unlock()
		return 0
	}
	c.zones[zone.Library] = append(c.zones[zone.Library], c.zones[zone.Hand]...)
	c.zones[zone.Hand] = nil
	deck.ShuffleCards(c.zones[zone.Library])
	c.mu.Unlock()
	c.changed()
	return c.Draw(handSize - 1)
}

// SetLife sets the life total. Life is unbounded in either direction.
func (c *Controller) SetLife(life int) {
	c.mu.Lock()
	c.life = life
	c.mu.Unlock()
	c.changed()
}

// AdjustLife adds delta to the life total.
func (c *Controller) AdjustLife(delta int) {
	c.mu.Lock()
	c.life += delta
	c.mu.Unlock()
	c.changed()
}

// Zone returns a copy of the named zone's sequence.
func (c *Controller) Zone(name string) []*zone.Card {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src := c.zones[name]
	out := make([]*zone.Card, len(src))
	copy(out, src)
	return out
}

// WireZones encodes all five zones to wire form.
func (c *Controller) WireZones() map[string]zone.WireZone {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]zone.WireZone, len(zone.Names))
	for _, name := range zone.Names {
		out[name] = zone.ToWire(c.zones[name])
	}
	return out
}

// Life returns the current life total.
func (c *Controller) Life() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.life
}

func (c *Controller) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

func indexOf(cards []*zone.Card, instanceID string) int {
	for i, card := range cards {
		if card.InstanceID == instanceID {
			return i
		}
	}
	return -1
}
