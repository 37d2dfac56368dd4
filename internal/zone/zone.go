// Package zone models a game zone as an ordered collection of card
// instances, with a compact wire encoding and the diff engine that
// keeps remote copies in sync at cost proportional to the change.
package zone

import (
	"sort"

	"github.com/deckhaven/playtable-server-go/internal/catalog"
)

// Zone names. Every player owns exactly one of each.
const (
	Library     = "library"
	Hand        = "hand"
	Battlefield = "battlefield"
	Graveyard   = "graveyard"
	Exile       = "exile"
)

// Names lists all zones in a stable order.
var Names = []string{Library, Hand, Battlefield, Graveyard, Exile}

// CardInstance is one physical copy in play. InstanceID is generated
// once when a deck is instantiated and is the identity used for all
// zone membership and diffing; CardID only references the catalog.
type CardInstance struct {
	InstanceID string `json:"instanceId"`
	CardID     string `json:"cardId"`
	Tapped     bool   `json:"tapped"`
	FaceDown   bool   `json:"faceDown"`
}

// Card is the hydrated, display-ready form: the catalog entry resolved.
// It is a derived projection and never the source of truth for sync.
type Card struct {
	InstanceID string
	Card       *catalog.Entry
	Tapped     bool
	FaceDown   bool
}

// WireCard is the compact per-instance payload stored under
// cardsById/<instanceId>; the instance id lives in the key, not the
// value.
type WireCard struct {
	CardID   string `json:"cardId"`
	Tapped   bool   `json:"tapped"`
	FaceDown bool   `json:"faceDown"`
}

// WireZone is the persisted zone encoding. Order is a permutation of
// exactly the keys of CardsByID, so property mutations and order
// mutations patch independently.
type WireZone struct {
	CardsByID map[string]WireCard `json:"cardsById"`
	Order     []string            `json:"order"`
}

// Empty reports whether the zone holds no cards.
func (z WireZone) Empty() bool {
	return len(z.CardsByID) == 0 && len(z.Order) == 0
}

// ToWire encodes a hydrated zone sequence deterministically, preserving
// order and flattening each card to its compact form.
func ToWire(cards []*Card) WireZone {
	z := WireZone{
		CardsByID: make(map[string]WireCard, len(cards)),
		Order:     make([]string, 0, len(cards)),
	}
	for _, c := range cards {
		cardID := ""
		if c.Card != nil {
			cardID = c.Card.ID
		}
		z.CardsByID[c.InstanceID] = WireCard{CardID: cardID, Tapped: c.Tapped, FaceDown: c.FaceDown}
		z.Order = append(z.Order, c.InstanceID)
	}
	return z
}

// Decode normalizes any historical zone encoding (nil, the legacy bare
// card array, or the map+order form) into a canonical WireZone. It is
// the single variant-handling step at the boundary; nothing past it
// sees the legacy shape. Corrupt input decodes to a best-effort or
// empty zone, never an error.
func Decode(v any) WireZone {
	switch t := v.(type) {
	case nil:
		return WireZone{CardsByID: map[string]WireCard{}}

	case []any:
		// Legacy encoding: a bare sequence of compact cards carrying
		// their own instanceId.
		z := WireZone{CardsByID: make(map[string]WireCard, len(t))}
		for _, elem := range t {
			m, ok := elem.(map[string]any)
			if !ok {
				continue
			}
			id, _ := m["instanceId"].(string)
			if id == "" {
				continue
			}
			if _, dup := z.CardsByID[id]; dup {
				continue
			}
			z.CardsByID[id] = wireCardFrom(m)
			z.Order = append(z.Order, id)
		}
		return z

	case map[string]any:
		z := WireZone{CardsByID: map[string]WireCard{}}
		if cards, ok := t["cardsById"].(map[string]any); ok {
			for id, raw := range cards {
				m, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				z.CardsByID[id] = wireCardFrom(m)
			}
		}
		if order, ok := t["order"].([]any); ok {
			seen := make(map[string]bool, len(order))
			for _, raw := range order {
				id, _ := raw.(string)
				if id == "" || seen[id] {
					continue
				}
				// Drop orphaned order entries from older writers.
				if _, exists := z.CardsByID[id]; !exists {
					continue
				}
				seen[id] = true
				z.Order = append(z.Order, id)
			}
		}
		// Cards missing from order are appended deterministically so
		// the permutation invariant holds over best-effort input.
		if len(z.Order) < len(z.CardsByID) {
			inOrder := make(map[string]bool, len(z.Order))
			for _, id := range z.Order {
				inOrder[id] = true
			}
			missing := make([]string, 0, len(z.CardsByID)-len(z.Order))
			for id := range z.CardsByID {
				if !inOrder[id] {
					missing = append(missing, id)
				}
			}
			sort.Strings(missing)
			z.Order = append(z.Order, missing...)
		}
		return z

	default:
		return WireZone{CardsByID: map[string]WireCard{}}
	}
}

func wireCardFrom(m map[string]any) WireCard {
	var c WireCard
	c.CardID, _ = m["cardId"].(string)
	c.Tapped, _ = m["tapped"].(bool)
	c.FaceDown, _ = m["faceDown"].(bool)
	return c
}

// Hydrate resolves a wire zone (any historical encoding) into the local
// display sequence. Unresolvable card ids become placeholder entries,
// so hydration is total over its input.
func Hydrate(v any, cache *catalog.Cache) []*Card {
	z := Decode(v)
	out := make([]*Card, 0, len(z.Order))
	for _, id := range z.Order {
		wc := z.CardsByID[id]
		out = append(out, &Card{
			InstanceID: id,
			Card:       cache.Resolve(wc.CardID),
			Tapped:     wc.Tapped,
			FaceDown:   wc.FaceDown,
		})
	}
	return out
}

// CollectCardIDs extracts the deduplicated catalog ids a zone
// references, for prefetching ahead of hydration.
func CollectCardIDs(v any) map[string]struct{} {
	z := Decode(v)
	ids := make(map[string]struct{}, len(z.CardsByID))
	for _, wc := range z.CardsByID {
		if wc.CardID != "" {
			ids[wc.CardID] = struct{}{}
		}
	}
	return ids
}
