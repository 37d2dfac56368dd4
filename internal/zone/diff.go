package zone

import "github.com/deckhaven/playtable-server-go/internal/store"

// FieldPatch holds only the card fields whose values changed.
type FieldPatch map[string]any

// ZoneDiff is the minimal structured difference between two wire zone
// snapshots. Property changes cost O(1) wire bytes, membership changes
// are proportional to the change, and only reordering costs O(n):
// order patches are all-or-nothing since partial reordering is not
// compactly expressible.
type ZoneDiff struct {
	Added    map[string]WireCard
	Removed  []string
	Updated  map[string]FieldPatch
	NewOrder []string // nil when the order is unchanged
}

// Diff computes the minimal patch taking prev to cur. It returns nil
// when prev is absent (caller must send full state) or when nothing
// differs (nothing to send). No semantic validation is performed; the
// caller must diff matched wire-encoded pairs.
func Diff(prev *WireZone, cur WireZone) *ZoneDiff {
	if prev == nil {
		return nil
	}

	d := &ZoneDiff{
		Added:   make(map[string]WireCard),
		Updated: make(map[string]FieldPatch),
	}

	for id, curCard := range cur.CardsByID {
		prevCard, ok := prev.CardsByID[id]
		if !ok {
			d.Added[id] = curCard
			continue
		}
		patch := FieldPatch{}
		if prevCard.Tapped != curCard.Tapped {
			patch["tapped"] = curCard.Tapped
		}
		if prevCard.FaceDown != curCard.FaceDown {
			patch["faceDown"] = curCard.FaceDown
		}
		if prevCard.CardID != curCard.CardID {
			// Identity reuse would be a caller bug, but a changed
			// reference still has to reach peers.
			patch["cardId"] = curCard.CardID
		}
		if len(patch) > 0 {
			d.Updated[id] = patch
		}
	}

	for id := range prev.CardsByID {
		if _, ok := cur.CardsByID[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}

	if !orderEqual(prev.Order, cur.Order) {
		d.NewOrder = make([]string, len(cur.Order))
		copy(d.NewOrder, cur.Order)
	}

	if len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Updated) == 0 && d.NewOrder == nil {
		return nil
	}
	return d
}

func orderEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ApplyDiff translates a ZoneDiff into targeted point writes under
// basePath, suitable for Store.Update: one write per added card, one
// delete per removed card, one write per changed field per updated
// card, and one write for the whole order when it changed. This is
// what keeps the remote payload proportional to the change rather than
// to zone size.
func ApplyDiff(basePath string, d *ZoneDiff) map[string]any {
	writes := make(map[string]any)
	if d == nil {
		return writes
	}
	for id, card := range d.Added {
		writes[store.JoinPath(basePath, "cardsById", id)] = card
	}
	for _, id := range d.Removed {
		writes[store.JoinPath(basePath, "cardsById", id)] = nil
	}
	for id, patch := range d.Updated {
		for field, value := range patch {
			writes[store.JoinPath(basePath, "cardsById", id, field)] = value
		}
	}
	if d.NewOrder != nil {
		writes[store.JoinPath(basePath, "order")] = d.NewOrder
	}
	return writes
}
