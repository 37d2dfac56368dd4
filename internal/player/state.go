// Package player owns one connected client's player state and the
// synchronizer that keeps it consistent with the remote store: local
// mutations are diffed against the last-synced snapshot and pushed as
// minimal incremental writes; remote peer snapshots are hydrated back
// into display-ready views.
package player

import (
	"github.com/deckhaven/playtable-server-go/internal/zone"
)

// State is the synchronizer's lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateRestoring
	StateCreating
	StateReady
	StateSyncing
	StateIdle
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateRestoring:
		return "RESTORING"
	case StateCreating:
		return "CREATING"
	case StateReady:
		return "READY"
	case StateSyncing:
		return "SYNCING"
	case StateIdle:
		return "IDLE"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// wireState is the persisted players/{uid} document. Zone fields stay
// untyped here because older rooms hold the legacy bare-array encoding;
// zone.Decode normalizes them at the boundary.
type wireState struct {
	UID          string `json:"uid"`
	PlayerName   string `json:"playerName"`
	DeckName     string `json:"deckName"`
	Battlefield  any    `json:"battlefield"`
	Graveyard    any    `json:"graveyard"`
	Exile        any    `json:"exile"`
	Hand         any    `json:"hand"`
	Library      any    `json:"library"`
	HandCount    int    `json:"handCount"`
	LibraryCount int    `json:"libraryCount"`
	Life         int    `json:"life"`
	LastUpdate   int64  `json:"lastUpdate"`
	IsOnline     bool   `json:"isOnline"`
}

func (w *wireState) zoneValue(name string) any {
	switch name {
	case zone.Battlefield:
		return w.Battlefield
	case zone.Graveyard:
		return w.Graveyard
	case zone.Exile:
		return w.Exile
	case zone.Hand:
		return w.Hand
	case zone.Library:
		return w.Library
	default:
		return nil
	}
}

// hasZoneContents reports whether the persisted state is worth
// restoring: a participant with cards in hand or library left a game in
// progress.
func (w *wireState) hasZoneContents() bool {
	return !zone.Decode(w.Hand).Empty() || !zone.Decode(w.Library).Empty()
}

// PeerView is another participant's hydrated, render-ready state. Hand
// and library contents are never hydrated for peers; only their counts
// are visible, preserving hidden-information semantics.
type PeerView struct {
	UID          string
	PlayerName   string
	DeckName     string
	Battlefield  []*zone.Card
	Graveyard    []*zone.Card
	Exile        []*zone.Card
	HandCount    int
	LibraryCount int
	Life         int
	LastUpdate   int64
	IsOnline     bool
}

// LocalState is the producer interface the play surface implements for
// the synchronizer.
type LocalState interface {
	// WireZones encodes all five zones to wire form.
	WireZones() map[string]zone.WireZone
	// Life returns the current life total.
	Life() int
	// Restore replaces local state with hydrated remote state on rejoin.
	Restore(zones map[string][]*zone.Card, life int)
	// LoadLibrary installs a freshly instantiated, shuffled library.
	LoadLibrary(instances []zone.CardInstance)
}
