// Package deck turns deck lists into play objects.
package deck

import (
	"math/rand"

	"github.com/google/uuid"

	"github.com/deckhaven/playtable-server-go/internal/zone"
)

// Entry is one line of a deck list: a catalog id and a copy count.
type Entry struct {
	CardID string `json:"cardId"`
	Count  int    `json:"count"`
}

// Deck is a named deck list.
type Deck struct {
	Name    string  `json:"name"`
	Entries []Entry `json:"entries"`
}

// Size returns the total number of physical copies in the deck.
func (d Deck) Size() int {
	n := 0
	for _, e := range d.Entries {
		n += e.Count
	}
	return n
}

// Instantiate creates one card instance per physical copy, each with a
// fresh globally-unique instance id. Instance ids are generated exactly
// once here and stay with the card for its whole life in play.
func (d Deck) Instantiate() []zone.CardInstance {
	out := make([]zone.CardInstance, 0, d.Size())
	for _, e := range d.Entries {
		for i := 0; i < e.Count; i++ {
			out = append(out, zone.CardInstance{
				InstanceID: uuid.NewString(),
				CardID:     e.CardID,
			})
		}
	}
	return out
}

// Shuffle permutes cards in place with a uniform Fisher-Yates shuffle.
func Shuffle(cards []zone.CardInstance) {
	rand.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})
}

// ShuffleCards is Shuffle for hydrated zone sequences.
func ShuffleCards(cards []*zone.Card) {
	rand.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})
}
