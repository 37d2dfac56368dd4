// Package catalog resolves card ids to card metadata. A process-wide
// cache memoizes every successful fetch for the session lifetime and
// rate-limits outbound calls to the backing catalog service.
package catalog

// Entry is one card's catalog metadata.
type Entry struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ManaCost   string `json:"manaCost,omitempty"`
	TypeLine   string `json:"typeLine,omitempty"`
	OracleText string `json:"oracleText,omitempty"`
	Power      string `json:"power,omitempty"`
	Toughness  string `json:"toughness,omitempty"`
	ImageURL   string `json:"imageUrl,omitempty"`

	// Unknown marks a placeholder synthesized for an id the catalog
	// could not resolve. The UI renders a card back instead of crashing
	// on stale or foreign ids.
	Unknown bool `json:"unknown,omitempty"`
}

// UnknownEntry synthesizes the placeholder for an unresolvable id.
func UnknownEntry(id string) *Entry {
	return &Entry{ID: id, Name: "Unknown Card", Unknown: true}
}
