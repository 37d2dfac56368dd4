// Package room tracks multiplayer rooms: membership, turn order, and
// turn advancement. It is a thin state machine over the remote store;
// turn tracking is advisory UI state and any player may act at any
// time.
package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deckhaven/playtable-server-go/internal/store"
)

// ErrRoomNotFound reports an operation against a room id the store does
// not hold. Join deliberately fails instead of recreating the room, so
// a racing join can never resurrect a cancelled room.
var ErrRoomNotFound = errors.New("room: not found")

// Room is the decoded rooms/{id} document.
type Room struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	CreatedAt        int64          `json:"createdAt"`
	CreatedByUID     string         `json:"createdByUid"`
	TurnOrder        []string       `json:"turnOrder"`
	CurrentTurnIndex int            `json:"currentTurnIndex"`
	Players          map[string]any `json:"players"`
}

// Summary is the lightweight roomsIndex/{id} projection a lobby
// subscribes to, so it never receives in-game zone traffic.
type Summary struct {
	ID           string                   `json:"id"`
	Name         string                   `json:"name"`
	CreatedAt    int64                    `json:"createdAt"`
	CreatedByUID string                   `json:"createdByUid"`
	Players      map[string]SummaryPlayer `json:"players"`
}

// SummaryPlayer is one participant's lobby-visible projection.
type SummaryPlayer struct {
	UID        string `json:"uid"`
	PlayerName string `json:"playerName"`
	DeckName   string `json:"deckName"`
	IsOnline   bool   `json:"isOnline"`
}

// Participant identifies a joining player.
type Participant struct {
	UID        string
	PlayerName string
	DeckName   string
}

// Coordinator implements room lifecycle and turn tracking against the
// remote store. Shared fields (turn order, turn index) are last-write-
// wins with no locking; concurrent turn advances can both land, which
// is accepted as a UX glitch since no turn rule is enforced.
type Coordinator struct {
	store  store.Store
	logger *zap.Logger
}

// NewCoordinator creates a coordinator over the given store handle.
func NewCoordinator(s store.Store, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{store: s, logger: logger}
}

// CreateRoom writes a fresh room and its index projection. Only the
// creator may later cancel it; that rule lives in the store's access
// policy, not here.
func (c *Coordinator) CreateRoom(ctx context.Context, name, creatorID string) (string, error) {
	roomID := uuid.NewString()
	now := time.Now().UnixMilli()

	room := map[string]any{
		"id":               roomID,
		"name":             name,
		"createdAt":        now,
		"createdByUid":     creatorID,
		"turnOrder":        []string{},
		"currentTurnIndex": 0,
	}
	index := map[string]any{
		"id":           roomID,
		"name":         name,
		"createdAt":    now,
		"createdByUid": creatorID,
	}
	err := c.store.Update(ctx, map[string]any{
		store.JoinPath("rooms", roomID):      room,
		store.JoinPath("roomsIndex", roomID): index,
	})
	if err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	c.logger.Info("room created", zap.String("room_id", roomID), zap.String("name", name), zap.String("creator", creatorID))
	return roomID, nil
}

// GetRoom reads and decodes a room. Returns (nil, nil) when absent.
func (c *Coordinator) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	v, err := c.store.Read(ctx, store.JoinPath("rooms", roomID))
	if err != nil {
		return nil, fmt.Errorf("read room: %w", err)
	}
	if v == nil {
		return nil, nil
	}
	var room Room
	if err := store.DecodeValue(v, &room); err != nil {
		return nil, fmt.Errorf("decode room: %w", err)
	}
	return &room, nil
}

// Join appends the participant to the turn order iff not already
// present, and only if the room already exists. Membership is
// append-only; rejoining players keep their original turn slot.
func (c *Coordinator) Join(ctx context.Context, roomID string, p Participant) error {
	room, err := c.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room == nil {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}

	writes := map[string]any{
		store.JoinPath("roomsIndex", roomID, "players", p.UID): SummaryPlayer{
			UID:        p.UID,
			PlayerName: p.PlayerName,
			DeckName:   p.DeckName,
			IsOnline:   true,
		},
	}
	joined := false
	for _, uid := range room.TurnOrder {
		if uid == p.UID {
			joined = true
			break
		}
	}
	if !joined {
		writes[store.JoinPath("rooms", roomID, "turnOrder")] = append(room.TurnOrder, p.UID)
	}

	if err := c.store.Update(ctx, writes); err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	c.logger.Info("participant joined", zap.String("room_id", roomID), zap.String("uid", p.UID))
	return nil
}

// AdvanceTurn moves the current turn index forward, wrapping modulo the
// turn order length. A room with no participants is a no-op.
func (c *Coordinator) AdvanceTurn(ctx context.Context, roomID string) (int, error) {
	room, err := c.GetRoom(ctx, roomID)
	if err != nil {
		return 0, err
	}
	if room == nil {
		return 0, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	if len(room.TurnOrder) == 0 {
		return room.CurrentTurnIndex, nil
	}
	next := (room.CurrentTurnIndex + 1) % len(room.TurnOrder)
	if err := c.store.Write(ctx, store.JoinPath("rooms", roomID, "currentTurnIndex"), next); err != nil {
		return 0, fmt.Errorf("advance turn: %w", err)
	}
	return next, nil
}

// CancelRoom deletes the room and its index projection. The store's
// access policy restricts this to the creator; a denial surfaces as
// store.ErrPermissionDenied and is not retried.
func (c *Coordinator) CancelRoom(ctx context.Context, roomID string) error {
	err := c.store.Update(ctx, map[string]any{
		store.JoinPath("rooms", roomID):      nil,
		store.JoinPath("roomsIndex", roomID): nil,
	})
	if err != nil {
		return fmt.Errorf("cancel room: %w", err)
	}
	c.logger.Info("room cancelled", zap.String("room_id", roomID))
	return nil
}

// ListRooms reads the lobby projection for all rooms.
func (c *Coordinator) ListRooms(ctx context.Context) ([]Summary, error) {
	v, err := c.store.Read(ctx, "roomsIndex")
	if err != nil {
		return nil, fmt.Errorf("read rooms index: %w", err)
	}
	var index map[string]Summary
	if err := store.DecodeValue(v, &index); err != nil {
		return nil, fmt.Errorf("decode rooms index: %w", err)
	}
	out := make([]Summary, 0, len(index))
	for _, s := range index {
		out = append(out, s)
	}
	return out, nil
}
