package store

import "context"

// AccessPolicy decides whether a caller may write a path. The store
// treats reads as unrestricted; ownership is a write-side property.
type AccessPolicy interface {
	CanWrite(uid, path string, value any, s Store) bool
}

// AllowAllPolicy permits every write. Used in tests and single-user
// setups.
type AllowAllPolicy struct{}

func (AllowAllPolicy) CanWrite(string, string, any, Store) bool { return true }

// RoomOwnershipPolicy enforces the multiplayer ownership rules:
//
//   - rooms/{id}/players/{pid}/** is writable only by pid;
//   - deleting rooms/{id} or roomsIndex/{id} outright is reserved for
//     the room's creator;
//   - roomsIndex/{id}/players/{pid}/** is writable only by pid;
//   - everything else (turn order, turn index, room metadata) is
//     shared-writable, last write wins.
type RoomOwnershipPolicy struct{}

func (RoomOwnershipPolicy) CanWrite(uid, path string, value any, s Store) bool {
	segs := splitPath(path)
	if len(segs) == 0 {
		return false
	}
	switch segs[0] {
	case "rooms", "roomsIndex":
	default:
		return true
	}

	// Whole-room deletion is the creator's alone.
	if len(segs) == 2 && value == nil {
		creator := roomCreator(s, segs[1])
		return creator != "" && creator == uid
	}

	// Player subtrees belong to their player.
	if len(segs) >= 4 && segs[2] == "players" {
		return segs[3] == uid
	}
	return true
}

func roomCreator(s Store, roomID string) string {
	v, err := s.Read(context.Background(), JoinPath("rooms", roomID, "createdByUid"))
	if err != nil {
		return ""
	}
	creator, _ := v.(string)
	return creator
}
