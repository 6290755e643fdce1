package store

import (
	"context"
	"time"
)

// RoomState is the persisted form of one room. Members keeps join order;
// the first entry is the host.
type RoomState struct {
	Members   []string
	CreatedAt time.Time
}

// Snapshot maps room codes to their persisted state. It is the unit of
// durability: the registry saves the whole snapshot on every mutation and
// loads it back on startup.
type Snapshot map[string]RoomState

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for code, room := range s {
		members := make([]string, len(room.Members))
		copy(members, room.Members)
		out[code] = RoomState{Members: members, CreatedAt: room.CreatedAt}
	}
	return out
}

// Store is the durability boundary for room state. Load must be idempotent
// and always reflect the most recent successful Save.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Reset(ctx context.Context) error
	Close() error
}
