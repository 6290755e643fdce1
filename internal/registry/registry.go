// Package registry owns the set of rooms and their membership. All mutations
// run under one mutex and persist the snapshot inside the critical section,
// keeping the room sets, the client index, and durable storage in lockstep.
package registry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/proto"
	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/store"
)

// ErrNoFreeCode is returned when code generation keeps colliding.
var ErrNoFreeCode = errors.New("no free room code")

// Notifier receives membership events after a mutation commits. Implemented
// by the broadcast router.
type Notifier interface {
	BroadcastToRoom(room, event string, data any)
}

// Options tunes registry behavior. Zero values fall back to defaults.
type Options struct {
	// TTL after which a room refuses joins. Zero disables expiry.
	TTL time.Duration
	// MaxMembers bounds room size. Zero means DefaultMaxMembers.
	MaxMembers int
}

// DefaultMaxMembers bounds room size when Options.MaxMembers is zero.
const DefaultMaxMembers = 8

const maxCodeAttempts = 100

type roomState struct {
	members   []string // join order; first entry is host
	createdAt time.Time
}

// Info is a point-in-time view of one room.
type Info struct {
	Room      string
	Members   []string
	Host      string
	CreatedAt time.Time
}

// notification is a membership event captured under the lock and fired after.
type notification struct {
	room  string
	event string
	data  any
}

// Registry is the room/membership broker core. A single instance is owned by
// the server process and handed to every component that needs it.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*roomState
	index    map[string]string // clientID -> room code
	st       store.Store
	notifier Notifier
	opts     Options
	log      *zerolog.Logger
}

// New builds a registry backed by st and loads the persisted snapshot so
// rooms survive a restart.
func New(ctx context.Context, st store.Store, opts Options, logger *zerolog.Logger) (*Registry, error) {
	if opts.MaxMembers <= 0 {
		opts.MaxMembers = DefaultMaxMembers
	}
	r := &Registry{
		rooms: make(map[string]*roomState),
		index: make(map[string]string),
		st:    st,
		opts:  opts,
		log:   logger,
	}
	snap, err := st.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	r.adoptLocked(snap)
	return r, nil
}

// SetNotifier binds the broadcast router. Must be called before clients are
// admitted; membership events are dropped while unset.
func (r *Registry) SetNotifier(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifier = n
}

// CreateRoom generates a fresh room code, makes clientID its sole member and
// host, and persists the result. The client leaves any prior room first.
func (r *Registry) CreateRoom(ctx context.Context, clientID string) (string, error) {
	r.mu.Lock()
	before := r.snapshotLocked()
	events := r.removeLocked(clientID)

	code, err := r.freeCodeLocked()
	if err != nil {
		r.restoreLocked(before)
		r.mu.Unlock()
		return "", err
	}
	r.rooms[code] = &roomState{members: []string{clientID}, createdAt: time.Now()}
	r.index[clientID] = code

	if err := r.st.Save(ctx, r.snapshotLocked()); err != nil {
		r.restoreLocked(before)
		r.mu.Unlock()
		return "", fmt.Errorf("persist create: %w", err)
	}
	r.mu.Unlock()

	r.fire(events)
	r.log.Info().Str("room", code).Str("client", clientID).Msg("room created")
	return code, nil
}

// JoinRoom adds clientID to the room identified by code. Business failures
// (missing, expired, or full room) report false with a nil error; only
// storage faults return an error. Joining the current room again is an
// idempotent success.
func (r *Registry) JoinRoom(ctx context.Context, clientID, code string) (bool, error) {
	code = proto.NormalizeRoomCode(code)

	r.mu.Lock()
	room, ok := r.rooms[code]
	if !ok {
		// Tolerate out-of-process writes before declaring the room missing.
		r.reconcileLocked(ctx)
		room, ok = r.rooms[code]
	}
	if !ok {
		r.mu.Unlock()
		return false, nil
	}
	if r.expiredLocked(room) {
		r.mu.Unlock()
		return false, nil
	}
	if r.index[clientID] == code {
		r.mu.Unlock()
		return true, nil
	}
	if len(room.members) >= r.opts.MaxMembers {
		r.mu.Unlock()
		return false, nil
	}

	before := r.snapshotLocked()
	events := r.removeLocked(clientID)
	// removeLocked may have reaped the client's previous room but never the
	// target room, which has at least one other member or is being joined.
	room = r.rooms[code]
	room.members = append(room.members, clientID)
	r.index[clientID] = code

	if err := r.st.Save(ctx, r.snapshotLocked()); err != nil {
		r.restoreLocked(before)
		r.mu.Unlock()
		return false, fmt.Errorf("persist join: %w", err)
	}
	host := room.members[0]
	r.mu.Unlock()

	r.fire(events)
	r.fire([]notification{{
		room:  code,
		event: proto.EventPlayerJoined,
		data:  proto.PlayerData{Room: code, Player: clientID, Host: host},
	}})
	r.log.Debug().Str("room", code).Str("client", clientID).Msg("client joined room")
	return true, nil
}

// LeaveRoom removes clientID from whatever room it occupies. No-op when the
// client is in no room. An empty room is removed immediately.
func (r *Registry) LeaveRoom(ctx context.Context, clientID string) error {
	r.mu.Lock()
	if _, ok := r.index[clientID]; !ok {
		r.mu.Unlock()
		return nil
	}
	before := r.snapshotLocked()
	events := r.removeLocked(clientID)

	if err := r.st.Save(ctx, r.snapshotLocked()); err != nil {
		r.restoreLocked(before)
		r.mu.Unlock()
		return fmt.Errorf("persist leave: %w", err)
	}
	r.mu.Unlock()

	r.fire(events)
	return nil
}

// RoomExists reconciles from the store and reports whether code names a
// live, unexpired room.
func (r *Registry) RoomExists(ctx context.Context, code string) bool {
	code = proto.NormalizeRoomCode(code)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconcileLocked(ctx)
	room, ok := r.rooms[code]
	return ok && !r.expiredLocked(room)
}

// ClientsInRoom returns the members of a room in join order.
func (r *Registry) ClientsInRoom(code string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[proto.NormalizeRoomCode(code)]
	if !ok {
		return nil
	}
	out := make([]string, len(room.members))
	copy(out, room.members)
	return out
}

// RoomForClient returns the room the client currently occupies.
func (r *Registry) RoomForClient(clientID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.index[clientID]
	return code, ok
}

// HostOf returns the first-joined member of a room.
func (r *Registry) HostOf(code string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[proto.NormalizeRoomCode(code)]
	if !ok || len(room.members) == 0 {
		return "", false
	}
	return room.members[0], true
}

// RoomInfo returns a point-in-time view of one room.
func (r *Registry) RoomInfo(code string) (Info, bool) {
	code = proto.NormalizeRoomCode(code)
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[code]
	if !ok {
		return Info{}, false
	}
	members := make([]string, len(room.members))
	copy(members, room.members)
	info := Info{Room: code, Members: members, CreatedAt: room.createdAt}
	if len(members) > 0 {
		info.Host = members[0]
	}
	return info, true
}

// ClearAllRooms empties the registry and the store. Operator use only; not
// reachable through the client event protocol.
func (r *Registry) ClearAllRooms(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.st.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	r.rooms = make(map[string]*roomState)
	r.index = make(map[string]string)
	r.log.Info().Msg("all rooms cleared")
	return nil
}

// removeLocked detaches clientID from its room, reaps the room if it became
// empty, and returns the player-left notification to fire after unlock.
func (r *Registry) removeLocked(clientID string) []notification {
	code, ok := r.index[clientID]
	if !ok {
		return nil
	}
	delete(r.index, clientID)

	room := r.rooms[code]
	for i, id := range room.members {
		if id == clientID {
			room.members = append(room.members[:i], room.members[i+1:]...)
			break
		}
	}
	if len(room.members) == 0 {
		delete(r.rooms, code)
	}

	data := proto.PlayerData{Room: code, Player: clientID}
	if len(room.members) > 0 {
		data.Host = room.members[0]
	}
	return []notification{{room: code, event: proto.EventPlayerLeft, data: data}}
}

func (r *Registry) fire(events []notification) {
	r.mu.Lock()
	n := r.notifier
	r.mu.Unlock()
	if n == nil {
		return
	}
	for _, ev := range events {
		n.BroadcastToRoom(ev.room, ev.event, ev.data)
	}
}

func (r *Registry) expiredLocked(room *roomState) bool {
	return r.opts.TTL > 0 && time.Since(room.createdAt) > r.opts.TTL
}

// reconcileLocked replaces in-memory state with the persisted snapshot.
// Every mutation saves before returning, so under normal operation this is a
// no-op; it exists to tolerate out-of-process writes to the store.
func (r *Registry) reconcileLocked(ctx context.Context) {
	snap, err := r.st.Load(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("reconcile load failed, keeping in-memory state")
		return
	}
	r.adoptLocked(snap)
}

func (r *Registry) adoptLocked(snap store.Snapshot) {
	rooms := make(map[string]*roomState, len(snap))
	index := make(map[string]string)
	for code, st := range snap {
		members := make([]string, len(st.Members))
		copy(members, st.Members)
		rooms[code] = &roomState{members: members, createdAt: st.CreatedAt}
		for _, id := range st.Members {
			index[id] = code
		}
	}
	r.rooms = rooms
	r.index = index
}

func (r *Registry) snapshotLocked() store.Snapshot {
	snap := make(store.Snapshot, len(r.rooms))
	for code, room := range r.rooms {
		members := make([]string, len(room.members))
		copy(members, room.members)
		snap[code] = store.RoomState{Members: members, CreatedAt: room.createdAt}
	}
	return snap
}

func (r *Registry) restoreLocked(snap store.Snapshot) {
	r.adoptLocked(snap)
}

// freeCodeLocked generates a room code not currently in use. The alphabet is
// small, so existence is checked before commit instead of trusting
// randomness alone.
func (r *Registry) freeCodeLocked() (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := randomCode()
		if err != nil {
			return "", err
		}
		if _, taken := r.rooms[code]; !taken {
			return code, nil
		}
	}
	return "", ErrNoFreeCode
}

func randomCode() (string, error) {
	buf := make([]byte, proto.RoomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	for i, b := range buf {
		buf[i] = proto.RoomCodeAlphabet[int(b)%len(proto.RoomCodeAlphabet)]
	}
	return string(buf), nil
}
