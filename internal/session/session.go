// Package session is the client-side view of the broker: typed requests
// with bounded timeouts over an event channel endpoint. It is the boundary
// the game UI depends on.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/channel"
	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/proto"
)

var (
	// ErrBadRoomCode is reported before any request is issued.
	ErrBadRoomCode = errors.New("malformed room code")
	// ErrTimeout distinguishes an unreachable broker from a rejected request.
	ErrTimeout = errors.New("request timed out")
	// ErrClosed is reported when the underlying channel is gone.
	ErrClosed = errors.New("session closed")
)

// DefaultRequestTimeout bounds every request when no option overrides it.
const DefaultRequestTimeout = 5 * time.Second

// Option configures a Session.
type Option func(*Session)

// WithRequestTimeout overrides the per-request timeout bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// Session wraps one client endpoint. Each request settles exactly once:
// with a result, with ErrTimeout, or with ErrClosed.
type Session struct {
	end     *channel.Endpoint
	timeout time.Duration
}

// New builds a session over an endpoint connected to the broker.
func New(end *channel.Endpoint, opts ...Option) *Session {
	s := &Session{end: end, timeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRoom asks the broker for a fresh room and returns its code.
func (s *Session) CreateRoom(ctx context.Context) (string, error) {
	res, err := s.request(ctx, proto.EventCreateRoom, nil)
	if err != nil {
		return "", err
	}
	switch v := res.(type) {
	case string:
		return v, nil
	case proto.Error:
		return "", fmt.Errorf("create room rejected: %s", v.Msg)
	}
	code, err := proto.DecodeAs[string](res)
	if err != nil {
		return "", fmt.Errorf("unexpected create-room ack: %w", err)
	}
	return code, nil
}

// JoinRoom validates the room-code shape locally, then asks the broker for
// membership. A false result is an ordinary rejection (missing, expired, or
// full room), not an error.
func (s *Session) JoinRoom(ctx context.Context, code string) (bool, error) {
	code = proto.NormalizeRoomCode(code)
	if !proto.ValidRoomCode(code) {
		return false, ErrBadRoomCode
	}
	res, err := s.request(ctx, proto.EventJoinRoom, proto.JoinData{Room: code})
	if err != nil {
		return false, err
	}
	ok, err := proto.DecodeAs[bool](res)
	if err != nil {
		return false, fmt.Errorf("unexpected join-room ack: %w", err)
	}
	return ok, nil
}

// LeaveRoom is fire-and-forget; the broker treats an unknown membership as a
// no-op.
func (s *Session) LeaveRoom() error {
	if err := s.end.Emit(proto.EventLeaveRoom, nil); err != nil {
		return ErrClosed
	}
	return nil
}

// RoomInfo fetches the current view of the session's room (or the named one).
func (s *Session) RoomInfo(ctx context.Context, code string) (proto.RoomInfo, error) {
	res, err := s.request(ctx, proto.EventRoomInfo, proto.JoinData{Room: code})
	if err != nil {
		return proto.RoomInfo{}, err
	}
	if e, ok := res.(proto.Error); ok {
		return proto.RoomInfo{}, fmt.Errorf("room info rejected: %s", e.Msg)
	}
	return proto.DecodeAs[proto.RoomInfo](res)
}

// SendDrawing relays an opaque drawing payload to the rest of the room.
func (s *Session) SendDrawing(event string, payload any) error {
	if err := s.end.Emit(event, payload); err != nil {
		return ErrClosed
	}
	return nil
}

// On subscribes a handler for broker-pushed events (player-joined,
// player-left, drawing relays, connect, disconnect).
func (s *Session) On(event string, h func(data any)) *channel.Subscription {
	return s.end.Subscribe(event, func(msg *channel.Message) {
		h(msg.Data)
	})
}

// Close tears down the underlying channel; pending requests settle with
// ErrClosed.
func (s *Session) Close() error {
	return s.end.Close()
}

func (s *Session) request(ctx context.Context, event string, data any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.end.Request(ctx, event, data)
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, context.DeadlineExceeded):
		return nil, ErrTimeout
	case errors.Is(err, channel.ErrClosed):
		return nil, ErrClosed
	default:
		return nil, err
	}
}
