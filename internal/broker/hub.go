// Package broker connects event channels to the room registry: it registers
// client connections, dispatches their requests, and fans broadcast events
// out to room members.
package broker

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/channel"
	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/proto"
	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/registry"
)

// Hub owns the set of connected endpoints and routes room-scoped events to
// them. It implements registry.Notifier.
type Hub struct {
	mu    sync.Mutex
	conns map[string]*channel.Endpoint // client id -> broker-side endpoint
	reg   *registry.Registry
	log   *zerolog.Logger
}

// NewHub builds a hub over the given registry and binds itself as the
// registry's membership notifier.
func NewHub(reg *registry.Registry, logger *zerolog.Logger) *Hub {
	h := &Hub{
		conns: make(map[string]*channel.Endpoint),
		reg:   reg,
		log:   logger,
	}
	reg.SetNotifier(h)
	return h
}

// RegisterConn admits a new connection, mints its client id, and wires the
// protocol handlers onto the endpoint. Returns the client id.
func (h *Hub) RegisterConn(end *channel.Endpoint) string {
	clientID := uuid.NewString()

	h.mu.Lock()
	h.conns[clientID] = end
	h.mu.Unlock()

	end.Subscribe(proto.EventCreateRoom, func(msg *channel.Message) {
		h.handleCreateRoom(clientID, msg)
	})
	end.Subscribe(proto.EventJoinRoom, func(msg *channel.Message) {
		h.handleJoinRoom(clientID, msg)
	})
	end.Subscribe(proto.EventLeaveRoom, func(msg *channel.Message) {
		if err := h.reg.LeaveRoom(context.Background(), clientID); err != nil {
			h.log.Error().Err(err).Str("client", clientID).Msg("leave room failed")
		}
	})
	end.Subscribe(proto.EventRoomInfo, func(msg *channel.Message) {
		h.handleRoomInfo(clientID, msg)
	})
	end.Subscribe(proto.EventDrawingAction, func(msg *channel.Message) {
		h.relayDrawing(clientID, msg)
	})
	end.Subscribe(proto.EventDrawingUpdate, func(msg *channel.Message) {
		h.relayDrawing(clientID, msg)
	})
	end.Subscribe(channel.EventDisconnect, func(msg *channel.Message) {
		h.UnregisterConn(clientID)
	})

	if err := end.Emit(proto.EventConnect, proto.ConnectData{ClientID: clientID}); err != nil {
		h.log.Warn().Err(err).Str("client", clientID).Msg("connect event not delivered")
	}
	h.log.Debug().Str("client", clientID).Msg("connection registered")
	return clientID
}

// UnregisterConn removes a connection and treats the removal as an implicit
// leave. Idempotent.
func (h *Hub) UnregisterConn(clientID string) {
	h.mu.Lock()
	end, ok := h.conns[clientID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, clientID)
	h.mu.Unlock()

	if err := h.reg.LeaveRoom(context.Background(), clientID); err != nil {
		h.log.Error().Err(err).Str("client", clientID).Msg("leave on disconnect failed")
	}
	end.Close()
	h.log.Debug().Str("client", clientID).Msg("connection unregistered")
}

// BroadcastToRoom delivers the event to every member of the room, each
// exactly once. A room with no members is a silent no-op.
func (h *Hub) BroadcastToRoom(room, event string, data any) {
	h.broadcast(room, event, data, "")
}

func (h *Hub) broadcast(room, event string, data any, exclude string) {
	for _, clientID := range h.reg.ClientsInRoom(room) {
		if clientID == exclude {
			continue
		}
		h.mu.Lock()
		end, ok := h.conns[clientID]
		h.mu.Unlock()
		if !ok {
			continue
		}
		if err := end.Emit(event, data); err != nil {
			h.log.Debug().Err(err).Str("client", clientID).Str("event", event).Msg("broadcast emit failed")
		}
	}
}

func (h *Hub) handleCreateRoom(clientID string, msg *channel.Message) {
	code, err := h.reg.CreateRoom(context.Background(), clientID)
	if err != nil {
		h.log.Error().Err(err).Str("client", clientID).Msg("create room failed")
		msg.Reply(proto.Error{Code: proto.ErrCodeStorage, Msg: "could not create room"})
		return
	}
	msg.Reply(code)
}

func (h *Hub) handleJoinRoom(clientID string, msg *channel.Message) {
	data, err := proto.DecodeAs[proto.JoinData](msg.Data)
	if err != nil {
		h.log.Warn().Err(err).Str("client", clientID).Msg("malformed join payload")
		msg.Reply(false)
		return
	}
	ok, err := h.reg.JoinRoom(context.Background(), clientID, data.Room)
	if err != nil {
		h.log.Error().Err(err).Str("client", clientID).Str("room", data.Room).Msg("join room failed")
		msg.Reply(false)
		return
	}
	msg.Reply(ok)
}

func (h *Hub) handleRoomInfo(clientID string, msg *channel.Message) {
	data, _ := proto.DecodeAs[proto.JoinData](msg.Data)
	code := data.Room
	if code == "" {
		current, ok := h.reg.RoomForClient(clientID)
		if !ok {
			msg.Reply(proto.Error{Code: proto.ErrCodeRoomNotFound, Msg: "not in a room"})
			return
		}
		code = current
	}
	info, ok := h.reg.RoomInfo(code)
	if !ok {
		msg.Reply(proto.Error{Code: proto.ErrCodeRoomNotFound, Msg: "room not found"})
		return
	}
	msg.Reply(proto.RoomInfo{
		Room:      info.Room,
		Members:   info.Members,
		Host:      info.Host,
		CreatedAt: info.CreatedAt,
	})
}

// relayDrawing forwards an opaque drawing payload to the other members of
// the sender's room. Senders not in a room are ignored.
func (h *Hub) relayDrawing(clientID string, msg *channel.Message) {
	room, ok := h.reg.RoomForClient(clientID)
	if !ok {
		return
	}
	h.broadcast(room, msg.Event, proto.DrawingData{
		Room: room,
		From: clientID,
		Data: msg.Data,
	}, clientID)
}
