package proto

import (
	"encoding/json"
	"time"
)

// Event names exchanged across an event channel. These are the wire-level
// contract shared with the browser client.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"

	EventCreateRoom = "create-room"
	EventJoinRoom   = "join-room"
	EventLeaveRoom  = "leave-room"
	EventRoomInfo   = "room-info"

	EventPlayerJoined = "player-joined"
	EventPlayerLeft   = "player-left"

	EventDrawingAction = "drawing-action"
	EventDrawingUpdate = "drawing-update"
)

// Error codes carried in ack payloads for request-shaped events.
const (
	ErrCodeRoomNotFound = "room_not_found"
	ErrCodeBadRequest   = "bad_request"
	ErrCodeStorage      = "storage_error"
)

// Inbound is the envelope for frames coming from a websocket client.
// AckID, when non-zero, asks the broker to answer with an ack frame
// carrying the same id.
type Inbound struct {
	Type  string          `json:"type"`
	AckID uint64          `json:"ack_id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is the envelope for frames sent to a websocket client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	AckID uint64 `json:"ack_id,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

const (
	OutboundTypeEvent = "event"
	OutboundTypeAck   = "ack"
	OutboundTypeError = "error"
)

// ConnectData is delivered to a client right after its channel is registered.
type ConnectData struct {
	ClientID string `json:"client_id"`
}

// JoinData requests membership in a specific room.
type JoinData struct {
	Room string `json:"room"`
}

// PlayerData notifies room members about a membership change.
type PlayerData struct {
	Room   string `json:"room"`
	Player string `json:"player"`
	Host   string `json:"host,omitempty"`
}

// DrawingData wraps an opaque drawing payload relayed within a room.
type DrawingData struct {
	Room string `json:"room"`
	From string `json:"from"`
	Data any    `json:"data,omitempty"`
}

// RoomInfo describes a room to a client re-rendering its lobby.
type RoomInfo struct {
	Room      string    `json:"room"`
	Members   []string  `json:"members"`
	Host      string    `json:"host,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// DecodeAs converts an event payload into T. In-process payloads are already
// typed; payloads that crossed a websocket arrive as json.RawMessage and are
// unmarshalled. Anything else goes through a marshal round trip.
func DecodeAs[T any](data any) (T, error) {
	if v, ok := data.(T); ok {
		return v, nil
	}
	var out T
	raw, ok := data.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(data)
		if err != nil {
			return out, err
		}
		raw = b
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
