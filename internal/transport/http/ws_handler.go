package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/broker"
	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/channel"
	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/proto"
)

// WSHandler upgrades HTTP connections and bridges websocket frames onto an
// event channel endpoint registered with the hub.
type WSHandler struct {
	hub *broker.Hub
	log *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *broker.Hub, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{hub: hub, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	// Broker side goes to the hub, client side is bridged to the socket.
	brokerEnd, clientEnd := channel.Pair(0)
	clientID := h.hub.RegisterConn(brokerEnd)
	defer clientEnd.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w2 := &wsWriter{ctx: ctx, conn: conn}

	// Everything the broker pushes is forwarded as an event frame.
	clientEnd.Subscribe(channel.AllEvents, func(msg *channel.Message) {
		if msg.Event == channel.EventDisconnect {
			cancel()
			return
		}
		if err := w2.write(proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: msg.Event,
			Data:  msg.Data,
		}); err != nil {
			h.log.Debug().Err(err).Str("client_id", clientID).Msg("write ws event")
			cancel()
		}
	})

	err = h.readLoop(ctx, conn, clientEnd, w2, clientID)

	clientEnd.Close()

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("client_id", clientID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, end *channel.Endpoint, w *wsWriter, clientID string) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}
		if inbound.Type == "" {
			if err := w.write(proto.Outbound{
				Type:  proto.OutboundTypeError,
				Error: &proto.Error{Code: proto.ErrCodeBadRequest, Msg: "missing frame type"},
			}); err != nil {
				return err
			}
			continue
		}

		if inbound.AckID != 0 {
			// Request-shaped frame: answer with an ack frame carrying the
			// same id once the broker replies.
			go h.forwardRequest(ctx, end, w, inbound, clientID)
			continue
		}

		if err := end.Emit(inbound.Type, inbound.Data); err != nil {
			return err
		}
	}
}

func (h *WSHandler) forwardRequest(ctx context.Context, end *channel.Endpoint, w *wsWriter, inbound proto.Inbound, clientID string) {
	res, err := end.Request(ctx, inbound.Type, inbound.Data)
	out := proto.Outbound{Type: proto.OutboundTypeAck, AckID: inbound.AckID}
	switch {
	case err != nil:
		out.Error = &proto.Error{Code: proto.ErrCodeBadRequest, Msg: err.Error()}
	default:
		if e, ok := res.(proto.Error); ok {
			out.Error = &e
		} else {
			out.Data = res
		}
	}
	if writeErr := w.write(out); writeErr != nil {
		h.log.Debug().Err(writeErr).Str("client_id", clientID).Msg("write ws ack")
	}
}

// wsWriter serializes frame writes; acks and pushed events come from
// different goroutines.
type wsWriter struct {
	mu   sync.Mutex
	ctx  context.Context
	conn *websocket.Conn
}

func (w *wsWriter) write(out proto.Outbound) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return wsjson.Write(w.ctx, w.conn, out)
}
