package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/channel"
	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/proto"
)

func TestJoinRejectsMalformedCodeBeforeRequest(t *testing.T) {
	// No broker on the other side: if the code were sent anyway, the
	// request would hang until timeout instead of failing instantly.
	_, clientEnd := channel.Pair(0)
	t.Cleanup(func() { clientEnd.Close() })
	sess := New(clientEnd, WithRequestTimeout(5*time.Second))

	for _, code := range []string{"", "abc", "TOOLONG1", "AB12C!", "AB 12D"} {
		start := time.Now()
		ok, err := sess.JoinRoom(context.Background(), code)
		if !errors.Is(err, ErrBadRoomCode) {
			t.Fatalf("code %q: expected ErrBadRoomCode, got ok=%v err=%v", code, ok, err)
		}
		if time.Since(start) > 100*time.Millisecond {
			t.Fatalf("code %q: validation should not hit the wire", code)
		}
	}
}

func TestRequestTimesOutDistinctly(t *testing.T) {
	// The peer endpoint subscribes nothing, so no ack ever arrives.
	_, clientEnd := channel.Pair(0)
	t.Cleanup(func() { clientEnd.Close() })
	sess := New(clientEnd, WithRequestTimeout(50*time.Millisecond))

	if _, err := sess.CreateRoom(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if _, err := sess.JoinRoom(context.Background(), "AB12CD"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestClosedSessionFailsRequests(t *testing.T) {
	_, clientEnd := channel.Pair(0)
	sess := New(clientEnd)
	sess.Close()

	if _, err := sess.CreateRoom(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := sess.LeaveRoom(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from leave, got %v", err)
	}
}

func TestCloseMidRequestSettlesOnce(t *testing.T) {
	brokerEnd, clientEnd := channel.Pair(0)
	sess := New(clientEnd, WithRequestTimeout(2*time.Second))

	// Broker holds the request, then vanishes.
	brokerEnd.Subscribe(proto.EventCreateRoom, func(msg *channel.Message) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			brokerEnd.Close()
		}()
	})

	if _, err := sess.CreateRoom(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCreateRoomDecodesAck(t *testing.T) {
	brokerEnd, clientEnd := channel.Pair(0)
	t.Cleanup(func() { clientEnd.Close() })
	sess := New(clientEnd, WithRequestTimeout(2*time.Second))

	brokerEnd.Subscribe(proto.EventCreateRoom, func(msg *channel.Message) {
		msg.Reply("AB12CD")
	})
	brokerEnd.Subscribe(proto.EventJoinRoom, func(msg *channel.Message) {
		data, err := proto.DecodeAs[proto.JoinData](msg.Data)
		if err != nil {
			t.Errorf("decode join payload: %v", err)
		}
		msg.Reply(data.Room == "AB12CD")
	})

	code, err := sess.CreateRoom(context.Background())
	if err != nil || code != "AB12CD" {
		t.Fatalf("create: code=%q err=%v", code, err)
	}

	// Lower-case input is normalized before it reaches the wire.
	ok, err := sess.JoinRoom(context.Background(), "ab12cd")
	if err != nil || !ok {
		t.Fatalf("join: ok=%v err=%v", ok, err)
	}
}

func TestCreateRoomSurfacesBrokerRejection(t *testing.T) {
	brokerEnd, clientEnd := channel.Pair(0)
	t.Cleanup(func() { clientEnd.Close() })
	sess := New(clientEnd, WithRequestTimeout(2*time.Second))

	brokerEnd.Subscribe(proto.EventCreateRoom, func(msg *channel.Message) {
		msg.Reply(proto.Error{Code: proto.ErrCodeStorage, Msg: "disk on fire"})
	})

	_, err := sess.CreateRoom(context.Background())
	if err == nil || errors.Is(err, ErrTimeout) {
		t.Fatalf("expected a rejection error, got %v", err)
	}
}
