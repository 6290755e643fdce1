package broker

import (
	"context"
	"testing"
	"time"

	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/channel"
	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/proto"
)

func TestCreateJoinBroadcastLeave(t *testing.T) {
	hub, reg := newTestHub(t)
	ctx := context.Background()

	sessA, idA, eventsA := connect(t, hub, proto.EventPlayerJoined, proto.EventPlayerLeft)
	sessB, idB, eventsB := connect(t, hub, proto.EventPlayerJoined, proto.EventDrawingAction)
	_, _, eventsC := connect(t, hub, proto.EventPlayerJoined, proto.EventDrawingAction)

	code, err := sessA.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if !proto.ValidRoomCode(code) {
		t.Fatalf("invalid room code %q", code)
	}

	ok, err := sessB.JoinRoom(ctx, code)
	if err != nil || !ok {
		t.Fatalf("join: ok=%v err=%v", ok, err)
	}

	joined := mustEvent(t, eventsA, proto.EventPlayerJoined)
	data, err := proto.DecodeAs[proto.PlayerData](joined.data)
	if err != nil {
		t.Fatalf("decode player-joined: %v", err)
	}
	if data.Player != idB || data.Room != code || data.Host != idA {
		t.Fatalf("unexpected player-joined: %+v", data)
	}

	members := reg.ClientsInRoom(code)
	if len(members) != 2 || members[0] != idA || members[1] != idB {
		t.Fatalf("unexpected members: %v", members)
	}

	// A draws; B receives the relay, unrelated C does not.
	if err := sessA.SendDrawing(proto.EventDrawingAction, map[string]any{"x": 1}); err != nil {
		t.Fatalf("send drawing: %v", err)
	}
	relay := mustEvent(t, eventsB, proto.EventDrawingAction)
	drawing, err := proto.DecodeAs[proto.DrawingData](relay.data)
	if err != nil {
		t.Fatalf("decode drawing relay: %v", err)
	}
	if drawing.From != idA || drawing.Room != code {
		t.Fatalf("unexpected drawing relay: %+v", drawing)
	}
	mustNoEvent(t, eventsC, 100*time.Millisecond)

	// B leaves; A sees player-left naming B and stays alone in the room.
	if err := sessB.LeaveRoom(); err != nil {
		t.Fatalf("leave: %v", err)
	}
	left := mustEvent(t, eventsA, proto.EventPlayerLeft)
	leftData, err := proto.DecodeAs[proto.PlayerData](left.data)
	if err != nil {
		t.Fatalf("decode player-left: %v", err)
	}
	if leftData.Player != idB || leftData.Room != code {
		t.Fatalf("unexpected player-left: %+v", leftData)
	}

	waitFor(t, func() bool {
		m := reg.ClientsInRoom(code)
		return len(m) == 1 && m[0] == idA
	})
}

func TestJoinNonexistentRoom(t *testing.T) {
	hub, reg := newTestHub(t)
	ctx := context.Background()

	sess, id, _ := connect(t, hub)

	ok, err := sess.JoinRoom(ctx, "ZZZZZZ")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if ok {
		t.Fatal("join of nonexistent room should report false")
	}
	if _, in := reg.RoomForClient(id); in {
		t.Fatal("failed join must not mutate membership")
	}
}

func TestDisconnectActsAsLeave(t *testing.T) {
	hub, reg := newTestHub(t)
	ctx := context.Background()

	sessA, _, eventsA := connect(t, hub, proto.EventPlayerLeft)
	sessB, idB, _ := connect(t, hub)

	code, err := sessA.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, err := sessB.JoinRoom(ctx, code); err != nil || !ok {
		t.Fatalf("join: ok=%v err=%v", ok, err)
	}

	sessB.Close()

	left := mustEvent(t, eventsA, proto.EventPlayerLeft)
	data, err := proto.DecodeAs[proto.PlayerData](left.data)
	if err != nil {
		t.Fatalf("decode player-left: %v", err)
	}
	if data.Player != idB || data.Room != code {
		t.Fatalf("unexpected player-left: %+v", data)
	}

	// Exactly once.
	mustNoEvent(t, eventsA, 100*time.Millisecond)

	waitFor(t, func() bool {
		m := reg.ClientsInRoom(code)
		return len(m) == 1
	})
	if _, in := reg.RoomForClient(idB); in {
		t.Fatal("disconnected client still indexed")
	}
}

func TestRoomInfo(t *testing.T) {
	hub, _ := newTestHub(t)
	ctx := context.Background()

	sessA, idA, _ := connect(t, hub)
	sessB, idB, _ := connect(t, hub)

	code, err := sessA.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, err := sessB.JoinRoom(ctx, code); err != nil || !ok {
		t.Fatalf("join: ok=%v err=%v", ok, err)
	}

	info, err := sessB.RoomInfo(ctx, "")
	if err != nil {
		t.Fatalf("room info: %v", err)
	}
	if info.Room != code || info.Host != idA || len(info.Members) != 2 {
		t.Fatalf("unexpected room info: %+v", info)
	}
	if info.Members[1] != idB {
		t.Fatalf("member order should follow join order: %v", info.Members)
	}
}

func TestBroadcastToEmptyRoomIsNoop(t *testing.T) {
	hub, _ := newTestHub(t)
	hub.BroadcastToRoom("AB12CD", proto.EventPlayerJoined, nil)
}

func TestConnectEventCarriesClientID(t *testing.T) {
	hub, _ := newTestHub(t)

	brokerEnd, clientEnd := channel.Pair(0)
	t.Cleanup(func() { clientEnd.Close() })
	got := make(chan any, 1)
	clientEnd.Subscribe(proto.EventConnect, func(msg *channel.Message) {
		got <- msg.Data
	})

	id := hub.RegisterConn(brokerEnd)
	select {
	case data := <-got:
		connData, err := proto.DecodeAs[proto.ConnectData](data)
		if err != nil {
			t.Fatalf("decode connect: %v", err)
		}
		if connData.ClientID != id {
			t.Fatalf("connect event id %q, registered id %q", connData.ClientID, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connect event never delivered")
	}
}

// waitFor polls until cond holds or the deadline passes; broadcasts trail
// acks slightly because membership events fan out before replies land.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never held")
}
