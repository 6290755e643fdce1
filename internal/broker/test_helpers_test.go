package broker

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/channel"
	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/registry"
	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/session"
	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/store/sqlite"
)

type event struct {
	name string
	data any
}

func newTestHub(t *testing.T) (*Hub, *registry.Registry) {
	t.Helper()
	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := zerolog.Nop()
	reg, err := registry.New(context.Background(), st, registry.Options{}, &logger)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return NewHub(reg, &logger), reg
}

// connect wires a fresh channel pair into the hub and returns the client's
// session, its broker-assigned id, and a stream of pushed events.
func connect(t *testing.T, hub *Hub, watch ...string) (*session.Session, string, chan event) {
	t.Helper()
	brokerEnd, clientEnd := channel.Pair(0)
	t.Cleanup(func() { clientEnd.Close() })

	events := make(chan event, 32)
	sess := session.New(clientEnd, session.WithRequestTimeout(2*time.Second))
	for _, name := range watch {
		name := name
		sess.On(name, func(data any) {
			events <- event{name: name, data: data}
		})
	}

	clientID := hub.RegisterConn(brokerEnd)
	return sess, clientID, events
}

func mustEvent(t *testing.T, ch <-chan event, name string) event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.name == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("expected event %q not received", name)
			return event{}
		}
	}
}

func mustNoEvent(t *testing.T, ch <-chan event, within time.Duration) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %q: %+v", ev.name, ev.data)
	case <-time.After(within):
	}
}
