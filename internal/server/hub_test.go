package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Tyrowin/relaychat/internal/registry"
	"github.com/Tyrowin/relaychat/internal/relay"
)

// detachedClient returns a client with no connection, registered with h
// the way handleRegister would, minus the pumps.
func detachedClient(t *testing.T, h *Hub, nickname string, queueSize int, policy registry.OverflowPolicy) *Client {
	t.Helper()
	c := &Client{session: registry.NewSession(nickname+"-addr", queueSize, policy), hub: h, addr: nickname + "-addr"}
	h.registry.Add(c.session)
	h.clients[c.session] = c
	h.metrics.ActiveConnections.Add(1)
	if err := h.bind(c.session, nickname); err != nil {
		t.Fatalf("bind %s: %v", nickname, err)
	}
	// Small queues overflow on their own join announcement.
	queued(c.session)
	h.evictions = nil
	return c
}

func queued(s *registry.Session) []relay.Envelope {
	var out []relay.Envelope
	for {
		select {
		case frame, ok := <-s.Outbound():
			if !ok {
				return out
			}
			env, err := relay.Decode(frame)
			if err == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func events(envs []relay.Envelope) []string {
	names := make([]string, len(envs))
	for i, env := range envs {
		names[i] = env.Event
	}
	return names
}

func TestSlowClientIsEvicted(t *testing.T) {
	h := NewHub(Dependencies{})
	fast := detachedClient(t, h, "fast", 64, registry.OverflowDisconnect)
	slow := detachedClient(t, h, "slow", 1, registry.OverflowDisconnect)
	queued(fast.session)
	queued(slow.session)

	if !slow.session.Enqueue([]byte(`{"event":"filler"}`)) {
		t.Fatal("could not fill slow queue")
	}

	h.handleCommand(command{kind: cmdSendMessage, client: fast, recipient: registry.Broadcast, text: "hi"})
	h.flushEvictions()

	if _, ok := h.registry.Lookup("slow"); ok {
		t.Error("slow client still bound after eviction")
	}
	if !slow.session.Closed() {
		t.Error("slow client queue not closed")
	}
	if _, ok := h.clients[slow.session]; ok {
		t.Error("slow client still tracked by the hub")
	}

	got := events(queued(fast.session))
	want := []string{relay.EventReceiveMessage, relay.EventUserDisconnected, relay.EventUserList}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fast client events mismatch (-want +got):\n%s", diff)
	}
	if n := h.metrics.Evictions.Load(); n != 1 {
		t.Errorf("Evictions = %d, want 1", n)
	}
	if n := h.metrics.ActiveConnections.Load(); n != 1 {
		t.Errorf("ActiveConnections = %d, want 1", n)
	}
}

func TestDropOldestClientIsKept(t *testing.T) {
	h := NewHub(Dependencies{})
	sender := detachedClient(t, h, "sender", 64, registry.OverflowDisconnect)
	lossy := detachedClient(t, h, "lossy", 1, registry.OverflowDropOldest)
	queued(lossy.session)

	for _, text := range []string{"one", "two", "three"} {
		h.handleCommand(command{kind: cmdSendMessage, client: sender, recipient: registry.Broadcast, text: text})
		h.flushEvictions()
	}

	if _, ok := h.registry.Lookup("lossy"); !ok {
		t.Fatal("drop-oldest client was evicted")
	}
	got := queued(lossy.session)
	if len(got) != 1 {
		t.Fatalf("lossy queue holds %d events, want 1", len(got))
	}
	var msg relay.ReceivedMessage
	if err := json.Unmarshal(got[0].Data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Message != "three" {
		t.Errorf("kept message %q, want the newest", msg.Message)
	}
}

func TestUnregisterAnnouncesOnce(t *testing.T) {
	h := NewHub(Dependencies{})
	stay := detachedClient(t, h, "stay", 64, registry.OverflowDisconnect)
	gone := detachedClient(t, h, "gone", 64, registry.OverflowDisconnect)
	queued(stay.session)

	h.handleUnregister(gone)
	h.handleUnregister(gone)

	got := events(queued(stay.session))
	want := []string{relay.EventUserDisconnected, relay.EventUserList}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if n := h.metrics.TotalDisconnects.Load(); n != 1 {
		t.Errorf("TotalDisconnects = %d, want 1", n)
	}
}

func TestCommandsFromClosedSessionsAreIgnored(t *testing.T) {
	h := NewHub(Dependencies{})
	watcher := detachedClient(t, h, "watcher", 64, registry.OverflowDisconnect)
	ghost := detachedClient(t, h, "ghost", 64, registry.OverflowDisconnect)
	h.handleUnregister(ghost)
	queued(watcher.session)

	h.handleCommand(command{kind: cmdSendMessage, client: ghost, recipient: registry.Broadcast, text: "boo"})
	h.handleCommand(command{kind: cmdSetNickname, client: ghost, nickname: "ghost2"})

	if got := queued(watcher.session); len(got) != 0 {
		t.Errorf("watcher received %v", events(got))
	}
}

func TestHubStopsAcceptingAfterShutdown(t *testing.T) {
	h := NewHub(Dependencies{})
	go h.Run()

	if err := h.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c := &Client{session: registry.NewSession("late", 1, registry.OverflowDisconnect), hub: h}
		if h.enqueue(c) {
			t.Error("enqueue succeeded after shutdown")
		}
		if h.submit(command{kind: cmdGetUsers, client: c}) {
			t.Error("submit succeeded after shutdown")
		}
		h.leave(c)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub channels blocked after shutdown")
	}
}
