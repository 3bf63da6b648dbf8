package relay

import (
	"log/slog"

	"github.com/Tyrowin/relaychat/internal/registry"
)

// Dispatcher encodes events and hands them to session outbound queues. It
// never blocks: a session whose queue refuses a payload is reported through
// the stall callback and skipped.
type Dispatcher struct {
	registry *registry.Registry
	onStall  func(*registry.Session)
}

// NewDispatcher returns a dispatcher over reg. onStall may be nil.
func NewDispatcher(reg *registry.Registry, onStall func(*registry.Session)) *Dispatcher {
	return &Dispatcher{registry: reg, onStall: onStall}
}

// Broadcast delivers the event to every connected session and returns how
// many accepted it.
func (d *Dispatcher) Broadcast(event string, data any) (int, error) {
	payload, err := Encode(event, data)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, s := range d.registry.Sessions() {
		if d.deliver(s, payload) {
			delivered++
		}
	}
	return delivered, nil
}

// Send delivers the event to a single session.
func (d *Dispatcher) Send(s *registry.Session, event string, data any) (bool, error) {
	payload, err := Encode(event, data)
	if err != nil {
		return false, err
	}
	return d.deliver(s, payload), nil
}

func (d *Dispatcher) deliver(s *registry.Session, payload []byte) bool {
	if s.Enqueue(payload) {
		return true
	}
	if s.Closed() {
		return false
	}
	slog.Warn("outbound queue full", "session", s.ID(), "addr", s.Addr())
	if d.onStall != nil {
		d.onStall(s)
	}
	return false
}
