package relay

import "github.com/Tyrowin/relaychat/internal/registry"

// Presence announces registry changes. Every announcement is followed by a
// fresh user_list so clients that missed an event still converge.
type Presence struct {
	registry   *registry.Registry
	dispatcher *Dispatcher
}

// NewPresence returns a notifier reading the online list from reg.
func NewPresence(reg *registry.Registry, d *Dispatcher) *Presence {
	return &Presence{registry: reg, dispatcher: d}
}

// Joined announces a newly bound nickname.
func (p *Presence) Joined(nickname string) error {
	if _, err := p.dispatcher.Broadcast(EventUserConnected, nickname); err != nil {
		return err
	}
	return p.refresh()
}

// Left announces a nickname that is no longer bound.
func (p *Presence) Left(nickname string) error {
	if _, err := p.dispatcher.Broadcast(EventUserDisconnected, nickname); err != nil {
		return err
	}
	return p.refresh()
}

// Renamed announces a session moving from one nickname to another with a
// single list refresh.
func (p *Presence) Renamed(previous, nickname string) error {
	if _, err := p.dispatcher.Broadcast(EventUserDisconnected, previous); err != nil {
		return err
	}
	if _, err := p.dispatcher.Broadcast(EventUserConnected, nickname); err != nil {
		return err
	}
	return p.refresh()
}

// SendUserList answers a get_users request.
func (p *Presence) SendUserList(s *registry.Session) error {
	_, err := p.dispatcher.Send(s, EventUserList, p.registry.Snapshot())
	return err
}

func (p *Presence) refresh() error {
	_, err := p.dispatcher.Broadcast(EventUserList, p.registry.Snapshot())
	return err
}
