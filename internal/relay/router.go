package relay

import (
	"errors"
	"fmt"

	"github.com/Tyrowin/relaychat/internal/registry"
)

var (
	ErrSenderUnbound     = errors.New("relay: sender has no nickname")
	ErrRecipientNotFound = errors.New("relay: recipient not found")
)

// Mode tells how a payload was routed.
type Mode int

const (
	ModeBroadcast Mode = iota
	ModeUnicast
)

func (m Mode) String() string {
	if m == ModeUnicast {
		return "unicast"
	}
	return "broadcast"
}

// Result describes one routed payload.
type Result struct {
	Sender    string
	Mode      Mode
	Delivered int
}

// FileBlob is a file on its way through the relay. Data stays in its
// transport encoding; the relay never needs the raw bytes.
type FileBlob struct {
	Name string
	Data string
}

// Router applies the delivery policy: "all" reaches every session including
// the sender, a nickname reaches that session plus an echo to the sender.
type Router struct {
	registry   *registry.Registry
	dispatcher *Dispatcher
}

// NewRouter returns a router resolving names against reg.
func NewRouter(reg *registry.Registry, d *Dispatcher) *Router {
	return &Router{registry: reg, dispatcher: d}
}

// Route delivers a text message from sender to recipient.
func (r *Router) Route(sender *registry.Session, recipient, text string) (Result, error) {
	return r.route(sender, recipient, EventReceiveMessage, func(nickname string) any {
		return ReceivedMessage{Sender: nickname, Message: text}
	})
}

// RouteFile delivers a stored file from sender to recipient.
func (r *Router) RouteFile(sender *registry.Session, recipient string, blob FileBlob) (Result, error) {
	return r.route(sender, recipient, EventReceiveFile, func(nickname string) any {
		return ReceivedFile{Sender: nickname, FileName: blob.Name, FileData: blob.Data}
	})
}

func (r *Router) route(sender *registry.Session, recipient, event string, build func(string) any) (Result, error) {
	nickname, ok := r.registry.ResolveNickname(sender)
	if !ok {
		return Result{}, ErrSenderUnbound
	}
	res := Result{Sender: nickname}

	if recipient == registry.Broadcast {
		res.Mode = ModeBroadcast
		n, err := r.dispatcher.Broadcast(event, build(nickname))
		res.Delivered = n
		return res, err
	}

	res.Mode = ModeUnicast
	target, ok := r.registry.Lookup(recipient)
	if !ok {
		return res, fmt.Errorf("%w: %q", ErrRecipientNotFound, recipient)
	}

	payload, err := Encode(event, build(nickname))
	if err != nil {
		return res, err
	}
	if r.dispatcher.deliver(target, payload) {
		res.Delivered++
	}
	if target != sender && r.dispatcher.deliver(sender, payload) {
		res.Delivered++
	}
	return res, nil
}
