package registry

import (
	"sync"

	"github.com/google/uuid"
)

// OverflowPolicy decides what happens when a session's outbound queue is full.
type OverflowPolicy int

const (
	// OverflowDisconnect refuses the payload; the caller evicts the session.
	OverflowDisconnect OverflowPolicy = iota
	// OverflowDropOldest discards the oldest queued payload to make room.
	OverflowDropOldest
)

// String returns the configuration name of the policy.
func (p OverflowPolicy) String() string {
	if p == OverflowDropOldest {
		return "drop-oldest"
	}
	return "disconnect"
}

// ParseOverflowPolicy maps a configuration name to a policy.
func ParseOverflowPolicy(name string) (OverflowPolicy, bool) {
	switch name {
	case "disconnect", "":
		return OverflowDisconnect, true
	case "drop-oldest":
		return OverflowDropOldest, true
	default:
		return OverflowDisconnect, false
	}
}

// Session is the server-side handle of one connected client. The nickname
// lives on the session so sender resolution never scans the directory.
type Session struct {
	id     string
	addr   string
	policy OverflowPolicy

	mu       sync.Mutex
	nickname string
	queue    chan []byte
	closed   bool
}

// NewSession creates a session with a bounded outbound queue of queueSize
// payloads.
func NewSession(addr string, queueSize int, policy OverflowPolicy) *Session {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Session{
		id:     uuid.NewString(),
		addr:   addr,
		policy: policy,
		queue:  make(chan []byte, queueSize),
	}
}

// ID returns the unique transport handle.
func (s *Session) ID() string { return s.id }

// Addr returns the remote address the session connected from.
func (s *Session) Addr() string { return s.addr }

// Nickname returns the bound nickname, if any.
func (s *Session) Nickname() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nickname, s.nickname != ""
}

func (s *Session) setNickname(nickname string) {
	s.mu.Lock()
	s.nickname = nickname
	s.mu.Unlock()
}

// Outbound is drained by the connection's write pump. It is closed by Close.
func (s *Session) Outbound() <-chan []byte {
	return s.queue
}

// Enqueue hands payload to the outbound queue without blocking. It returns
// false when the session is closed or, under OverflowDisconnect, when the
// queue is full.
func (s *Session) Enqueue(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.queue <- payload:
		return true
	default:
	}

	if s.policy != OverflowDropOldest {
		return false
	}

	select {
	case <-s.queue:
	default:
	}
	select {
	case s.queue <- payload:
		return true
	default:
		return false
	}
}

// Close stops further delivery and closes the outbound queue. It is safe to
// call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.queue)
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
