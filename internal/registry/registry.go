// Package registry tracks connected sessions and the nickname directory that
// routing resolves recipients against.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// Broadcast is the recipient name that addresses every session. It can never
// be bound as a nickname.
const Broadcast = "all"

// MaxNicknameLength is the longest accepted nickname, in runes.
const MaxNicknameLength = 32

var (
	ErrInvalidNickname = errors.New("registry: invalid nickname")
	ErrNicknameTaken   = errors.New("registry: nickname already in use")
	ErrUnknownSession  = errors.New("registry: unknown session")
)

// Registry owns the set of connected sessions and the nickname directory.
// All methods are safe for concurrent use; the hub is still the only caller
// that mutates it so presence events observe mutations in order.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	directory map[string]*Session
	order     []string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		directory: make(map[string]*Session),
	}
}

// ValidateNickname returns the trimmed nickname or ErrInvalidNickname.
func ValidateNickname(nickname string) (string, error) {
	name := strings.TrimSpace(nickname)
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNickname)
	}
	if utf8.RuneCountInString(name) > MaxNicknameLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidNickname, MaxNicknameLength)
	}
	if strings.EqualFold(name, Broadcast) {
		return "", fmt.Errorf("%w: %q is reserved", ErrInvalidNickname, Broadcast)
	}
	for _, r := range name {
		if unicode.IsControl(r) || r == utf8.RuneError {
			return "", fmt.Errorf("%w: contains control characters", ErrInvalidNickname)
		}
	}
	return name, nil
}

// Add records a newly connected session. Adding the same session twice is a
// no-op.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
}

// Bind points nickname at s. It returns the nickname s held before the call
// (empty when it had none). Binding a name held by another session fails with
// ErrNicknameTaken; binding the name s already holds changes nothing.
func (r *Registry) Bind(s *Session, nickname string) (string, error) {
	name, err := ValidateNickname(nickname)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID()]; !ok {
		return "", ErrUnknownSession
	}

	previous, _ := s.Nickname()
	if holder, ok := r.directory[name]; ok {
		if holder == s {
			return previous, nil
		}
		return previous, fmt.Errorf("%w: %q", ErrNicknameTaken, name)
	}

	if previous != "" {
		r.unbindLocked(previous)
	}
	r.directory[name] = s
	r.order = append(r.order, name)
	s.setNickname(name)
	return previous, nil
}

// Unbind removes the directory entry of s and returns the freed nickname.
func (r *Registry) Unbind(s *Session) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nickname, ok := s.Nickname()
	if !ok || r.directory[nickname] != s {
		return "", false
	}
	r.unbindLocked(nickname)
	s.setNickname("")
	return nickname, true
}

// Remove forgets s entirely. removed is false when s was not registered, so
// a repeated disconnect is reported only once. nickname is empty for sessions
// that never bound one.
func (r *Registry) Remove(s *Session) (nickname string, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID()]; !ok {
		return "", false
	}
	delete(r.sessions, s.ID())

	if name, ok := s.Nickname(); ok && r.directory[name] == s {
		r.unbindLocked(name)
		nickname = name
	}
	return nickname, true
}

// unbindLocked drops nickname from the directory. r.mu must be held.
func (r *Registry) unbindLocked(nickname string) {
	delete(r.directory, nickname)
	for i, name := range r.order {
		if name == nickname {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// ResolveNickname returns the nickname bound to s.
func (r *Registry) ResolveNickname(s *Session) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.sessions[s.ID()]; !ok {
		return "", false
	}
	return s.Nickname()
}

// Lookup returns the session bound to nickname.
func (r *Registry) Lookup(nickname string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.directory[nickname]
	return s, ok
}

// Snapshot returns the bound nicknames in bind order.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string{}, r.order...)
}

// Sessions returns every connected session, bound or not.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Count returns the number of connected sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
