// Package auth is the credential gate consulted before a session may claim a
// nickname in the authenticated mode. Passwords are stored as bcrypt hashes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/relaychat/internal/registry"
)

// MaxPasswordLength is bcrypt's input limit.
const MaxPasswordLength = 72

var (
	ErrDuplicateUsername  = errors.New("auth: username already registered")
	ErrInvalidUsername    = errors.New("auth: invalid username")
	ErrInvalidPassword    = errors.New("auth: invalid password")
	ErrInvalidCredentials = errors.New("auth: invalid username or password")
	ErrUnknownUser        = errors.New("auth: unknown user")
)

// Gate registers and verifies users against a Store.
type Gate struct {
	store Store
	cost  int
	dummy []byte
}

// NewGate returns a gate hashing with the given bcrypt cost. Out of range
// costs fall back to bcrypt.DefaultCost.
func NewGate(store Store, cost int) (*Gate, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("relaychat-unknown-user"), cost)
	if err != nil {
		return nil, fmt.Errorf("auth: prepare gate: %w", err)
	}
	return &Gate{store: store, cost: cost, dummy: dummy}, nil
}

// Register creates a user. Usernames follow nickname rules since a login
// binds the username as the session's nickname.
func (g *Gate) Register(ctx context.Context, username, password string) error {
	name, err := registry.ValidateNickname(username)
	if err != nil || name != username {
		return ErrInvalidUsername
	}
	if password == "" || len(password) > MaxPasswordLength {
		return ErrInvalidPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), g.cost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	if err := g.store.CreateUser(ctx, username, hash); err != nil {
		return err
	}
	slog.Info("user registered", "username", username)
	return nil
}

// Login verifies a username and password. Unknown users and wrong passwords
// both yield ErrInvalidCredentials.
func (g *Gate) Login(ctx context.Context, username, password string) error {
	hash, err := g.store.PasswordHash(ctx, username)
	if errors.Is(err, ErrUnknownUser) {
		_ = bcrypt.CompareHashAndPassword(g.dummy, []byte(password))
		return ErrInvalidCredentials
	}
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Close closes the underlying store.
func (g *Gate) Close() error {
	return g.store.Close()
}
