// Package auth holds the bearer credential used for the remote hike store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/trailog/recorder/internal/kv"
)

// DefaultKey is the storage key of the bearer token.
const DefaultKey = "authToken"

// ErrNotAuthenticated is returned when no credential is stored.
var ErrNotAuthenticated = errors.New("not authenticated")

// Provider supplies the current bearer token; an empty token means none.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Static is a fixed Provider.
type Static string

// Token returns the fixed token.
func (s Static) Token(context.Context) (string, error) {
	return string(s), nil
}

// Store keeps the token in a kv.Store and notifies listeners when it changes.
type Store struct {
	store kv.Store
	key   string

	mu        sync.Mutex
	listeners []func(token string)
}

// NewStore creates a credential store. An empty key uses DefaultKey.
func NewStore(store kv.Store, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{store: store, key: key}
}

// Token returns the stored token, or "" when none is stored.
func (s *Store) Token(ctx context.Context) (string, error) {
	v, err := s.store.Get(ctx, s.key)
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return string(v), nil
}

// Save stores token and notifies listeners.
func (s *Store) Save(ctx context.Context, token string) error {
	if token == "" {
		return s.Clear(ctx)
	}
	if err := s.store.Set(ctx, s.key, []byte(token)); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	s.notify(token)
	return nil
}

// Clear removes the token (sign out) and notifies listeners with "".
func (s *Store) Clear(ctx context.Context) error {
	if err := s.store.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	s.notify("")
	return nil
}

// OnChange registers fn to be called after every Save or Clear.
func (s *Store) OnChange(fn func(token string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) notify(token string) {
	s.mu.Lock()
	listeners := append([]func(string){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(token)
	}
}

// UserID returns the user id carried by the stored token.
func (s *Store) UserID(ctx context.Context) (string, error) {
	token, err := s.Token(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrNotAuthenticated
	}
	return UserIDFromToken(token)
}

// UserIDFromToken decodes the userId claim (falling back to sub) without
// verifying the signature. Verification is the server's job.
func UserIDFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("failed to decode token: %w", err)
	}
	return UserIDFromClaims(claims)
}

// UserIDFromClaims extracts the user id from decoded claims.
func UserIDFromClaims(claims jwt.MapClaims) (string, error) {
	switch v := claims["userId"].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return fmt.Sprintf("%.0f", v), nil
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	return "", errors.New("token carries no user id")
}
