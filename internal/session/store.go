// Package session implements the Session Store: the durable local record of
// the user signed in on one device, plus that device's preferences.
//
// The store holds at most one user. Its absence is the "signed out" signal
// every manager gates on, so set operations persist before they return and
// before the in-memory copy changes: a caller that sees SetUser succeed can
// rely on the value surviving a restart.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/tinkapp/tink/internal/model"
	"github.com/tinkapp/tink/internal/realtime"
)

// KV is the durable key-value storage underneath a Store.
//
// Get reports found=false (and a nil error) for a missing key.
type KV interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Keys under the store's namespace.
const (
	keyUser     = "user"
	keyDarkMode = "dark_mode"
	keyToken    = "token"
)

// ErrCorrupt is returned by Open when a persisted value cannot be decoded.
var ErrCorrupt = errors.New("session: corrupt persisted value")

// Change describes what a Set call modified.
type Change struct {
	User     *model.User
	DarkMode bool
	SignedIn bool
}

// Store is the Session Store of one device.
type Store struct {
	kv        KV
	namespace string

	mu       sync.RWMutex
	user     *model.User
	darkMode bool
	token    string

	changes *realtime.Feed[Change]
}

// Open loads the persisted session under namespace (one namespace per
// device). A value that fails to decode is reported as ErrCorrupt instead
// of being silently discarded.
func Open(ctx context.Context, kv KV, namespace string) (*Store, error) {
	s := &Store{
		kv:        kv,
		namespace: namespace,
		changes:   realtime.NewFeed[Change](),
	}

	if raw, ok, err := kv.Get(ctx, s.key(keyUser)); err != nil {
		return nil, fmt.Errorf("session: loading user: %w", err)
	} else if ok {
		var u model.User
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, fmt.Errorf("%w: user: %v", ErrCorrupt, err)
		}
		s.user = &u
	}

	if raw, ok, err := kv.Get(ctx, s.key(keyDarkMode)); err != nil {
		return nil, fmt.Errorf("session: loading dark mode: %w", err)
	} else if ok {
		if err := json.Unmarshal(raw, &s.darkMode); err != nil {
			return nil, fmt.Errorf("%w: dark mode: %v", ErrCorrupt, err)
		}
	}

	if raw, ok, err := kv.Get(ctx, s.key(keyToken)); err != nil {
		return nil, fmt.Errorf("session: loading token: %w", err)
	} else if ok {
		s.token = string(raw)
	}

	return s, nil
}

// Namespace returns the key prefix this store persists under.
func (s *Store) Namespace() string {
	return s.namespace
}

// User returns a copy of the signed-in user. ok is false when nobody is
// signed in on this device.
func (s *Store) User() (user model.User, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return model.User{}, false
	}
	return *s.user, true
}

// SetUser persists u as the current user. A nil u clears the session.
func (s *Store) SetUser(ctx context.Context, u *model.User) error {
	if u == nil {
		if err := s.kv.Delete(ctx, s.key(keyUser)); err != nil {
			return fmt.Errorf("session: clearing user: %w", err)
		}
	} else {
		raw, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("session: encoding user: %w", err)
		}
		if err := s.kv.Put(ctx, s.key(keyUser), raw); err != nil {
			return fmt.Errorf("session: saving user: %w", err)
		}
	}

	s.mu.Lock()
	if u == nil {
		s.user = nil
	} else {
		copied := *u
		s.user = &copied
	}
	change := s.snapshotLocked()
	s.mu.Unlock()

	s.changes.Publish(change)
	return nil
}

// DarkMode returns the device's dark-mode preference.
func (s *Store) DarkMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.darkMode
}

// SetDarkMode persists the dark-mode preference.
func (s *Store) SetDarkMode(ctx context.Context, on bool) error {
	raw, _ := json.Marshal(on)
	if err := s.kv.Put(ctx, s.key(keyDarkMode), raw); err != nil {
		return fmt.Errorf("session: saving dark mode: %w", err)
	}

	s.mu.Lock()
	s.darkMode = on
	change := s.snapshotLocked()
	s.mu.Unlock()

	s.changes.Publish(change)
	return nil
}

// Token returns the identity provider credential kept for this device.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken persists the identity provider credential. An empty token
// removes it.
func (s *Store) SetToken(ctx context.Context, token string) error {
	var err error
	if token == "" {
		err = s.kv.Delete(ctx, s.key(keyToken))
	} else {
		err = s.kv.Put(ctx, s.key(keyToken), []byte(token))
	}
	if err != nil {
		return fmt.Errorf("session: saving token: %w", err)
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

// Subscribe returns a handle that receives a Change after every successful
// SetUser or SetDarkMode.
func (s *Store) Subscribe() *realtime.Subscription[Change] {
	return s.changes.Subscribe()
}

// Close stops every change subscription.
func (s *Store) Close() {
	s.changes.Close()
}

func (s *Store) key(name string) string {
	return s.namespace + "/" + name
}

func (s *Store) snapshotLocked() Change {
	c := Change{DarkMode: s.darkMode, SignedIn: s.user != nil}
	if s.user != nil {
		copied := *s.user
		c.User = &copied
	}
	return c
}
