// Package scope keeps one set of managers per device.
//
// A device is identified by the id inside its device token. The first
// request for a device opens its Session Store, builds the Auth Gateway and
// the managers around it and restores the sign-in; later requests reuse the
// same Scope until it goes idle or the registry is closed.
//
// LIFECYCLE:
// Opening a scope reads the Session Store and asks the identity provider to
// verify the stored credential, so it runs outside the registry lock. The
// first request for a device inserts a pending entry and opens the scope;
// concurrent requests for the same device wait on that entry while requests
// for other devices proceed.
//
// Everything a scope holds is rebuilt from the Session Store, so evicting it
// loses nothing. A scope unused for longer than the idle TTL is closed by a
// janitor; the next request opens it again. WebSocket streams Hold their
// scope for as long as they run, which keeps it out of eviction.
//
// Sign-out revokes every credential of the account, on every device. A
// cached scope re-checks its credential on each Get, so other devices of the
// same account observe the sign-out on their next request.
package scope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinkapp/tink/internal/media"
	"github.com/tinkapp/tink/internal/repository"
	"github.com/tinkapp/tink/internal/service"
	"github.com/tinkapp/tink/internal/session"
)

// ErrClosed is returned by Get after Close.
var ErrClosed = errors.New("scope: registry closed")

// Deps are the process-wide collaborators shared by every scope.
type Deps struct {
	Users      repository.UserRepository
	Skills     repository.SkillRepository
	Categories repository.CategoryRepository
	Chats      repository.ChatRepository
	ChatFeed   repository.ChatFeed
	Provider   service.IdentityProvider
	Media      media.Host
	KV         session.KV
	Logger     *slog.Logger

	// IdleTTL is how long an unused scope stays open. Zero keeps scopes
	// until Close.
	IdleTTL time.Duration
}

// Scope is the state of one device.
type Scope struct {
	DeviceID string
	Session  *session.Store
	Auth     *service.AuthGateway
	Catalog  *service.CatalogManager
	Chats    *service.ChatManager
	Profile  *service.ProfileService

	reg *Registry

	// Guarded by reg.mu.
	lastUsed time.Time
	holds    int
}

// Hold keeps the scope open until release is called, however long it stays
// idle. release is safe to call more than once.
func (s *Scope) Hold() (release func()) {
	r := s.reg
	r.mu.Lock()
	s.holds++
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			s.holds--
			s.lastUsed = r.now()
			r.mu.Unlock()
		})
	}
}

// entry is a scope that is open or being opened. ready is closed once scope
// or err is set.
type entry struct {
	ready chan struct{}
	scope *Scope
	err   error
}

// Registry maps device ids to scopes.
type Registry struct {
	deps Deps
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	stop    chan struct{}
	stopped chan struct{}
}

// NewRegistry creates an empty registry. With a positive IdleTTL it also
// starts the janitor that evicts idle scopes.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{
		deps:    deps,
		now:     time.Now,
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if deps.IdleTTL > 0 {
		go r.janitor(deps.IdleTTL / 2)
	} else {
		close(r.stopped)
	}
	return r
}

// Namespace is the Session Store namespace of a device.
func Namespace(deviceID string) string {
	return "device/" + deviceID
}

// Get returns the scope of deviceID, opening it on first use. A cached scope
// re-checks its credential first.
func (r *Registry) Get(ctx context.Context, deviceID string) (*Scope, error) {
	if deviceID == "" {
		return nil, errors.New("scope: empty device id")
	}

	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrClosed
		}

		e, ok := r.entries[deviceID]
		if !ok {
			e = &entry{ready: make(chan struct{})}
			r.entries[deviceID] = e
			r.mu.Unlock()
			return r.openEntry(ctx, deviceID, e)
		}
		r.mu.Unlock()

		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, e.err
		}

		r.mu.Lock()
		if r.entries[deviceID] != e {
			// Evicted while we waited.
			r.mu.Unlock()
			continue
		}
		e.scope.lastUsed = r.now()
		r.mu.Unlock()

		if err := e.scope.Auth.Refresh(ctx); err != nil {
			r.deps.Logger.Warn("refreshing device credential failed",
				slog.String("deviceID", deviceID),
				slog.String("error", err.Error()),
			)
		}
		return e.scope, nil
	}
}

// openEntry opens the scope for a pending entry and publishes the result to
// everyone waiting on it.
func (r *Registry) openEntry(ctx context.Context, deviceID string, e *entry) (*Scope, error) {
	// Waiters share the result, so one caller giving up must not fail them.
	s, err := r.open(context.WithoutCancel(ctx), deviceID)

	r.mu.Lock()
	defer r.mu.Unlock()
	defer close(e.ready)

	if err != nil {
		e.err = err
		if r.entries[deviceID] == e {
			delete(r.entries, deviceID)
		}
		return nil, err
	}

	s.lastUsed = r.now()
	e.scope = s
	if r.closed {
		// Close is waiting on ready and closes the scope.
		return nil, ErrClosed
	}
	r.deps.Logger.Debug("device scope opened", slog.String("deviceID", deviceID))
	return s, nil
}

// Len returns the number of open scopes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep closes every scope that has been idle for longer than IdleTTL and
// is not held. It returns the number of scopes closed.
func (r *Registry) Sweep() int {
	ttl := r.deps.IdleTTL
	if ttl <= 0 {
		return 0
	}

	r.mu.Lock()
	now := r.now()
	var idle []*Scope
	for id, e := range r.entries {
		select {
		case <-e.ready:
		default:
			continue
		}
		s := e.scope
		if s == nil || s.holds > 0 || now.Sub(s.lastUsed) < ttl {
			continue
		}
		delete(r.entries, id)
		idle = append(idle, s)
	}
	r.mu.Unlock()

	for _, s := range idle {
		s.close()
		r.deps.Logger.Debug("idle device scope closed", slog.String("deviceID", s.DeviceID))
	}
	return len(idle)
}

// Close stops the janitor and closes every scope. Get fails afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entries := r.entries
	r.entries = map[string]*entry{}
	r.mu.Unlock()

	close(r.stop)
	<-r.stopped

	for _, e := range entries {
		<-e.ready
		if e.scope != nil {
			e.scope.close()
		}
	}
}

func (r *Registry) janitor(every time.Duration) {
	defer close(r.stopped)
	if every < time.Second {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.deps.Logger.Info("idle device scopes evicted", slog.Int("count", n))
			}
		}
	}
}

func (r *Registry) open(ctx context.Context, deviceID string) (*Scope, error) {
	d := r.deps
	logger := d.Logger.With(slog.String("deviceID", deviceID))

	store, err := session.Open(ctx, d.KV, Namespace(deviceID))
	if err != nil {
		return nil, fmt.Errorf("scope: opening session of %s: %w", deviceID, err)
	}

	gateway := service.NewAuthGateway(d.Provider, d.Users, d.Media, store, logger)
	catalog := service.NewCatalogManager(d.Skills, d.Categories, store, logger)
	chats := service.NewChatManager(d.Chats, d.ChatFeed, store, logger)

	// Per-user state goes the moment the session user does, before the
	// gateway publishes the new AuthState or answers the request.
	gateway.OnUserChange(func() {
		chats.StopAll()
		catalog.Reset()
	})

	s := &Scope{
		DeviceID: deviceID,
		Session:  store,
		Auth:     gateway,
		Catalog:  catalog,
		Chats:    chats,
		Profile:  service.NewProfileService(d.Users, d.Skills, d.Media, store, catalog, gateway, logger),
		reg:      r,
	}

	if err := gateway.Start(ctx); err != nil {
		gateway.Close()
		store.Close()
		return nil, fmt.Errorf("scope: restoring sign-in of %s: %w", deviceID, err)
	}
	return s, nil
}

func (s *Scope) close() {
	s.Chats.Close()
	s.Auth.Close()
	s.Session.Close()
}
