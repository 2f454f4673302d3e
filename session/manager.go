// Package session owns the single source of truth for whether a caller is
// authenticated. All auth mutations funnel through the adapter; the manager
// derives its state from adapter events and fans transitions out to
// subscribers (the gate, primarily).
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cuidacolitas/appcore/backend"
)

type State int

const (
	StateInitializing State = iota
	StateUnauthenticated
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("session manager already started")

// Manager is the session state machine. It starts in StateInitializing and
// never terminates; Close only releases the adapter subscription.
type Manager struct {
	adapter     backend.Adapter
	initTimeout time.Duration

	mu          sync.Mutex
	state       State
	current     *backend.Session
	started     bool
	eventSeen   bool
	sub         backend.Subscription
	subscribers map[int]func(State)
	nextSubID   int
}

func NewManager(adapter backend.Adapter, initTimeout time.Duration) *Manager {
	if initTimeout <= 0 {
		initTimeout = 8 * time.Second
	}
	return &Manager{
		adapter:     adapter,
		initTimeout: initTimeout,
		state:       StateInitializing,
		subscribers: make(map[int]func(State)),
	}
}

// Start subscribes to adapter events and runs the bounded startup query. The
// subscription is live before the query resolves, so an event racing the
// query is never lost: whichever status is observed last wins, and a pushed
// event always beats the startup snapshot it raced with. Start always leaves
// StateInitializing; a failed query fails open to StateUnauthenticated and
// returns the error so the caller can surface a notice.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	m.sub = m.adapter.OnSessionChange(m.handleEvent)

	queryCtx, cancel := context.WithTimeout(ctx, m.initTimeout)
	defer cancel()
	sess, err := m.adapter.GetCurrentSession(queryCtx)

	m.mu.Lock()
	if m.eventSeen {
		// An adapter push already decided the state; the startup snapshot
		// is stale by definition.
		m.mu.Unlock()
		return nil
	}
	var next State
	if err == nil && sess != nil {
		next = StateAuthenticated
		m.current = sess
	} else {
		next = StateUnauthenticated
		m.current = nil
	}
	changed := m.state != next
	m.state = next
	subs := m.snapshotSubscribersLocked()
	m.mu.Unlock()

	if changed {
		notify(subs, next)
	}
	if err != nil {
		slog.Error("session startup query failed", "error", err)
		return err
	}
	return nil
}

func (m *Manager) handleEvent(ch backend.SessionChange) {
	var next State
	switch ch.Event {
	case backend.EventSignedOut:
		next = StateUnauthenticated
	case backend.EventSignedIn, backend.EventTokenRefreshed:
		next = StateAuthenticated
	default:
		return
	}

	m.mu.Lock()
	m.eventSeen = true
	m.current = ch.Session
	changed := m.state != next
	m.state = next
	subs := m.snapshotSubscribersLocked()
	m.mu.Unlock()

	if changed {
		notify(subs, next)
	}
}

// State returns the current machine state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns a copy of the session, nil while not authenticated.
func (m *Manager) Current() *backend.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	cp := *m.current
	return &cp
}

// Subscribe registers fn for state transitions. The handle must be released
// on every teardown path of the subscriber.
func (m *Manager) Subscribe(fn func(State)) backend.Subscription {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	m.mu.Unlock()
	return &managerSubscription{m: m, id: id}
}

type managerSubscription struct {
	m    *Manager
	id   int
	once sync.Once
}

func (s *managerSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.m.mu.Lock()
		delete(s.m.subscribers, s.id)
		s.m.mu.Unlock()
	})
}

// SignIn authenticates through the adapter. The state transition arrives via
// the adapter's push event, not here.
func (m *Manager) SignIn(ctx context.Context, email, password string) error {
	_, err := m.adapter.SignIn(ctx, email, password)
	return err
}

// SignUp registers a new account. Pending reports whether the account needs
// confirmation before it can sign in (no immediate session).
func (m *Manager) SignUp(ctx context.Context, email, password, displayName string) (pending bool, err error) {
	sess, err := m.adapter.SignUp(ctx, email, password, displayName)
	if err != nil {
		return false, err
	}
	return sess == nil, nil
}

// SignOut clears the session through the adapter.
func (m *Manager) SignOut(ctx context.Context) error {
	return m.adapter.SignOut(ctx)
}

// Close releases the adapter subscription. Safe to call more than once.
func (m *Manager) Close() {
	if m.sub != nil {
		m.sub.Unsubscribe()
	}
}

func (m *Manager) snapshotSubscribersLocked() []func(State) {
	subs := make([]func(State), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(State), st State) {
	for _, fn := range subs {
		fn(st)
	}
}
