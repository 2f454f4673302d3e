// Package supabase implements the backend adapter against a Supabase project:
// GoTrue for identity, PostgREST for the profiles table, Storage for avatar
// objects and Realtime for row-change pushes. The session is persisted in a
// device-local database so it survives process restarts.
package supabase

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cuidacolitas/appcore/backend"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// accessMargin is how close to expiry a token may get before it is
	// treated as stale and refreshed.
	accessMargin = 60 * time.Second

	refreshCheckInterval = 30 * time.Second
)

type Config struct {
	URL             string
	AnonKey         string
	StatePath       string
	HTTPTimeout     time.Duration
	RealtimeEnabled bool
}

// Client implements backend.Adapter. One instance per process; safe for
// concurrent use.
type Client struct {
	cfg   Config
	http  *http.Client
	store *sessionStore

	mu          sync.Mutex
	current     *backend.Session
	subscribers map[string]func(backend.SessionChange)

	// refreshMu single-flights token refreshes. Refresh tokens rotate on
	// use, so two racing refreshes would spend the same token and the loser
	// would look like a revocation.
	refreshMu sync.Mutex

	refreshDone chan struct{}
	closeOnce   sync.Once
}

var _ backend.Adapter = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" || cfg.AnonKey == "" {
		return nil, backend.E(backend.Validation, "supabase URL and anon key are required")
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 15 * time.Second
	}

	store, err := openStore(cfg.StatePath)
	if err != nil {
		return nil, backend.Wrap(backend.Unexpected, "open local state", err)
	}

	c := &Client{
		cfg:         cfg,
		http:        &http.Client{Timeout: cfg.HTTPTimeout},
		store:       store,
		subscribers: make(map[string]func(backend.SessionChange)),
		refreshDone: make(chan struct{}),
	}

	if sess, err := store.Load(); err != nil {
		slog.Warn("could not restore persisted session", "error", err)
	} else if sess != nil {
		c.current = sess
	}

	go c.refreshLoop()
	return c, nil
}

// Close stops the refresh loop and releases the local store.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.refreshDone)
		err = c.store.Close()
	})
	return err
}

// Gorm exposes the local database so ambient concerns (diagnostics logging)
// can share the same file.
func (c *Client) Gorm() *gorm.DB { return c.store.Gorm() }

// GetCurrentSession returns the persisted session, refreshing it first when
// the access token is stale. (nil, nil) means no session.
func (c *Client) GetCurrentSession(ctx context.Context) (*backend.Session, error) {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()

	if cur == nil {
		return nil, nil
	}
	if !cur.Expired(accessMargin) {
		cp := *cur
		return &cp, nil
	}

	sess, err := c.refreshStale(ctx, accessMargin)
	if err != nil {
		if backend.KindOf(err) == backend.InvalidCredentials {
			// Refresh token revoked: the session is gone.
			c.clearSession()
			return nil, nil
		}
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

// refreshStale refreshes the session under the single-flight guard. A caller
// that lost the race re-reads the session the winner installed instead of
// spending the already-rotated refresh token.
func (c *Client) refreshStale(ctx context.Context, margin time.Duration) (*backend.Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur == nil {
		return nil, nil
	}
	if !cur.Expired(margin) {
		cp := *cur
		return &cp, nil
	}
	return c.refreshNow(ctx, cur.RefreshToken)
}

// OnSessionChange registers fn for auth events. The returned subscription must
// be released by the caller; Unsubscribe is idempotent.
func (c *Client) OnSessionChange(fn func(backend.SessionChange)) backend.Subscription {
	id := uuid.NewString()
	c.mu.Lock()
	c.subscribers[id] = fn
	c.mu.Unlock()
	return &clientSubscription{c: c, id: id}
}

type clientSubscription struct {
	c    *Client
	id   string
	once sync.Once
}

func (s *clientSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.c.mu.Lock()
		delete(s.c.subscribers, s.id)
		s.c.mu.Unlock()
	})
}

// setSession persists and publishes a new session value atomically.
func (c *Client) setSession(sess *backend.Session, event backend.AuthEvent) {
	if err := c.store.Save(sess); err != nil {
		slog.Error("failed to persist session", "error", err)
	}
	c.mu.Lock()
	c.current = sess
	subs := c.snapshotSubscribersLocked()
	c.mu.Unlock()

	cp := *sess
	for _, fn := range subs {
		fn(backend.SessionChange{Event: event, Session: &cp})
	}
}

func (c *Client) clearSession() {
	if err := c.store.Clear(); err != nil {
		slog.Error("failed to clear persisted session", "error", err)
	}
	c.mu.Lock()
	c.current = nil
	subs := c.snapshotSubscribersLocked()
	c.mu.Unlock()

	for _, fn := range subs {
		fn(backend.SessionChange{Event: backend.EventSignedOut})
	}
}

func (c *Client) snapshotSubscribersLocked() []func(backend.SessionChange) {
	subs := make([]func(backend.SessionChange), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

func (c *Client) accessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.AccessToken
}

// refreshLoop keeps the access token fresh while a session exists. A
// definitive rejection of the refresh token invalidates the session and is
// pushed to subscribers; transport errors wait for the next tick.
func (c *Client) refreshLoop() {
	ticker := time.NewTicker(refreshCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			cur := c.current
			c.mu.Unlock()
			if cur == nil || !cur.Expired(2*accessMargin) {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HTTPTimeout)
			_, err := c.refreshStale(ctx, 2*accessMargin)
			cancel()
			if err == nil {
				continue
			}
			if backend.KindOf(err) == backend.InvalidCredentials {
				slog.Warn("session invalidated by backend", "error", err)
				c.clearSession()
			} else {
				slog.Warn("token refresh failed, will retry", "error", err)
			}
		case <-c.refreshDone:
			return
		}
	}
}

// do issues a request with the project headers. A missing bearer falls back to
// the anon key. Transport failures are Transient.
func (c *Client) do(ctx context.Context, method, rawURL string, body io.Reader, contentType, bearer string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, backend.Wrap(backend.Unexpected, "build request", err)
	}
	req.Header.Set("apikey", c.cfg.AnonKey)
	if bearer == "" {
		bearer = c.cfg.AnonKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, backend.Wrap(backend.Transient, "backend unreachable", err)
	}
	return resp, nil
}
