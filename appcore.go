// Package appcore is the headless core of the CuidaColitas mobile app:
// session lifecycle, gated navigation and profile editing against a Supabase
// project. A mobile shell embeds an App and renders the state it exposes.
//
//	app, err := appcore.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Close()
//
//	if err := app.Start(ctx); err != nil {
//	    // surface a banner; the app still resolves to the login flow
//	}
//	switch app.Gate().Current() { ... }
package appcore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/cuidacolitas/appcore/backend"
	"github.com/cuidacolitas/appcore/dashboard"
	"github.com/cuidacolitas/appcore/gate"
	"github.com/cuidacolitas/appcore/internal/config"
	"github.com/cuidacolitas/appcore/internal/logging"
	"github.com/cuidacolitas/appcore/profile"
	"github.com/cuidacolitas/appcore/session"
	"github.com/cuidacolitas/appcore/supabase"
)

// Options overrides the environment-driven configuration.
type Options struct {
	SupabaseURL        string
	SupabaseAnonKey    string
	StatePath          string
	HTTPTimeout        time.Duration
	SessionInitTimeout time.Duration
	RealtimeEnabled    bool
	SentryDSN          string
	Environment        string
}

// App owns one wired instance of the core. Create with New, run with Start,
// release with Close.
type App struct {
	cfg      *config.Config
	adapter  *supabase.Client
	sessions *session.Manager
	nav      *gate.Gate
	prof     *profile.ViewModel

	storeHandler *logging.StoreHandler
	cleanupDone  chan struct{}

	mu          sync.Mutex
	realtimeSub backend.Subscription
	stateSub    backend.Subscription
	closeOnce   sync.Once
}

// New builds an App from environment configuration (SUPABASE_URL,
// SUPABASE_ANON_KEY, APPCORE_STATE_PATH, ...).
func New() (*App, error) {
	return newApp(config.Load())
}

// NewWithOptions builds an App from explicit options; unset fields keep the
// environment defaults.
func NewWithOptions(opts Options) (*App, error) {
	cfg := config.Load()
	if opts.SupabaseURL != "" {
		cfg.SupabaseURL = opts.SupabaseURL
	}
	if opts.SupabaseAnonKey != "" {
		cfg.SupabaseAnonKey = opts.SupabaseAnonKey
	}
	if opts.StatePath != "" {
		cfg.StatePath = opts.StatePath
	}
	if opts.HTTPTimeout > 0 {
		cfg.HTTPTimeout = opts.HTTPTimeout
	}
	if opts.SessionInitTimeout > 0 {
		cfg.SessionInitTimeout = opts.SessionInitTimeout
	}
	if opts.SentryDSN != "" {
		cfg.SentryDSN = opts.SentryDSN
	}
	if opts.Environment != "" {
		cfg.Environment = opts.Environment
	}
	cfg.RealtimeEnabled = opts.RealtimeEnabled
	return newApp(cfg)
}

func newApp(cfg *config.Config) (*App, error) {
	adapter, err := supabase.New(supabase.Config{
		URL:             cfg.SupabaseURL,
		AnonKey:         cfg.SupabaseAnonKey,
		StatePath:       cfg.StatePath,
		HTTPTimeout:     cfg.HTTPTimeout,
		RealtimeEnabled: cfg.RealtimeEnabled,
	})
	if err != nil {
		return nil, err
	}

	extra := []slog.Handler{}
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			extra = append(extra, logging.NewSentryHandler())
		}
	}

	storeHandler, err := logging.NewStoreHandler(adapter.Gorm())
	if err != nil {
		slog.Warn("diagnostics log sink unavailable", "error", err)
	} else {
		extra = append(extra, storeHandler)
	}
	logging.Setup(extra...)

	cleanupDone := make(chan struct{})
	logging.StartCleanup(adapter.Gorm(), cleanupDone)

	sessions := session.NewManager(adapter, cfg.SessionInitTimeout)
	nav := gate.New(sessions)
	prof := profile.NewViewModel(adapter, sessions)

	// Sign-out clears profile/avatar state atomically with the navigation reset.
	nav.OnSignOut(prof.Clear)

	return &App{
		cfg:          cfg,
		adapter:      adapter,
		sessions:     sessions,
		nav:          nav,
		prof:         prof,
		storeHandler: storeHandler,
		cleanupDone:  cleanupDone,
	}, nil
}

// Start mounts the gate and runs session initialization. The returned error
// is the startup query failure, if any; the app is usable either way because
// initialization fails open to the unauthenticated graph.
func (a *App) Start(ctx context.Context) error {
	a.nav.Mount()
	err := a.sessions.Start(ctx)

	if a.cfg.RealtimeEnabled {
		a.stateSub = a.sessions.Subscribe(a.onSessionState)
		a.onSessionState(a.sessions.State())
	}
	return err
}

// onSessionState starts the realtime profile channel while authenticated and
// tears it down otherwise. Realtime is advisory; failures only log.
func (a *App) onSessionState(st session.State) {
	a.mu.Lock()
	sub := a.realtimeSub
	a.realtimeSub = nil
	a.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}

	if st != session.StateAuthenticated {
		return
	}
	sess := a.sessions.Current()
	if sess == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTPTimeout)
	defer cancel()
	newSub, err := a.adapter.SubscribeProfileChanges(ctx, sess.UserID, a.prof.ApplyRemote)
	if err != nil {
		slog.Warn("realtime profile channel unavailable", "error", err)
		return
	}
	a.mu.Lock()
	a.realtimeSub = newSub
	a.mu.Unlock()
}

// Sessions exposes the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Gate exposes the navigation gate.
func (a *App) Gate() *gate.Gate { return a.nav }

// Profile exposes the profile view-model.
func (a *App) Profile() *profile.ViewModel { return a.prof }

// Home returns the dashboard content for the loaded profile; the client view
// when no profile (or no recognizable role) is loaded.
func (a *App) Home() dashboard.View {
	p := a.prof.Profile()
	if p == nil {
		return dashboard.ForRole(dashboard.RoleClient)
	}
	return dashboard.ForRole(dashboard.ParseRole(p.RoleName))
}

// Close releases every long-lived resource: subscriptions, refresh loop,
// local store, log sink. Safe to call on every exit path.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		rtSub := a.realtimeSub
		stateSub := a.stateSub
		a.realtimeSub = nil
		a.stateSub = nil
		a.mu.Unlock()

		if rtSub != nil {
			rtSub.Unsubscribe()
		}
		if stateSub != nil {
			stateSub.Unsubscribe()
		}

		a.prof.Close()
		a.nav.Unmount()
		a.sessions.Close()

		if a.storeHandler != nil {
			a.storeHandler.Stop()
		}
		close(a.cleanupDone)

		if err := a.adapter.Close(); err != nil {
			slog.Error("adapter close failed", "error", err)
		}
		if a.cfg.SentryDSN != "" {
			sentry.Flush(2 * time.Second)
		}
	})
}
