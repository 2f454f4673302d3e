// Package gate maps session state to the reachable screen graph. Protected
// routes are not mounted at all while unauthenticated, and crossing the auth
// boundary resets the navigation history so stale screens never survive a
// session change.
package gate

import (
	"errors"
	"sync"

	"github.com/cuidacolitas/appcore/backend"
	"github.com/cuidacolitas/appcore/session"
)

type Route string

const (
	// RouteLoading is the neutral indicator shown while the session manager
	// is still initializing. No navigation decisions are made on it.
	RouteLoading Route = "loading"

	RouteLanding Route = "landing"
	RouteLogin   Route = "login"

	RouteHome           Route = "home"
	RouteChangePassword Route = "change_password"
)

var (
	unauthenticatedRoutes = []Route{RouteLanding, RouteLogin}
	authenticatedRoutes   = []Route{RouteHome, RouteChangePassword}
)

var ErrUnreachable = errors.New("route not reachable in current session state")

// Gate tracks the mounted graph and a navigation stack within it.
type Gate struct {
	mgr *session.Manager

	mu         sync.Mutex
	state      session.State
	stack      []Route
	resetHooks []func()
	sub        backend.Subscription
	mounted    bool
}

func New(mgr *session.Manager) *Gate {
	return &Gate{mgr: mgr, state: session.StateInitializing}
}

// OnSignOut registers a hook that clears state held outside the session
// manager (profile, avatar preview). Hooks run atomically with the navigation
// reset on the authenticated → unauthenticated transition, so no previous
// identity's data can flash on screen. They execute with the gate lock held
// and must not call back into the gate. Register hooks before Mount.
func (g *Gate) OnSignOut(fn func()) {
	g.mu.Lock()
	g.resetHooks = append(g.resetHooks, fn)
	g.mu.Unlock()
}

// Mount acquires the session subscription and applies the current state.
// Exactly one Unmount must follow, on every exit path.
func (g *Gate) Mount() {
	g.mu.Lock()
	if g.mounted {
		g.mu.Unlock()
		return
	}
	g.mounted = true
	g.mu.Unlock()

	g.sub = g.mgr.Subscribe(g.apply)
	g.apply(g.mgr.State())
}

// Unmount releases the session subscription. Idempotent.
func (g *Gate) Unmount() {
	g.mu.Lock()
	mounted := g.mounted
	g.mounted = false
	g.mu.Unlock()
	if mounted && g.sub != nil {
		g.sub.Unsubscribe()
	}
}

func (g *Gate) apply(st session.State) {
	g.mu.Lock()
	prev := g.state
	if prev == st {
		g.mu.Unlock()
		return
	}
	g.state = st

	switch st {
	case session.StateAuthenticated:
		// Reset, not push: the unauthenticated screens drop out of history.
		g.stack = []Route{RouteHome}
	case session.StateUnauthenticated:
		if prev == session.StateAuthenticated {
			// Hooks run under the lock: clearing external state is atomic
			// with the reset, so no reader observes the new state with the
			// old stack or the old identity's data.
			for _, fn := range g.resetHooks {
				fn()
			}
		}
		g.stack = []Route{RouteLanding}
	case session.StateInitializing:
		g.stack = nil
	}
	g.mu.Unlock()
}

// MountedRoutes returns the screen set that currently exists. Protected
// screens are absent, not hidden, outside StateAuthenticated.
func (g *Gate) MountedRoutes() []Route {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case session.StateAuthenticated:
		return append([]Route(nil), authenticatedRoutes...)
	case session.StateUnauthenticated:
		return append([]Route(nil), unauthenticatedRoutes...)
	default:
		return []Route{RouteLoading}
	}
}

// Resolve clamps a requested route to what the current state allows. An
// unreachable protected route resolves into the unauthenticated graph.
func (g *Gate) Resolve(r Route) Route {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case session.StateInitializing:
		return RouteLoading
	case session.StateAuthenticated:
		if contains(authenticatedRoutes, r) {
			return r
		}
		return RouteHome
	default:
		if contains(unauthenticatedRoutes, r) {
			return r
		}
		return RouteLanding
	}
}

// Navigate pushes a route onto the stack within the mounted graph.
func (g *Gate) Navigate(r Route) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	reachable := unauthenticatedRoutes
	if g.state == session.StateAuthenticated {
		reachable = authenticatedRoutes
	}
	if g.state == session.StateInitializing || !contains(reachable, r) {
		return ErrUnreachable
	}
	g.stack = append(g.stack, r)
	return nil
}

// Back pops the stack. It never crosses the auth boundary because the stack
// is replaced, not appended, on every boundary transition.
func (g *Gate) Back() Route {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.stack) > 1 {
		g.stack = g.stack[:len(g.stack)-1]
	}
	if len(g.stack) == 0 {
		return RouteLoading
	}
	return g.stack[len(g.stack)-1]
}

// Current returns the route on top of the stack.
func (g *Gate) Current() Route {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.stack) == 0 {
		return RouteLoading
	}
	return g.stack[len(g.stack)-1]
}

func contains(routes []Route, r Route) bool {
	for _, candidate := range routes {
		if candidate == r {
			return true
		}
	}
	return false
}
