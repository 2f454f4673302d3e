package backend

import "context"

// Adapter is the capability set the app core needs from the managed backend:
// identity, row-level data and object storage. All blocking calls honor the
// context; none are retried by the adapter itself.
type Adapter interface {
	// GetCurrentSession returns the persisted session, refreshed if needed.
	// (nil, nil) means no session exists.
	GetCurrentSession(ctx context.Context) (*Session, error)

	// OnSessionChange registers a callback for session transitions. The
	// callback may fire on any goroutine.
	OnSessionChange(fn func(SessionChange)) Subscription

	SignIn(ctx context.Context, email, password string) (*Session, error)

	// SignUp returns a session when the backend signs the user in
	// immediately, or nil when confirmation is pending.
	SignUp(ctx context.Context, email, password, displayName string) (*Session, error)

	// SignOut clears the local session unconditionally; a remote revocation
	// failure is reported but never blocks the local clear.
	SignOut(ctx context.Context) error

	GetProfile(ctx context.Context, userID string) (*Profile, error)
	UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) error

	UploadAsset(ctx context.Context, path string, data []byte, contentType string) error
	PublicURL(path string) string

	UpdatePassword(ctx context.Context, newPassword string) error
}
