package backend

import "time"

// Session is proof of authentication issued by the identity service. The token
// strings are opaque to everything outside the adapter.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token is past its expiry, with a small
// margin so a token about to lapse is not handed to a request.
func (s *Session) Expired(margin time.Duration) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(margin).After(s.ExpiresAt)
}

// Profile is the application-level record tied 1:1 to an identity.
// RoleName is assigned server-side at account creation and read-only here.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	RoleName  string `json:"role_name"`
	Phone     string `json:"phone"`
	Location  string `json:"location"`
	AvatarURL string `json:"avatar_url"`
}

// ProfilePatch carries a partial profile update. Nil fields are left untouched;
// a pointer to the empty string unsets the column.
type ProfilePatch struct {
	Phone     *string
	Location  *string
	AvatarURL *string
}

// AuthEvent identifies why a session changed.
type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
)

// SessionChange is pushed to OnSessionChange subscribers. Session is nil for
// EventSignedOut.
type SessionChange struct {
	Event   AuthEvent
	Session *Session
}

// Subscription is a scoped registration. Unsubscribe is idempotent and must be
// called on every teardown path of the subscriber.
type Subscription interface {
	Unsubscribe()
}

// String pointers a string for use in a ProfilePatch.
func String(s string) *string { return &s }
