// Package profile loads and edits the authenticated identity's profile record
// and avatar asset. Every operation reports a kind-tagged failure and leaves
// prior in-memory state intact on error; nothing is retried automatically.
package profile

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cuidacolitas/appcore/backend"
	"github.com/cuidacolitas/appcore/session"
)

const minPasswordLen = 6

var (
	// ErrNotAuthenticated is returned when an operation needs a session and
	// none exists.
	ErrNotAuthenticated = backend.E(backend.InvalidCredentials, "no active session")
	// ErrBusy is returned when a save is already in flight; the caller
	// disables the triggering control instead of queueing.
	ErrBusy = backend.E(backend.Validation, "another update is in progress")
)

// ViewModel is the profile state for one mount of the home context. It is not
// reused across sessions: the gate clears it on sign-out and the shell
// discards it on unmount.
type ViewModel struct {
	adapter backend.Adapter
	mgr     *session.Manager

	mu      sync.Mutex
	profile *backend.Profile
	preview string
	saving  bool
	closed  bool
}

func NewViewModel(adapter backend.Adapter, mgr *session.Manager) *ViewModel {
	return &ViewModel{adapter: adapter, mgr: mgr}
}

// Load fetches the profile for the current identity. NotFound means the row
// was never provisioned (a sign-up trigger inconsistency); Transient means
// the fetch itself failed and may be retried.
func (vm *ViewModel) Load(ctx context.Context) (*backend.Profile, error) {
	sess := vm.mgr.Current()
	if sess == nil {
		return nil, ErrNotAuthenticated
	}

	p, err := vm.adapter.GetProfile(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.closed {
		// The view unmounted while the fetch was outstanding; do not apply
		// the result to disposed state.
		return nil, ErrNotAuthenticated
	}
	vm.profile = p
	vm.preview = p.AvatarURL
	cp := *p
	return &cp, nil
}

// Profile returns a copy of the loaded profile, nil before Load.
func (vm *ViewModel) Profile() *backend.Profile {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.profile == nil {
		return nil
	}
	cp := *vm.profile
	return &cp
}

// AvatarPreview returns the image the shell should render right now. After
// any failed upload it equals the stored avatar URL again.
func (vm *ViewModel) AvatarPreview() string {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.preview
}

// Save writes phone and location in a single update. Empty strings are valid
// and mean "unset". Local state changes only after the write succeeds, and
// then atomically.
func (vm *ViewModel) Save(ctx context.Context, phone, location string) error {
	sess := vm.mgr.Current()
	if sess == nil {
		return ErrNotAuthenticated
	}

	vm.mu.Lock()
	if vm.saving {
		vm.mu.Unlock()
		return ErrBusy
	}
	vm.saving = true
	vm.mu.Unlock()
	defer func() {
		vm.mu.Lock()
		vm.saving = false
		vm.mu.Unlock()
	}()

	patch := backend.ProfilePatch{
		Phone:    backend.String(phone),
		Location: backend.String(location),
	}
	if err := vm.adapter.UpdateProfile(ctx, sess.UserID, patch); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.closed || vm.profile == nil {
		return nil
	}
	updated := *vm.profile
	updated.Phone = phone
	updated.Location = location
	vm.profile = &updated
	return nil
}

// ChangeAvatar uploads a picked image under a fresh collision-resistant path,
// publishes its URL into the profile record, then updates local state. On any
// failure the stored avatar URL and the preview are left as they were.
func (vm *ViewModel) ChangeAvatar(ctx context.Context, image []byte, contentType string) (string, error) {
	sess := vm.mgr.Current()
	if sess == nil {
		return "", ErrNotAuthenticated
	}
	if len(image) == 0 {
		return "", backend.E(backend.Validation, "no image selected")
	}

	objectPath := fmt.Sprintf("%s_%d%s", sess.UserID, time.Now().UnixMilli(), extensionFor(contentType))

	if err := vm.adapter.UploadAsset(ctx, objectPath, image, contentType); err != nil {
		vm.revertPreview()
		return "", fmt.Errorf("upload avatar: %w", err)
	}

	publicURL := vm.adapter.PublicURL(objectPath)
	patch := backend.ProfilePatch{AvatarURL: backend.String(publicURL)}
	if err := vm.adapter.UpdateProfile(ctx, sess.UserID, patch); err != nil {
		vm.revertPreview()
		return "", fmt.Errorf("publish avatar url: %w", err)
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.closed {
		return publicURL, nil
	}
	if vm.profile != nil {
		updated := *vm.profile
		updated.AvatarURL = publicURL
		vm.profile = &updated
	}
	vm.preview = publicURL
	return publicURL, nil
}

// RemoveAvatar unsets the avatar URL remotely and locally. The storage object
// itself is left behind; the client does no object lifecycle management.
func (vm *ViewModel) RemoveAvatar(ctx context.Context) error {
	sess := vm.mgr.Current()
	if sess == nil {
		return ErrNotAuthenticated
	}

	patch := backend.ProfilePatch{AvatarURL: backend.String("")}
	if err := vm.adapter.UpdateProfile(ctx, sess.UserID, patch); err != nil {
		return fmt.Errorf("remove avatar: %w", err)
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.closed {
		return nil
	}
	if vm.profile != nil {
		updated := *vm.profile
		updated.AvatarURL = ""
		vm.profile = &updated
	}
	vm.preview = ""
	return nil
}

// ChangePassword enforces the minimum length before any adapter call; the
// backend stays the authority on anything stricter, and its rejection message
// is surfaced verbatim.
func (vm *ViewModel) ChangePassword(ctx context.Context, newPassword string) error {
	if utf8.RuneCountInString(newPassword) < minPasswordLen {
		return backend.E(backend.Validation, "password must be at least 6 characters")
	}
	if vm.mgr.Current() == nil {
		return ErrNotAuthenticated
	}
	if err := vm.adapter.UpdatePassword(ctx, newPassword); err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	return nil
}

// ApplyRemote folds a pushed row change into local state. Ignored while an
// edit is in flight so a stale realtime image cannot clobber the user's
// pending write. An empty role in the pushed image keeps the known role.
func (vm *ViewModel) ApplyRemote(p backend.Profile) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.closed || vm.saving || vm.profile == nil || vm.profile.ID != p.ID {
		return
	}
	if p.RoleName == "" {
		p.RoleName = vm.profile.RoleName
	}
	vm.profile = &p
	vm.preview = p.AvatarURL
}

// Clear drops all local profile and avatar state. Wired into the gate's
// sign-out hook.
func (vm *ViewModel) Clear() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.profile = nil
	vm.preview = ""
}

// Close marks the view-model disposed; late results of in-flight calls are
// discarded instead of mutating dead state.
func (vm *ViewModel) Close() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.closed = true
	vm.profile = nil
	vm.preview = ""
}

func (vm *ViewModel) revertPreview() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.closed {
		return
	}
	if vm.profile != nil {
		vm.preview = vm.profile.AvatarURL
	} else {
		vm.preview = ""
	}
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
