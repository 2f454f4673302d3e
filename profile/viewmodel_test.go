package profile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuidacolitas/appcore/backend"
	"github.com/cuidacolitas/appcore/session"
)

// fakeAdapter keeps a profile row in memory and applies patches the way the
// backend would, so Load after Save observes the round trip.
type fakeAdapter struct {
	mu      sync.Mutex
	session *backend.Session
	profile *backend.Profile

	getErr    error
	updateErr error
	uploadErr error
	pwErr     error

	passwordCalls []string
	uploads       []string

	updateStarted chan struct{}
	updateRelease chan struct{}
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		session: &backend.Session{AccessToken: "at", UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)},
		profile: &backend.Profile{
			ID:        "user-1",
			Name:      "Maria Lopez Garcia",
			RoleName:  "cliente",
			Phone:     "555",
			AvatarURL: "https://x/old.jpg",
		},
	}
}

func (f *fakeAdapter) GetCurrentSession(context.Context) (*backend.Session, error) {
	return f.session, nil
}

func (f *fakeAdapter) OnSessionChange(func(backend.SessionChange)) backend.Subscription {
	return noopSub{}
}

type noopSub struct{}

func (noopSub) Unsubscribe() {}

func (f *fakeAdapter) SignIn(context.Context, string, string) (*backend.Session, error) {
	return f.session, nil
}
func (f *fakeAdapter) SignUp(context.Context, string, string, string) (*backend.Session, error) {
	return nil, nil
}
func (f *fakeAdapter) SignOut(context.Context) error { return nil }

func (f *fakeAdapter) GetProfile(_ context.Context, userID string) (*backend.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.profile == nil || f.profile.ID != userID {
		return nil, backend.E(backend.NotFound, "profile not found")
	}
	cp := *f.profile
	return &cp, nil
}

func (f *fakeAdapter) UpdateProfile(_ context.Context, userID string, patch backend.ProfilePatch) error {
	if f.updateStarted != nil {
		f.updateStarted <- struct{}{}
		<-f.updateRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	if f.profile == nil || f.profile.ID != userID {
		return backend.E(backend.NotFound, "profile not found")
	}
	if patch.Phone != nil {
		f.profile.Phone = *patch.Phone
	}
	if patch.Location != nil {
		f.profile.Location = *patch.Location
	}
	if patch.AvatarURL != nil {
		f.profile.AvatarURL = *patch.AvatarURL
	}
	return nil
}

func (f *fakeAdapter) UploadAsset(_ context.Context, path string, _ []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploads = append(f.uploads, path)
	return nil
}

func (f *fakeAdapter) PublicURL(path string) string {
	return "https://x/public/" + path
}

func (f *fakeAdapter) UpdatePassword(_ context.Context, newPassword string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passwordCalls = append(f.passwordCalls, newPassword)
	return f.pwErr
}

func newAuthedVM(t *testing.T, f *fakeAdapter) *ViewModel {
	t.Helper()
	m := session.NewManager(f, time.Second)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("session start: %v", err)
	}
	if m.State() != session.StateAuthenticated {
		t.Fatalf("expected authenticated manager, got %s", m.State())
	}
	return NewViewModel(f, m)
}

func TestLoadReturnsProfile(t *testing.T) {
	f := newFakeAdapter()
	vm := newAuthedVM(t, f)

	p, err := vm.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Name != "Maria Lopez Garcia" || p.Phone != "555" {
		t.Fatalf("unexpected profile %+v", p)
	}
	if vm.AvatarPreview() != "https://x/old.jpg" {
		t.Fatalf("preview must follow the stored avatar, got %q", vm.AvatarPreview())
	}
}

func TestLoadDistinguishesNotFoundFromTransient(t *testing.T) {
	f := newFakeAdapter()
	f.profile = nil
	vm := newAuthedVM(t, f)

	_, err := vm.Load(context.Background())
	if !backend.IsKind(err, backend.NotFound) {
		t.Fatalf("missing row must be NotFound, got %v", err)
	}

	f.getErr = backend.E(backend.Transient, "backend unreachable")
	_, err = vm.Load(context.Background())
	if !backend.IsKind(err, backend.Transient) {
		t.Fatalf("network failure must be Transient, got %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	f := newFakeAdapter()
	vm := newAuthedVM(t, f)
	if _, err := vm.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := vm.Save(context.Background(), "999", "Home"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	p, err := vm.Load(context.Background())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if p.Phone != "999" || p.Location != "Home" {
		t.Fatalf("round trip lost data: %+v", p)
	}
}

func TestSaveFailureLeavesLocalStateIntact(t *testing.T) {
	f := newFakeAdapter()
	vm := newAuthedVM(t, f)
	if _, err := vm.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	f.updateErr = backend.E(backend.Transient, "backend unreachable")
	if err := vm.Save(context.Background(), "999", "Home"); err == nil {
		t.Fatal("expected save failure")
	}
	if p := vm.Profile(); p.Phone != "555" || p.Location != "" {
		t.Fatalf("failed save mutated local state: %+v", p)
	}
}

func TestSaveRejectsOverlappingCalls(t *testing.T) {
	f := newFakeAdapter()
	f.updateStarted = make(chan struct{}, 1)
	f.updateRelease = make(chan struct{})
	vm := newAuthedVM(t, f)

	done := make(chan error, 1)
	go func() { done <- vm.Save(context.Background(), "111", "A") }()
	<-f.updateStarted

	if err := vm.Save(context.Background(), "222", "B"); !backend.IsKind(err, backend.Validation) {
		t.Fatalf("expected the busy guard, got %v", err)
	}

	close(f.updateRelease)
	if err := <-done; err != nil {
		t.Fatalf("first save: %v", err)
	}
}

func TestChangeAvatarSuccessConverges(t *testing.T) {
	f := newFakeAdapter()
	vm := newAuthedVM(t, f)
	if _, err := vm.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	url, err := vm.ChangeAvatar(context.Background(), []byte{0xFF, 0xD8}, "image/jpeg")
	if err != nil {
		t.Fatalf("ChangeAvatar: %v", err)
	}
	if !strings.HasPrefix(url, "https://x/public/user-1_") || !strings.HasSuffix(url, ".jpg") {
		t.Fatalf("unexpected published url %q", url)
	}
	if vm.Profile().AvatarURL != url || vm.AvatarPreview() != url {
		t.Fatal("local profile and preview must converge on the published url")
	}
	if len(f.uploads) != 1 || !strings.HasPrefix(f.uploads[0], "user-1_") {
		t.Fatalf("unexpected upload path %v", f.uploads)
	}
}

func TestChangeAvatarFailureLeavesURLUnchanged(t *testing.T) {
	f := newFakeAdapter()
	vm := newAuthedVM(t, f)
	if _, err := vm.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	f.uploadErr = backend.E(backend.QuotaExceeded, "storage quota exceeded")
	_, err := vm.ChangeAvatar(context.Background(), []byte{1}, "image/jpeg")
	if !backend.IsKind(err, backend.QuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if vm.Profile().AvatarURL != "https://x/old.jpg" {
		t.Fatalf("stored avatar changed on failed upload: %q", vm.Profile().AvatarURL)
	}
	if vm.AvatarPreview() != "https://x/old.jpg" {
		t.Fatalf("preview must revert after a failed upload, got %q", vm.AvatarPreview())
	}
}

func TestRemoveAvatar(t *testing.T) {
	f := newFakeAdapter()
	vm := newAuthedVM(t, f)
	if _, err := vm.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := vm.RemoveAvatar(context.Background()); err != nil {
		t.Fatalf("RemoveAvatar: %v", err)
	}
	if vm.Profile().AvatarURL != "" || vm.AvatarPreview() != "" {
		t.Fatal("avatar must be unset locally")
	}
	f.mu.Lock()
	remote := f.profile.AvatarURL
	f.mu.Unlock()
	if remote != "" {
		t.Fatal("avatar must be unset remotely")
	}
}

func TestChangePasswordValidatesBeforeAdapter(t *testing.T) {
	f := newFakeAdapter()
	vm := newAuthedVM(t, f)

	err := vm.ChangePassword(context.Background(), "ab")
	if !backend.IsKind(err, backend.Validation) {
		t.Fatalf("expected local validation, got %v", err)
	}
	if len(f.passwordCalls) != 0 {
		t.Fatal("short password must never reach the adapter")
	}

	if err := vm.ChangePassword(context.Background(), "abcdef"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if len(f.passwordCalls) != 1 || f.passwordCalls[0] != "abcdef" {
		t.Fatalf("expected one forwarded call, got %v", f.passwordCalls)
	}
}

func TestChangePasswordCountsRunesNotBytes(t *testing.T) {
	f := newFakeAdapter()
	vm := newAuthedVM(t, f)

	// Five runes, ten bytes: must still fail the minimum-length check.
	err := vm.ChangePassword(context.Background(), "ñññññ")
	if !backend.IsKind(err, backend.Validation) {
		t.Fatalf("expected local validation for a 5-rune password, got %v", err)
	}
	if len(f.passwordCalls) != 0 {
		t.Fatal("short password must never reach the adapter")
	}

	if err := vm.ChangePassword(context.Background(), "ññññññ"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if len(f.passwordCalls) != 1 {
		t.Fatalf("expected one forwarded call, got %v", f.passwordCalls)
	}
}

func TestChangePasswordSurfacesAdapterRejection(t *testing.T) {
	f := newFakeAdapter()
	f.pwErr = backend.E(backend.WeakPassword, "Password should be at least 10 characters")
	vm := newAuthedVM(t, f)

	err := vm.ChangePassword(context.Background(), "abcdef")
	if !backend.IsKind(err, backend.WeakPassword) {
		t.Fatalf("expected weak password, got %v", err)
	}
	var be *backend.Error
	if !errors.As(err, &be) || be.Message != "Password should be at least 10 characters" {
		t.Fatalf("rejection reason must surface verbatim, got %v", err)
	}
}

func TestApplyRemoteIgnoredWhileSaving(t *testing.T) {
	f := newFakeAdapter()
	f.updateStarted = make(chan struct{}, 1)
	f.updateRelease = make(chan struct{})
	vm := newAuthedVM(t, f)
	if _, err := vm.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- vm.Save(context.Background(), "999", "Home") }()
	<-f.updateStarted

	vm.ApplyRemote(backend.Profile{ID: "user-1", Name: "Stale", Phone: "000"})
	if vm.Profile().Name == "Stale" {
		t.Fatal("stale remote image applied during an in-flight save")
	}

	close(f.updateRelease)
	if err := <-done; err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestApplyRemoteKeepsKnownRole(t *testing.T) {
	f := newFakeAdapter()
	vm := newAuthedVM(t, f)
	if _, err := vm.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	vm.ApplyRemote(backend.Profile{ID: "user-1", Name: "Maria Lopez Garcia", Phone: "321"})
	p := vm.Profile()
	if p.Phone != "321" {
		t.Fatal("remote update not applied")
	}
	if p.RoleName != "cliente" {
		t.Fatalf("role lost on remote apply: %q", p.RoleName)
	}
}

func TestClearAndClose(t *testing.T) {
	f := newFakeAdapter()
	vm := newAuthedVM(t, f)
	if _, err := vm.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	vm.Clear()
	if vm.Profile() != nil || vm.AvatarPreview() != "" {
		t.Fatal("Clear must drop all local state")
	}

	vm.Close()
	if _, err := vm.Load(context.Background()); err == nil {
		t.Fatal("a closed view-model must not apply results")
	}
}
