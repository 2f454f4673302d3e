package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuidacolitas/appcore/backend"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// session builds a backend.Session from the token grant. The JWT claims are
// authoritative for expiry and subject when present.
func (tr *tokenResponse) session() *backend.Session {
	s := &backend.Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		UserID:       tr.User.ID,
		Email:        tr.User.Email,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}
	if exp, sub, err := tokenClaims(tr.AccessToken); err == nil {
		if !exp.IsZero() {
			s.ExpiresAt = exp
		}
		if s.UserID == "" {
			s.UserID = sub
		}
	}
	return s
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*backend.Session, error) {
	var tr tokenResponse
	err := c.authJSON(ctx, http.MethodPost,
		"/auth/v1/token?grant_type=password",
		map[string]string{"email": email, "password": password},
		"", &tr)
	if err != nil {
		return nil, err
	}
	sess := tr.session()
	c.setSession(sess, backend.EventSignedIn)
	cp := *sess
	return &cp, nil
}

// SignUp registers a new account. The profile row and its default role are
// provisioned server-side by a database trigger; nothing to do here. When the
// project requires email confirmation, no session is returned.
func (c *Client) SignUp(ctx context.Context, email, password, displayName string) (*backend.Session, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
		"data":     map[string]string{"name": displayName},
	}
	var tr tokenResponse
	if err := c.authJSON(ctx, http.MethodPost, "/auth/v1/signup", body, "", &tr); err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, nil
	}
	sess := tr.session()
	c.setSession(sess, backend.EventSignedIn)
	cp := *sess
	return &cp, nil
}

// SignOut revokes the session remotely on a best-effort basis; the local
// session is cleared and the sign-out event published regardless, so the app
// never stays authenticated against a token the user asked to drop.
func (c *Client) SignOut(ctx context.Context) error {
	token := c.accessToken()
	if token != "" {
		if err := c.authJSON(ctx, http.MethodPost, "/auth/v1/logout", nil, token, nil); err != nil {
			slog.Warn("remote sign-out failed, clearing local session anyway", "error", err)
		}
	}
	c.clearSession()
	return nil
}

func (c *Client) UpdatePassword(ctx context.Context, newPassword string) error {
	token := c.accessToken()
	if token == "" {
		return backend.E(backend.InvalidCredentials, "no active session")
	}
	return c.authJSON(ctx, http.MethodPut, "/auth/v1/user",
		map[string]string{"password": newPassword}, token, nil)
}

func (c *Client) refreshNow(ctx context.Context, refreshToken string) (*backend.Session, error) {
	var tr tokenResponse
	err := c.authJSON(ctx, http.MethodPost,
		"/auth/v1/token?grant_type=refresh_token",
		map[string]string{"refresh_token": refreshToken},
		"", &tr)
	if err != nil {
		return nil, err
	}
	sess := tr.session()
	c.setSession(sess, backend.EventTokenRefreshed)
	return sess, nil
}

// authJSON issues a GoTrue request and decodes the response into out when the
// call succeeds. Error bodies are mapped onto the taxonomy.
func (c *Client) authJSON(ctx context.Context, method, path string, body any, bearer string, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return backend.Wrap(backend.Unexpected, "encode request", err)
		}
		reader = bytes.NewReader(b)
	}
	resp, err := c.do(ctx, method, c.cfg.URL+path, reader, "application/json", bearer)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return mapAuthError(resp.StatusCode, raw)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backend.Wrap(backend.Unexpected, "decode auth response", err)
	}
	return nil
}

type authErrorBody struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	ErrorField       string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}

func (b authErrorBody) message(status int) string {
	for _, m := range []string{b.Msg, b.ErrorDescription, b.Message, b.ErrorField} {
		if m != "" {
			return m
		}
	}
	return http.StatusText(status)
}

// mapAuthError translates a GoTrue failure into the taxonomy. The message is
// kept verbatim so business-rule rejections surface unchanged.
func mapAuthError(status int, raw []byte) *backend.Error {
	var body authErrorBody
	_ = json.Unmarshal(raw, &body)
	msg := body.message(status)
	lower := strings.ToLower(msg)

	switch {
	case status >= 500:
		return backend.E(backend.Transient, msg)
	case status == http.StatusTooManyRequests:
		return backend.E(backend.Transient, msg)
	case body.ErrorCode == "weak_password" || strings.Contains(lower, "password should be at least"):
		return backend.E(backend.WeakPassword, msg)
	case body.ErrorCode == "user_already_exists" || strings.Contains(lower, "already registered"):
		return backend.E(backend.AlreadyExists, msg)
	case body.ErrorCode == "invalid_credentials" || body.ErrorField == "invalid_grant":
		return backend.E(backend.InvalidCredentials, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return backend.E(backend.InvalidCredentials, msg)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return backend.E(backend.Validation, msg)
	default:
		return backend.E(backend.Unexpected, msg)
	}
}
