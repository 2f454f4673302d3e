package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/cuidacolitas/appcore/backend"
)

// profileSelect mirrors the app's original query: the role name is embedded
// through the role_id foreign key.
const profileSelect = "name,phone,location,avatar_url,roles:role_id(name)"

type profileRow struct {
	Name      string  `json:"name"`
	Phone     *string `json:"phone"`
	Location  *string `json:"location"`
	AvatarURL *string `json:"avatar_url"`
	Roles     *struct {
		Name string `json:"name"`
	} `json:"roles"`
}

// GetProfile fetches the profile row for an identity. A missing row is
// NotFound: the row is provisioned at sign-up time, so its absence signals an
// upstream inconsistency rather than a retryable failure.
func (c *Client) GetProfile(ctx context.Context, userID string) (*backend.Profile, error) {
	endpoint := c.cfg.URL + "/rest/v1/profiles?id=eq." + url.QueryEscape(userID) +
		"&select=" + url.QueryEscape(profileSelect)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backend.Wrap(backend.Unexpected, "build request", err)
	}
	req.Header.Set("apikey", c.cfg.AnonKey)
	req.Header.Set("Authorization", "Bearer "+c.bearerOrAnon())
	// Single-object response; PostgREST answers 406 when zero rows match.
	req.Header.Set("Accept", "application/vnd.pgrst.object+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, backend.Wrap(backend.Transient, "backend unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotAcceptable || resp.StatusCode == http.StatusNotFound {
		return nil, backend.E(backend.NotFound, "profile not found")
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return nil, mapRestError(resp.StatusCode, raw)
	}

	var row profileRow
	if err := json.NewDecoder(resp.Body).Decode(&row); err != nil {
		return nil, backend.Wrap(backend.Unexpected, "decode profile", err)
	}

	p := &backend.Profile{
		ID:        userID,
		Name:      row.Name,
		Phone:     deref(row.Phone),
		Location:  deref(row.Location),
		AvatarURL: deref(row.AvatarURL),
	}
	if row.Roles != nil {
		p.RoleName = row.Roles.Name
	}
	return p, nil
}

// UpdateProfile patches only the fields set on patch, in one write.
func (c *Client) UpdateProfile(ctx context.Context, userID string, patch backend.ProfilePatch) error {
	fields := make(map[string]any)
	if patch.Phone != nil {
		fields["phone"] = *patch.Phone
	}
	if patch.Location != nil {
		fields["location"] = *patch.Location
	}
	if patch.AvatarURL != nil {
		if *patch.AvatarURL == "" {
			fields["avatar_url"] = nil
		} else {
			fields["avatar_url"] = *patch.AvatarURL
		}
	}
	if len(fields) == 0 {
		return nil
	}

	body, err := json.Marshal(fields)
	if err != nil {
		return backend.Wrap(backend.Unexpected, "encode patch", err)
	}

	endpoint := c.cfg.URL + "/rest/v1/profiles?id=eq." + url.QueryEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return backend.Wrap(backend.Unexpected, "build request", err)
	}
	req.Header.Set("apikey", c.cfg.AnonKey)
	req.Header.Set("Authorization", "Bearer "+c.bearerOrAnon())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")

	resp, err := c.http.Do(req)
	if err != nil {
		return backend.Wrap(backend.Transient, "backend unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return mapRestError(resp.StatusCode, raw)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) bearerOrAnon() string {
	if token := c.accessToken(); token != "" {
		return token
	}
	return c.cfg.AnonKey
}

type restErrorBody struct {
	Message string `json:"message"`
	Details string `json:"details"`
}

func mapRestError(status int, raw []byte) *backend.Error {
	var body restErrorBody
	_ = json.Unmarshal(raw, &body)
	msg := body.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status >= 500:
		return backend.E(backend.Transient, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return backend.E(backend.InvalidCredentials, msg)
	case status == http.StatusNotFound || status == http.StatusNotAcceptable:
		return backend.E(backend.NotFound, msg)
	case status == http.StatusConflict:
		return backend.E(backend.AlreadyExists, msg)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return backend.E(backend.Validation, msg)
	default:
		return backend.E(backend.Unexpected, msg)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
