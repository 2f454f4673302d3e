package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/cuidacolitas/appcore/backend"
)

// avatarBucket is the public bucket holding profile pictures. Old objects are
// never deleted by the client; paths are timestamped to avoid collisions.
const avatarBucket = "avatars"

// UploadAsset uploads an avatar object, overwriting any object at the same
// path.
func (c *Client) UploadAsset(ctx context.Context, path string, data []byte, contentType string) error {
	endpoint := c.cfg.URL + "/storage/v1/object/" + avatarBucket + "/" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return backend.Wrap(backend.Unexpected, "build request", err)
	}
	req.Header.Set("apikey", c.cfg.AnonKey)
	req.Header.Set("Authorization", "Bearer "+c.bearerOrAnon())
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	resp, err := c.http.Do(req)
	if err != nil {
		return backend.Wrap(backend.Transient, "backend unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return mapStorageError(resp.StatusCode, raw)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// PublicURL returns the published URL for an object in the avatar bucket.
func (c *Client) PublicURL(path string) string {
	return c.cfg.URL + "/storage/v1/object/public/" + avatarBucket + "/" + path
}

func mapStorageError(status int, raw []byte) *backend.Error {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(raw, &body)
	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	if status == http.StatusRequestEntityTooLarge ||
		strings.Contains(strings.ToLower(msg), "exceeded") {
		return backend.E(backend.QuotaExceeded, msg)
	}
	return mapRestError(status, raw)
}
