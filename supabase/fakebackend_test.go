package supabase

import (
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// fakeBackend is an in-process stand-in for the Supabase surface this client
// consumes: GoTrue token grants, the PostgREST profiles table and the avatar
// storage bucket.
type fakeBackend struct {
	t *testing.T

	mu           sync.Mutex
	email        string
	password     string
	userID       string
	refreshToken string
	minPwLen     int
	confirmOnly  bool // signup answers without a session

	profiles map[string]map[string]any
	roles    map[string]string
	uploads  map[string][]byte
	quota    bool
}

func newFakeBackend(t *testing.T) *fakeBackend {
	userID := uuid.NewString()
	return &fakeBackend{
		t:            t,
		email:        "vet@example.com",
		password:     "secret123",
		userID:       userID,
		refreshToken: uuid.NewString(),
		minPwLen:     6,
		profiles: map[string]map[string]any{
			userID: {
				"name":       "Ana Maria Perez",
				"phone":      "555",
				"location":   "Santiago",
				"avatar_url": "https://x/old.jpg",
			},
		},
		roles:   map[string]string{userID: "veterinario"},
		uploads: make(map[string][]byte),
	}
}

func (b *fakeBackend) signToken() string {
	claims := jwt.MapClaims{
		"sub": b.userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("fake-secret"))
	if err != nil {
		b.t.Fatalf("sign token: %v", err)
	}
	return raw
}

func (b *fakeBackend) tokenBody() fiber.Map {
	return fiber.Map{
		"access_token":  b.signToken(),
		"refresh_token": b.refreshToken,
		"expires_in":    3600,
		"user":          fiber.Map{"id": b.userID, "email": b.email},
	}
}

// start serves the fake backend on a loopback port and returns its base URL.
func (b *fakeBackend) start() string {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Post("/auth/v1/token", func(c *fiber.Ctx) error {
		var body map[string]string
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		switch c.Query("grant_type") {
		case "password":
			if body["email"] != b.email || body["password"] != b.password {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error_code": "invalid_credentials",
					"msg":        "Invalid login credentials",
				})
			}
			return c.JSON(b.tokenBody())
		case "refresh_token":
			if body["refresh_token"] != b.refreshToken {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error":             "invalid_grant",
					"error_description": "Invalid Refresh Token: Refresh Token Not Found",
				})
			}
			b.refreshToken = uuid.NewString()
			return c.JSON(b.tokenBody())
		}
		return c.SendStatus(fiber.StatusBadRequest)
	})

	app.Post("/auth/v1/signup", func(c *fiber.Ctx) error {
		var body struct {
			Email    string            `json:"email"`
			Password string            `json:"password"`
			Data     map[string]string `json:"data"`
		}
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if body.Email == b.email {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error_code": "user_already_exists",
				"msg":        "User already registered",
			})
		}
		if len(body.Password) < b.minPwLen {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error_code": "weak_password",
				"msg":        "Password should be at least 6 characters.",
			})
		}
		if b.confirmOnly {
			return c.JSON(fiber.Map{"id": uuid.NewString(), "email": body.Email})
		}
		return c.JSON(b.tokenBody())
	})

	app.Post("/auth/v1/logout", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Put("/auth/v1/user", func(c *fiber.Ctx) error {
		var body map[string]string
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if len(body["password"]) < b.minPwLen {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error_code": "weak_password",
				"msg":        "Password should be at least 6 characters.",
			})
		}
		b.password = body["password"]
		return c.JSON(fiber.Map{"id": b.userID, "email": b.email})
	})

	app.Get("/rest/v1/profiles", func(c *fiber.Ctx) error {
		id, ok := cutPrefix(c.Query("id"), "eq.")
		if !ok {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		row, found := b.profiles[id]
		if !found {
			return c.Status(fiber.StatusNotAcceptable).JSON(fiber.Map{
				"message": "JSON object requested, multiple (or no) rows returned",
			})
		}
		out := fiber.Map{}
		for k, v := range row {
			out[k] = v
		}
		out["roles"] = fiber.Map{"name": b.roles[id]}
		return c.JSON(out)
	})

	app.Patch("/rest/v1/profiles", func(c *fiber.Ctx) error {
		id, ok := cutPrefix(c.Query("id"), "eq.")
		if !ok {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		var fields map[string]any
		if err := json.Unmarshal(c.Body(), &fields); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid body"})
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		row, found := b.profiles[id]
		if !found {
			return c.SendStatus(fiber.StatusNoContent) // PostgREST: zero rows patched
		}
		for k, v := range fields {
			if v == nil {
				row[k] = ""
				continue
			}
			row[k] = v
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Post("/storage/v1/object/avatars/*", func(c *fiber.Ctx) error {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.quota {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"message": "The object exceeded the maximum allowed size",
			})
		}
		body := make([]byte, len(c.Body()))
		copy(body, c.Body())
		b.uploads[c.Params("*")] = body
		return c.JSON(fiber.Map{"Key": "avatars/" + c.Params("*")})
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		b.t.Fatalf("listen: %v", err)
	}
	go func() { _ = app.Listener(ln) }()
	b.t.Cleanup(func() { _ = app.Shutdown() })

	return "http://" + ln.Addr().String()
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}
	return s, false
}
