package supabase

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuidacolitas/appcore/backend"
	"github.com/gorilla/websocket"
)

const heartbeatInterval = 25 * time.Second

// phoenixMessage is the realtime wire envelope.
type phoenixMessage struct {
	Topic   string `json:"topic"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	Ref     string `json:"ref"`
}

type phoenixInbound struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// changeRecord is the row image carried by a postgres_changes event. The
// embedded role name is not part of the row, so RoleName stays empty and the
// consumer keeps its previous value.
type changeRecord struct {
	Data struct {
		Record struct {
			ID        string  `json:"id"`
			Name      string  `json:"name"`
			Phone     *string `json:"phone"`
			Location  *string `json:"location"`
			AvatarURL *string `json:"avatar_url"`
		} `json:"record"`
	} `json:"data"`
}

type realtimeSubscription struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	once   sync.Once
}

func (s *realtimeSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		s.conn.Close()
	})
}

// SubscribeProfileChanges opens a realtime channel on the caller's profiles
// row and invokes fn for every update. The channel is advisory: any failure
// tears it down quietly and never touches session state.
func (c *Client) SubscribeProfileChanges(ctx context.Context, userID string, fn func(backend.Profile)) (backend.Subscription, error) {
	wsURL := strings.Replace(c.cfg.URL, "http", "ws", 1) +
		"/realtime/v1/websocket?apikey=" + c.cfg.AnonKey + "&vsn=1.0.0"

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, backend.Wrap(backend.Transient, "realtime dial failed", err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	topic := "realtime:profile:" + userID
	join := phoenixMessage{
		Topic: topic,
		Event: "phx_join",
		Ref:   "1",
		Payload: map[string]any{
			"access_token": c.bearerOrAnon(),
			"config": map[string]any{
				"postgres_changes": []map[string]any{{
					"event":  "UPDATE",
					"schema": "public",
					"table":  "profiles",
					"filter": "id=eq." + userID,
				}},
			},
		},
	}
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return nil, backend.Wrap(backend.Transient, "realtime join failed", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	sub := &realtimeSubscription{conn: conn, cancel: cancel}

	go heartbeatLoop(loopCtx, conn)
	go readLoop(loopCtx, conn, topic, fn)

	return sub, nil
}

func heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	ref := 2
	for {
		select {
		case <-ticker.C:
			msg := phoenixMessage{
				Topic:   "phoenix",
				Event:   "heartbeat",
				Payload: map[string]any{},
				Ref:     strconv.Itoa(ref),
			}
			ref++
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, topic string, fn func(backend.Profile)) {
	for {
		var in phoenixInbound
		if err := conn.ReadJSON(&in); err != nil {
			if ctx.Err() == nil {
				slog.Warn("realtime channel closed", "error", err)
			}
			return
		}
		if in.Topic != topic || in.Event != "postgres_changes" {
			continue
		}
		var change changeRecord
		if err := json.Unmarshal(in.Payload, &change); err != nil {
			slog.Warn("realtime payload decode failed", "error", err)
			continue
		}
		rec := change.Data.Record
		if rec.ID == "" {
			continue
		}
		fn(backend.Profile{
			ID:        rec.ID,
			Name:      rec.Name,
			Phone:     deref(rec.Phone),
			Location:  deref(rec.Location),
			AvatarURL: deref(rec.AvatarURL),
		})
	}
}
