package logging

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DiagnosticLog stores ERROR+ records in the device-local database so support
// can pull them off a handset without a network round trip.
type DiagnosticLog struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Timestamp time.Time      `gorm:"not null;index" json:"timestamp"`
	Level     string         `gorm:"size:10;not null;index" json:"level"`
	Message   string         `gorm:"type:text" json:"message"`
	UserID    *string        `gorm:"size:36" json:"user_id"`
	Action    string         `gorm:"size:100" json:"action"`
	Error     string         `gorm:"type:text" json:"error"`
	Extra     datatypes.JSON `json:"extra"`
	CreatedAt time.Time      `json:"created_at"`
}

// StoreHandler is an slog.Handler that batches ERROR+ logs to the local store.
type StoreHandler struct {
	db     *gorm.DB
	mu     sync.Mutex
	buffer []DiagnosticLog
	ticker *time.Ticker
	done   chan struct{}
}

func NewStoreHandler(db *gorm.DB) (*StoreHandler, error) {
	if err := db.AutoMigrate(&DiagnosticLog{}); err != nil {
		return nil, err
	}
	h := &StoreHandler{
		db:     db,
		buffer: make([]DiagnosticLog, 0, 20),
		ticker: time.NewTicker(5 * time.Second),
		done:   make(chan struct{}),
	}
	go h.flushLoop()
	return h, nil
}

func (h *StoreHandler) flushLoop() {
	for {
		select {
		case <-h.ticker.C:
			h.flush()
		case <-h.done:
			h.flush()
			return
		}
	}
}

func (h *StoreHandler) flush() {
	h.mu.Lock()
	if len(h.buffer) == 0 {
		h.mu.Unlock()
		return
	}
	batch := h.buffer
	h.buffer = make([]DiagnosticLog, 0, 20)
	h.mu.Unlock()

	if err := h.db.CreateInBatches(batch, 20).Error; err != nil {
		slog.Info("failed to flush diagnostic logs", "count", len(batch))
	}
}

func (h *StoreHandler) Stop() {
	h.ticker.Stop()
	close(h.done)
}

// Enabled only handles ERROR and above.
func (h *StoreHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelError
}

func (h *StoreHandler) Handle(_ context.Context, record slog.Record) error {
	entry := DiagnosticLog{
		ID:        uuid.New(),
		Timestamp: record.Time,
		Level:     record.Level.String(),
		Message:   record.Message,
	}

	extra := make(map[string]interface{})
	record.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "user_id":
			s := a.Value.String()
			entry.UserID = &s
		case "action":
			entry.Action = a.Value.String()
		case "error":
			entry.Error = a.Value.String()
		default:
			extra[a.Key] = a.Value.Any()
		}
		return true
	})

	if len(extra) > 0 {
		if b, err := json.Marshal(extra); err == nil {
			entry.Extra = datatypes.JSON(b)
		}
	}

	h.mu.Lock()
	h.buffer = append(h.buffer, entry)
	needFlush := len(h.buffer) >= 20
	h.mu.Unlock()

	if needFlush {
		go h.flush()
	}
	return nil
}

func (h *StoreHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *StoreHandler) WithGroup(name string) slog.Handler {
	return h
}
