package supabase

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/cuidacolitas/appcore/backend"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// storedSession is the single-row table holding the serialized session. The
// payload is kept as JSON so the schema survives session shape changes.
type storedSession struct {
	ID        uint           `gorm:"primaryKey"`
	Payload   datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time
}

func (storedSession) TableName() string { return "stored_sessions" }

type sessionStore struct {
	db *gorm.DB
}

func openStore(path string) (*sessionStore, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), "cuidacolitas-appcore.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&storedSession{}); err != nil {
		return nil, err
	}
	return &sessionStore{db: db}, nil
}

func (s *sessionStore) Save(sess *backend.Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	row := storedSession{ID: 1, Payload: datatypes.JSON(b)}
	return s.db.Save(&row).Error
}

// Load returns (nil, nil) when no session has been persisted.
func (s *sessionStore) Load() (*backend.Session, error) {
	var row storedSession
	err := s.db.First(&row, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sess backend.Session
	if err := json.Unmarshal(row.Payload, &sess); err != nil {
		return nil, err
	}
	if sess.AccessToken == "" {
		return nil, nil
	}
	return &sess, nil
}

func (s *sessionStore) Clear() error {
	return s.db.Delete(&storedSession{}, 1).Error
}

// Gorm returns the underlying handle so the diagnostics log sink can share
// the same database file.
func (s *sessionStore) Gorm() *gorm.DB { return s.db }

func (s *sessionStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
