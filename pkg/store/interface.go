// Package store persists the metadata of uploaded videos.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/trafficlens/trafficlens/pkg/models"
)

// VideoStore defines the interface for video metadata persistence.
// Memory, SQLite and PostgreSQL implement it.
type VideoStore interface {
	CreateVideo(ctx context.Context, video *models.Video) error
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	GetVideoByJobID(ctx context.Context, jobID string) (*models.Video, error)
	RecentVideos(ctx context.Context, limit int) ([]*models.Video, error)
	DeleteVideo(ctx context.Context, id string) error

	Close() error
	HealthCheck(ctx context.Context) error
}

// Config holds database configuration
type Config struct {
	Type string // "memory", "sqlite" or "postgres"
	DSN  string // connection string, or file path for sqlite

	// PostgreSQL specific
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

var (
	ErrUnsupportedDatabase = errors.New("unsupported database type")
	ErrVideoNotFound       = errors.New("video not found")
)

// NewStore creates a store based on configuration
func NewStore(config Config) (VideoStore, error) {
	switch config.Type {
	case "memory", "":
		return NewMemoryStore(), nil
	case "sqlite", "sqlite3":
		path := config.DSN
		if path == "" {
			path = "trafficlens.db"
		}
		return NewSQLiteStore(path)
	case "postgres", "postgresql":
		return NewPostgreSQLStore(config)
	default:
		return nil, ErrUnsupportedDatabase
	}
}

// prepare fills server-independent defaults before insert
func prepare(video *models.Video) {
	if video.ID == "" {
		video.ID = uuid.NewString()
	}
	if video.CreatedAt.IsZero() {
		video.CreatedAt = time.Now().UTC()
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}
