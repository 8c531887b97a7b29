package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/trafficlens/trafficlens/pkg/models"
)

// PostgreSQLStore implements VideoStore using PostgreSQL
type PostgreSQLStore struct {
	db *sql.DB
}

// NewPostgreSQLStore connects and creates the schema
func NewPostgreSQLStore(config Config) (*PostgreSQLStore, error) {
	dsn := config.DSN
	if dsn == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(5)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgreSQLStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *PostgreSQLStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS videos (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		file_name TEXT NOT NULL,
		content_type TEXT NOT NULL,
		size_bytes BIGINT NOT NULL DEFAULT 0,
		job_id TEXT NOT NULL,
		stream_url TEXT,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_videos_created_at ON videos(created_at);
	CREATE INDEX IF NOT EXISTS idx_videos_job_id ON videos(job_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// CreateVideo inserts video, assigning ID and CreatedAt if unset
func (s *PostgreSQLStore) CreateVideo(ctx context.Context, video *models.Video) error {
	prepare(video)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO videos (id, name, file_name, content_type, size_bytes, job_id, stream_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		video.ID, video.Name, video.FileName, video.ContentType, video.SizeBytes,
		video.JobID, video.StreamURL, video.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert video: %w", err)
	}
	return nil
}

// GetVideo retrieves a video by ID
func (s *PostgreSQLStore) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, file_name, content_type, size_bytes, job_id, stream_url, created_at
		FROM videos WHERE id = $1`, id)
	return scanVideo(row)
}

// GetVideoByJobID retrieves the video registered for a job
func (s *PostgreSQLStore) GetVideoByJobID(ctx context.Context, jobID string) (*models.Video, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, file_name, content_type, size_bytes, job_id, stream_url, created_at
		FROM videos WHERE job_id = $1 ORDER BY created_at DESC LIMIT 1`, jobID)
	return scanVideo(row)
}

// RecentVideos returns up to limit videos, newest first
func (s *PostgreSQLStore) RecentVideos(ctx context.Context, limit int) ([]*models.Video, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, file_name, content_type, size_bytes, job_id, stream_url, created_at
		FROM videos ORDER BY created_at DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query videos: %w", err)
	}
	defer rows.Close()
	return scanVideos(rows)
}

// DeleteVideo removes a video
func (s *PostgreSQLStore) DeleteVideo(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete video: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVideoNotFound
	}
	return nil
}

// Close closes the database
func (s *PostgreSQLStore) Close() error {
	return s.db.Close()
}

// HealthCheck pings the database
func (s *PostgreSQLStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
