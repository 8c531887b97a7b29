package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/trafficlens/trafficlens/pkg/models"
)

// SQLiteStore is a SQLite-based implementation of VideoStore
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}
	// WAL plus a busy timeout lets `videos list` read while an upload writes
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS videos (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		file_name TEXT NOT NULL,
		content_type TEXT NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		job_id TEXT NOT NULL,
		stream_url TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_videos_created_at ON videos(created_at);
	CREATE INDEX IF NOT EXISTS idx_videos_job_id ON videos(job_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateVideo inserts video, assigning ID and CreatedAt if unset
func (s *SQLiteStore) CreateVideo(ctx context.Context, video *models.Video) error {
	prepare(video)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO videos (id, name, file_name, content_type, size_bytes, job_id, stream_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		video.ID, video.Name, video.FileName, video.ContentType, video.SizeBytes,
		video.JobID, video.StreamURL, video.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert video: %w", err)
	}
	return nil
}

// GetVideo retrieves a video by ID
func (s *SQLiteStore) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, file_name, content_type, size_bytes, job_id, stream_url, created_at
		FROM videos WHERE id = ?`, id)
	return scanVideo(row)
}

// GetVideoByJobID retrieves the video registered for a job
func (s *SQLiteStore) GetVideoByJobID(ctx context.Context, jobID string) (*models.Video, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, file_name, content_type, size_bytes, job_id, stream_url, created_at
		FROM videos WHERE job_id = ? ORDER BY created_at DESC LIMIT 1`, jobID)
	return scanVideo(row)
}

// RecentVideos returns up to limit videos, newest first
func (s *SQLiteStore) RecentVideos(ctx context.Context, limit int) ([]*models.Video, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, file_name, content_type, size_bytes, job_id, stream_url, created_at
		FROM videos ORDER BY created_at DESC, rowid DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query videos: %w", err)
	}
	defer rows.Close()
	return scanVideos(rows)
}

// DeleteVideo removes a video
func (s *SQLiteStore) DeleteVideo(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM videos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete video: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVideoNotFound
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HealthCheck pings the database
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanVideo(row scanner) (*models.Video, error) {
	var v models.Video
	var streamURL sql.NullString
	err := row.Scan(&v.ID, &v.Name, &v.FileName, &v.ContentType, &v.SizeBytes, &v.JobID, &streamURL, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVideoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan video: %w", err)
	}
	v.StreamURL = streamURL.String
	return &v, nil
}

func scanVideos(rows *sql.Rows) ([]*models.Video, error) {
	var videos []*models.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}
