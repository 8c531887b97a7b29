package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficlens/trafficlens/pkg/models"
)

func exerciseVideoStore(t *testing.T, s VideoStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.HealthCheck(ctx))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i, name := range []string{"north.mp4", "south.mp4", "east.mp4"} {
		v := &models.Video{
			Name:        "Camera " + name,
			FileName:    name,
			ContentType: "video/mp4",
			SizeBytes:   int64(1024 * (i + 1)),
			JobID:       "job-" + name,
			StreamURL:   "http://localhost:8000/video/stream/job-" + name,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.CreateVideo(ctx, v))
		require.NotEmpty(t, v.ID, "CreateVideo must assign an id")
		ids = append(ids, v.ID)
	}

	got, err := s.GetVideo(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, "south.mp4", got.FileName)
	assert.Equal(t, int64(2048), got.SizeBytes)
	assert.True(t, got.CreatedAt.Equal(base.Add(time.Minute)))

	byJob, err := s.GetVideoByJobID(ctx, "job-east.mp4")
	require.NoError(t, err)
	assert.Equal(t, ids[2], byJob.ID)

	recent, err := s.RecentVideos(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "east.mp4", recent[0].FileName)
	assert.Equal(t, "south.mp4", recent[1].FileName)

	require.NoError(t, s.DeleteVideo(ctx, ids[0]))
	_, err = s.GetVideo(ctx, ids[0])
	assert.True(t, errors.Is(err, ErrVideoNotFound))
	assert.True(t, errors.Is(s.DeleteVideo(ctx, ids[0]), ErrVideoNotFound))

	_, err = s.GetVideoByJobID(ctx, "missing")
	assert.True(t, errors.Is(err, ErrVideoNotFound))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	exerciseVideoStore(t, s)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "videos.db"))
	require.NoError(t, err)
	defer s.Close()
	exerciseVideoStore(t, s)
}

func TestSQLiteStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "videos.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	v := &models.Video{Name: "a", FileName: "a.mp4", ContentType: "video/mp4", JobID: "job-a"}
	require.NoError(t, s.CreateVideo(context.Background(), v))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.GetVideo(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, "job-a", got.JobID)
}

func TestSQLiteStoreCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".trafficlens", "videos.db")
	s, err := NewStore(Config{Type: "sqlite", DSN: path})
	require.NoError(t, err)
	v := &models.Video{Name: "b", FileName: "b.mp4", ContentType: "video/mp4", JobID: "job-b"}
	require.NoError(t, s.CreateVideo(context.Background(), v))
	require.NoError(t, s.Close())

	reopened, err := NewStore(Config{Type: "sqlite", DSN: path})
	require.NoError(t, err)
	defer reopened.Close()
	recent, err := reopened.RecentVideos(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "job-b", recent[0].JobID)
}

// Set DATABASE_DSN to run: export DATABASE_DSN="postgresql://..."
func TestPostgreSQLStore(t *testing.T) {
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		t.Skip("Skipping PostgreSQL integration test: DATABASE_DSN not set")
	}
	s, err := NewPostgreSQLStore(Config{Type: "postgres", DSN: dsn})
	require.NoError(t, err)
	defer s.Close()
	_, err = s.db.Exec("DELETE FROM videos")
	require.NoError(t, err)
	exerciseVideoStore(t, s)
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = NewStore(Config{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	s.Close()

	_, err = NewStore(Config{Type: "postgres"})
	assert.Error(t, err)

	_, err = NewStore(Config{Type: "mongo"})
	assert.ErrorIs(t, err, ErrUnsupportedDatabase)
}
