package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/trafficlens/trafficlens/pkg/models"
)

// MemoryStore keeps videos for the lifetime of the process
type MemoryStore struct {
	mu     sync.RWMutex
	videos map[string]*models.Video
	order  []string // insertion order, oldest first
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{videos: make(map[string]*models.Video)}
}

// CreateVideo stores a copy of video, assigning ID and CreatedAt if unset
func (s *MemoryStore) CreateVideo(_ context.Context, video *models.Video) error {
	prepare(video)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.videos[video.ID]; exists {
		return fmt.Errorf("video %s already exists", video.ID)
	}
	v := *video
	s.videos[v.ID] = &v
	s.order = append(s.order, v.ID)
	return nil
}

// GetVideo retrieves a video by ID
func (s *MemoryStore) GetVideo(_ context.Context, id string) (*models.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.videos[id]
	if !ok {
		return nil, ErrVideoNotFound
	}
	out := *v
	return &out, nil
}

// GetVideoByJobID retrieves the video registered for a job
func (s *MemoryStore) GetVideoByJobID(_ context.Context, jobID string) (*models.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.videos {
		if v.JobID == jobID {
			out := *v
			return &out, nil
		}
	}
	return nil, ErrVideoNotFound
}

// RecentVideos returns up to limit videos, newest first
func (s *MemoryStore) RecentVideos(_ context.Context, limit int) ([]*models.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	videos := make([]*models.Video, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		v := *s.videos[s.order[i]]
		videos = append(videos, &v)
	}
	sort.SliceStable(videos, func(i, k int) bool {
		return videos[i].CreatedAt.After(videos[k].CreatedAt)
	})
	if limit = clampLimit(limit); len(videos) > limit {
		videos = videos[:limit]
	}
	return videos, nil
}

// DeleteVideo removes a video
func (s *MemoryStore) DeleteVideo(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.videos[id]; !ok {
		return ErrVideoNotFound
	}
	delete(s.videos, id)
	for i, vid := range s.order {
		if vid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

// HealthCheck always succeeds
func (s *MemoryStore) HealthCheck(context.Context) error {
	return nil
}
