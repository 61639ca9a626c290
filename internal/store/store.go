package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dullyvine/reelforge/internal/models"
	"github.com/go-redis/redis/v8"
)

const snapshotKeyPrefix = "reelforge:queue:"

// SnapshotStore persists the scheduler's job list as a single JSON blob in
// Redis, one key per queue owner. It is deliberately dumb: no per-record
// keys, no indexes — the scheduler owns all queue semantics and this store
// only survives restarts.
type SnapshotStore struct {
	client *redis.Client
	key    string
}

// New connects to Redis and returns a snapshot store scoped to the given
// owner (e.g. a user or session id).
func New(redisURL, owner string) (*SnapshotStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &SnapshotStore{
		client: client,
		key:    snapshotKeyPrefix + owner,
	}, nil
}

func (s *SnapshotStore) Close() error {
	return s.client.Close()
}

// Save overwrites the snapshot with the given job list.
func (s *SnapshotStore) Save(ctx context.Context, jobs []*models.JobRecord) error {
	data, err := json.Marshal(jobs)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

// Load returns the persisted job list, or nil when no snapshot exists.
func (s *SnapshotStore) Load(ctx context.Context) ([]*models.JobRecord, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, nil // No snapshot yet
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var jobs []*models.JobRecord
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return jobs, nil
}
