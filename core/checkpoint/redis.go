package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCheckpointer is the KV cache tier (§4.8, §11.3): a TTL-bounded
// backend for deployments that accept losing history for an abandoned
// session in exchange for not growing storage unboundedly. Only the latest
// snapshot is retained per session plus a capped recent-history list;
// List/Rewind operate over that capped window, not the full lifetime.
type RedisCheckpointer struct {
	client     *redis.Client
	ttl        time.Duration
	maxHistory int64
}

// NewRedisCheckpointer wraps an existing *redis.Client. ttl is applied to
// both the latest-snapshot key and the history list on every Save; a ttl of
// zero disables expiry.
func NewRedisCheckpointer(client *redis.Client, ttl time.Duration) *RedisCheckpointer {
	return &RedisCheckpointer{client: client, ttl: ttl, maxHistory: 50}
}

func (r *RedisCheckpointer) latestKey(sessionID string) string  { return "dialogrt:ckpt:latest:" + sessionID }
func (r *RedisCheckpointer) historyKey(sessionID string) string { return "dialogrt:ckpt:history:" + sessionID }

func (r *RedisCheckpointer) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	data, err := r.client.Get(ctx, r.latestKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading checkpoint from redis: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	return &snap, nil
}

func (r *RedisCheckpointer) Save(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.latestKey(snap.SessionID), data, r.ttl)
	pipe.RPush(ctx, r.historyKey(snap.SessionID), data)
	pipe.LTrim(ctx, r.historyKey(snap.SessionID), -r.maxHistory, -1)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.historyKey(snap.SessionID), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving checkpoint to redis: %w", err)
	}
	return nil
}

// List returns the capped history window newest-first (§4.8); the list is
// stored oldest-first via RPush so Save's LTrim keeps the most recent
// maxHistory entries with a simple tail trim.
func (r *RedisCheckpointer) List(ctx context.Context, sessionID string) ([]*Snapshot, error) {
	items, err := r.client.LRange(ctx, r.historyKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints from redis: %w", err)
	}
	out := make([]*Snapshot, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		var snap Snapshot
		if err := json.Unmarshal([]byte(items[i]), &snap); err != nil {
			return nil, fmt.Errorf("decoding checkpoint: %w", err)
		}
		out = append(out, &snap)
	}
	return out, nil
}

// Rewind finds checkpointID within the retained history window and
// restores it as the latest snapshot; history beyond it is not
// retroactively trimmed since Redis lists are append-only in this scheme.
func (r *RedisCheckpointer) Rewind(ctx context.Context, sessionID, checkpointID string) (*Snapshot, error) {
	history, err := r.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, snap := range history {
		if snap.CheckpointID == checkpointID {
			if err := r.Save(ctx, snap); err != nil {
				return nil, err
			}
			return snap, nil
		}
	}
	return nil, ErrNotFound
}

func (r *RedisCheckpointer) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.latestKey(sessionID), r.historyKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("deleting checkpoint from redis: %w", err)
	}
	return nil
}
