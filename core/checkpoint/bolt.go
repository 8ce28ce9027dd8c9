package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// rootBucket is the single top-level bbolt bucket; each session gets its
// own nested bucket so List/Rewind/Delete stay scoped to one session
// without scanning the whole file.
var rootBucket = []byte("dialogrt_checkpoints")

// BoltCheckpointer is the embedded, single-writer backend substituting for
// the sqlite driver the pack never carries (DESIGN.md): a durable,
// zero-server option for a single runtime process, keyed the same way
// MemoryCheckpointer keys its in-process map but persisted to a bbolt file.
type BoltCheckpointer struct {
	db *bolt.DB
}

// OpenBoltCheckpointer opens (creating if absent) a bbolt database at path.
func OpenBoltCheckpointer(path string) (*BoltCheckpointer, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening bolt checkpoint db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing bolt checkpoint db: %w", err)
	}
	return &BoltCheckpointer{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (b *BoltCheckpointer) Close() error {
	return b.db.Close()
}

func (b *BoltCheckpointer) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	var out *Snapshot
	err := b.db.View(func(tx *bolt.Tx) error {
		sb := tx.Bucket(rootBucket).Bucket([]byte(sessionID))
		if sb == nil {
			return ErrNotFound
		}
		_, v := sb.Cursor().Last()
		if v == nil {
			return ErrNotFound
		}
		var snap Snapshot
		if err := json.Unmarshal(v, &snap); err != nil {
			return fmt.Errorf("decoding checkpoint: %w", err)
		}
		out = &snap
		return nil
	})
	return out, err
}

func (b *BoltCheckpointer) Save(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		sb, err := tx.Bucket(rootBucket).CreateBucketIfNotExists([]byte(snap.SessionID))
		if err != nil {
			return err
		}
		seq, err := sb.NextSequence()
		if err != nil {
			return err
		}
		return sb.Put(sequenceKey(seq), data)
	})
}

// List returns the session's history newest-first (§4.8); bbolt's cursor
// walks the bucket oldest-first by key order, so the result is reversed
// before returning.
func (b *BoltCheckpointer) List(ctx context.Context, sessionID string) ([]*Snapshot, error) {
	var out []*Snapshot
	err := b.db.View(func(tx *bolt.Tx) error {
		sb := tx.Bucket(rootBucket).Bucket([]byte(sessionID))
		if sb == nil {
			return nil
		}
		return sb.ForEach(func(_, v []byte) error {
			var snap Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return fmt.Errorf("decoding checkpoint: %w", err)
			}
			out = append(out, &snap)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (b *BoltCheckpointer) Rewind(ctx context.Context, sessionID, checkpointID string) (*Snapshot, error) {
	var found *Snapshot
	err := b.db.Update(func(tx *bolt.Tx) error {
		sb := tx.Bucket(rootBucket).Bucket([]byte(sessionID))
		if sb == nil {
			return ErrNotFound
		}
		var toDelete [][]byte
		cutoffReached := false
		c := sb.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if cutoffReached {
				toDelete = append(toDelete, append([]byte(nil), k...))
				continue
			}
			var snap Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return fmt.Errorf("decoding checkpoint: %w", err)
			}
			if snap.CheckpointID == checkpointID {
				found = &snap
				cutoffReached = true
			}
		}
		if found == nil {
			return ErrNotFound
		}
		for _, k := range toDelete {
			if err := sb.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (b *BoltCheckpointer) Delete(ctx context.Context, sessionID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(rootBucket)
		if root.Bucket([]byte(sessionID)) == nil {
			return nil
		}
		return root.DeleteBucket([]byte(sessionID))
	})
}

func sequenceKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}
