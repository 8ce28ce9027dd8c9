package checkpoint

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// checkpointRecord is the gorm model backing PostgresCheckpointer: one row
// per snapshot, ordered by the auto-incrementing Seq for List/Rewind.
type checkpointRecord struct {
	Seq               uint64 `gorm:"primaryKey;autoIncrement"`
	SessionID         string `gorm:"index:idx_session,priority:1"`
	CheckpointID      string `gorm:"index:idx_checkpoint"`
	ParentID          string
	State             []byte `gorm:"type:jsonb"`
	NextNode          string
	PendingInterrupts []byte `gorm:"type:jsonb"`
	CreatedAt         float64
}

func (checkpointRecord) TableName() string { return "dialogrt_checkpoints" }

// PostgresCheckpointer is the relational production backend (§4.8, §11.3):
// every transition is an append-only insert, giving List/Rewind a full
// audit trail for free, the same durability tier gorm.io/driver/postgres
// exists in the pack to provide.
type PostgresCheckpointer struct {
	db *gorm.DB
}

// OpenPostgresCheckpointer connects to dsn and migrates the checkpoint
// table.
func OpenPostgresCheckpointer(dsn string) (*PostgresCheckpointer, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("opening postgres checkpoint store: %w", err)
	}
	if err := db.AutoMigrate(&checkpointRecord{}); err != nil {
		return nil, fmt.Errorf("migrating checkpoint schema: %w", err)
	}
	return &PostgresCheckpointer{db: db}, nil
}

func (p *PostgresCheckpointer) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	var rec checkpointRecord
	err := p.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq desc").
		First(&rec).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}
	return recordToSnapshot(&rec), nil
}

func (p *PostgresCheckpointer) Save(ctx context.Context, snap *Snapshot) error {
	rec := snapshotToRecord(snap)
	if err := p.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

// List returns the session's history newest-first (§4.8).
func (p *PostgresCheckpointer) List(ctx context.Context, sessionID string) ([]*Snapshot, error) {
	var recs []checkpointRecord
	if err := p.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("seq desc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	out := make([]*Snapshot, len(recs))
	for i := range recs {
		out[i] = recordToSnapshot(&recs[i])
	}
	return out, nil
}

func (p *PostgresCheckpointer) Rewind(ctx context.Context, sessionID, checkpointID string) (*Snapshot, error) {
	var target checkpointRecord
	err := p.db.WithContext(ctx).
		Where("session_id = ? AND checkpoint_id = ?", sessionID, checkpointID).
		First(&target).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("rewinding checkpoint: %w", err)
	}

	err = p.db.WithContext(ctx).
		Where("session_id = ? AND seq > ?", sessionID, target.Seq).
		Delete(&checkpointRecord{}).Error
	if err != nil {
		return nil, fmt.Errorf("pruning checkpoints after rewind: %w", err)
	}
	return recordToSnapshot(&target), nil
}

func (p *PostgresCheckpointer) Delete(ctx context.Context, sessionID string) error {
	if err := p.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&checkpointRecord{}).Error; err != nil {
		return fmt.Errorf("deleting checkpoints: %w", err)
	}
	return nil
}

func snapshotToRecord(snap *Snapshot) *checkpointRecord {
	return &checkpointRecord{
		SessionID:         snap.SessionID,
		CheckpointID:      snap.CheckpointID,
		ParentID:          snap.ParentID,
		State:             []byte(snap.State),
		NextNode:          snap.NextNode,
		PendingInterrupts: []byte(snap.PendingInterrupts),
		CreatedAt:         snap.CreatedAt,
	}
}

func recordToSnapshot(rec *checkpointRecord) *Snapshot {
	return &Snapshot{
		SessionID:         rec.SessionID,
		CheckpointID:      rec.CheckpointID,
		ParentID:          rec.ParentID,
		State:             rec.State,
		NextNode:          rec.NextNode,
		PendingInterrupts: rec.PendingInterrupts,
		CreatedAt:         rec.CreatedAt,
	}
}
