package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckpointRecordTableName(t *testing.T) {
	assert.Equal(t, "dialogrt_checkpoints", checkpointRecord{}.TableName())
}

func TestSnapshotToRecordAndBackRoundTrips(t *testing.T) {
	snap := &Snapshot{
		SessionID:         "s1",
		CheckpointID:      "c1",
		ParentID:          "c0",
		State:             []byte(`{"conversation_state":"idle"}`),
		NextNode:          "collect_next_slot",
		PendingInterrupts: []byte(`{"node":"collect_next_slot"}`),
		CreatedAt:         1700000000,
	}

	rec := snapshotToRecord(snap)
	assert.Equal(t, snap.SessionID, rec.SessionID)
	assert.Equal(t, snap.CheckpointID, rec.CheckpointID)
	assert.Equal(t, snap.ParentID, rec.ParentID)
	assert.Equal(t, []byte(snap.State), rec.State)
	assert.Equal(t, snap.NextNode, rec.NextNode)
	assert.Equal(t, []byte(snap.PendingInterrupts), rec.PendingInterrupts)
	assert.Equal(t, snap.CreatedAt, rec.CreatedAt)

	back := recordToSnapshot(rec)
	assert.Equal(t, snap.SessionID, back.SessionID)
	assert.Equal(t, snap.CheckpointID, back.CheckpointID)
	assert.Equal(t, snap.ParentID, back.ParentID)
	assert.JSONEq(t, string(snap.State), string(back.State))
	assert.Equal(t, snap.NextNode, back.NextNode)
	assert.JSONEq(t, string(snap.PendingInterrupts), string(back.PendingInterrupts))
	assert.Equal(t, snap.CreatedAt, back.CreatedAt)
}

func TestSnapshotToRecordOmitsSeqForNewRows(t *testing.T) {
	rec := snapshotToRecord(&Snapshot{SessionID: "s1", CheckpointID: "c1"})
	assert.Zero(t, rec.Seq)
}
