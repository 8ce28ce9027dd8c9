package dialogrt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kslamph/dialogrt/core/checkpoint"
	"golang.org/x/sync/semaphore"
)

// sessionLocks enforces the §5 concurrency rule — per-session
// single-threaded cooperative execution — using one
// golang.org/x/sync/semaphore.Weighted(1) per session so a second message
// for a busy session fails fast with SessionBusy instead of queuing, the
// non-blocking TryAcquire semantics a bare sync.Mutex can't express as
// cleanly.
type sessionLocks struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{sems: make(map[string]*semaphore.Weighted)}
}

func (sl *sessionLocks) get(sessionID string) *semaphore.Weighted {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sem, ok := sl.sems[sessionID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		sl.sems[sessionID] = sem
	}
	return sem
}

// RuntimeLoop is the per-message orchestrator of §4.7: load the session's
// snapshot, resume a suspended graph run or invoke a fresh one, step the
// graph to END or the next interrupt while checkpointing every transition,
// and return the assistant's response.
type RuntimeLoop struct {
	rt           *Runtime
	graph        *Graph
	checkpointer checkpoint.Checkpointer
	locks        *sessionLocks
}

// NewRuntimeLoop wires a RuntimeLoop over rt and the given checkpoint
// backend.
func NewRuntimeLoop(rt *Runtime, cp checkpoint.Checkpointer) *RuntimeLoop {
	return &RuntimeLoop{rt: rt, graph: NewGraph(rt), checkpointer: cp, locks: newSessionLocks()}
}

// ProcessMessage runs one turn for sessionID per §4.7: SessionBusy gating,
// a per-message timeout bound (default 30s, §5), then load → resume-or-
// invoke → step-to-suspension → checkpoint → return last_response.
func (rl *RuntimeLoop) ProcessMessage(ctx context.Context, sessionID, userMessage string) (string, error) {
	sem := rl.locks.get(sessionID)
	if !sem.TryAcquire(1) {
		return "", &SessionBusy{SessionID: sessionID}
	}
	defer sem.Release(1)

	timeout := rl.rt.Config.Session.MessageTimeout
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	state, resume, err := rl.loadOrCreate(ctx, sessionID)
	if err != nil {
		return "", err
	}

	if abandoned := rl.rt.FlowManager.ExpirePausedFlows(state, rl.rt.Flows); len(abandoned) > 0 {
		state.Metadata.CompletedFlows = append(state.Metadata.CompletedFlows, abandoned...)
		for _, fc := range abandoned {
			rl.rt.Logger.WithField("flow_id", fc.FlowID).Info("paused flow abandoned after max_pause_duration")
		}
	}
	rl.rt.FlowManager.Prune(state)

	if resume == nil {
		state.UserMessage = userMessage
	} else {
		resume.PromptValue = userMessage
	}

	parentID := ""
	if latestSnaps, err := rl.checkpointer.List(ctx, sessionID); err == nil && len(latestSnaps) > 0 {
		parentID = latestSnaps[0].CheckpointID
	}

	var saveErr error
	onTransition := func(node NodeName, s *DialogueState) {
		if saveErr != nil {
			return
		}
		parentID, saveErr = rl.save(ctx, sessionID, parentID, s, nil)
	}

	terminal, pending, err := rl.graph.Run(ctx, state, resume, onTransition)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// The in-flight node is abandoned; the last successful checkpoint
			// (already written by onTransition) remains authoritative.
			rl.rt.Logger.WithField("session_id", sessionID).Warn("message processing timed out")
			return "request timed out", nil
		}
		return "", err
	}
	if saveErr != nil {
		return "", saveErr
	}

	if !terminal {
		if _, err := rl.save(ctx, sessionID, parentID, state, pending); err != nil {
			return "", err
		}
	}

	if err := state.CheckInvariants(rl.rt.Config.FlowManagement.MaxStackDepth, rl.rt.Config.StateSizeBudgetBytes, sessionID, rl.rt.Config.PruneLimits()); err != nil {
		rl.rt.Logger.WithError(err).Error("post-transition invariant check failed")
		return "", err
	}

	return state.LastResponse, nil
}

// loadOrCreate returns the session's current DialogueState and, if the
// graph had suspended mid-flow, the PendingInterrupt to resume from.
func (rl *RuntimeLoop) loadOrCreate(ctx context.Context, sessionID string) (*DialogueState, *PendingInterrupt, error) {
	snap, err := rl.checkpointer.Load(ctx, sessionID)
	if err == checkpoint.ErrNotFound {
		return NewDialogueState(), nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading checkpoint: %w", err)
	}

	var state DialogueState
	if err := json.Unmarshal(snap.State, &state); err != nil {
		return nil, nil, fmt.Errorf("decoding session state: %w", err)
	}

	if len(snap.PendingInterrupts) == 0 || string(snap.PendingInterrupts) == "null" {
		return &state, nil, nil
	}
	var pending PendingInterrupt
	if err := json.Unmarshal(snap.PendingInterrupts, &pending); err != nil {
		return nil, nil, fmt.Errorf("decoding pending interrupt: %w", err)
	}
	return &state, &pending, nil
}

// save persists one checkpoint and returns its new checkpoint id, to be
// threaded as the next transition's parent.
func (rl *RuntimeLoop) save(ctx context.Context, sessionID, parentID string, state *DialogueState, pending *PendingInterrupt) (string, error) {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("encoding session state: %w", err)
	}
	var pendingJSON []byte
	if pending != nil {
		pendingJSON, err = json.Marshal(pending)
		if err != nil {
			return "", fmt.Errorf("encoding pending interrupt: %w", err)
		}
	}

	checkpointID := uuid.NewString()
	nextNode := ""
	if pending != nil {
		nextNode = pending.Node
	}
	snap := &checkpoint.Snapshot{
		SessionID:         sessionID,
		CheckpointID:       checkpointID,
		ParentID:           parentID,
		State:              stateJSON,
		NextNode:           nextNode,
		PendingInterrupts:  pendingJSON,
		CreatedAt:          nowUnix(),
	}
	if err := rl.checkpointer.Save(ctx, snap); err != nil {
		return "", fmt.Errorf("saving checkpoint: %w", err)
	}
	return checkpointID, nil
}
