package stateadapter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/domain"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/wtberrors"
)

// MemExternalStore is an in-memory ExternalCheckpointStore, the external
// checkpoint store's test/dev stand-in -- this system treats the real
// store as an opaque black box (spec.md section 1), so MemExternalStore
// only needs to honor the port's contract, not any particular backing
// technology. Grounded on graph/store/memory.go's MemStore[S] shape (maps
// guarded by a mutex).
type MemExternalStore struct {
	mu          sync.Mutex
	sessions    map[int64][]ExternalCheckpoint
	checkpoints map[string]ExternalCheckpoint
	nextSession int64
}

// NewMemExternalStore returns an empty MemExternalStore.
func NewMemExternalStore() *MemExternalStore {
	return &MemExternalStore{
		sessions:    make(map[int64][]ExternalCheckpoint),
		checkpoints: make(map[string]ExternalCheckpoint),
	}
}

func (m *MemExternalStore) OpenSession(ctx context.Context, executionID string, initial domain.ExecutionState) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSession++
	id := m.nextSession
	m.sessions[id] = []ExternalCheckpoint{{
		SessionID: id,
		Ordinal:   0,
		State:     initial.Clone(),
		Timestamp: time.Now(),
	}}
	return id, nil
}

func (m *MemExternalStore) AppendCheckpoint(ctx context.Context, cp ExternalCheckpoint) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}
	m.sessions[cp.SessionID] = append(m.sessions[cp.SessionID], cp)
	id := fmt.Sprintf("cp-%s", uuid.New().String())
	m.checkpoints[id] = cp
	return id, nil
}

func (m *MemExternalStore) GetCheckpoint(ctx context.Context, id string) (ExternalCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[id]
	if !ok {
		return ExternalCheckpoint{}, wtberrors.ErrNotFound
	}
	return cp, nil
}

// ListCheckpoints orders by Ordinal only: checkpoints sharing an Ordinal
// stay in append order and are not ordered by checkpoint id.
func (m *MemExternalStore) ListCheckpoints(ctx context.Context, sessionID int64, nodeID string) ([]ExternalCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sessions[sessionID]
	out := make([]ExternalCheckpoint, 0, len(all))
	for _, cp := range all {
		if nodeID != "" && cp.NodeID != nodeID {
			continue
		}
		out = append(out, cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (m *MemExternalStore) Fork(ctx context.Context, sourceSessionID int64, upToOrdinal int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	source, ok := m.sessions[sourceSessionID]
	if !ok {
		return 0, wtberrors.ErrNotFound
	}
	m.nextSession++
	newID := m.nextSession
	var copied []ExternalCheckpoint
	for _, cp := range source {
		if cp.Ordinal > upToOrdinal {
			continue
		}
		dup := cp
		dup.SessionID = newID
		copied = append(copied, dup)
	}
	m.sessions[newID] = copied
	return newID, nil
}

// ListAllCheckpointIDs enumerates every checkpoint this store holds,
// across all sessions. Real external stores are not required to support
// this (see integrity.CheckpointEnumerator); the in-memory store can,
// since it already keeps a flat id->checkpoint map for GetCheckpoint.
func (m *MemExternalStore) ListAllCheckpointIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.checkpoints))
	for id := range m.checkpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

var _ ExternalCheckpointStore = (*MemExternalStore)(nil)
