// Package memstore is the in-memory UnitOfWork implementation (spec.md
// section 4.1), backed by hash maps guarded by a single RWMutex. It is
// used in tests and as the StorageInMemory mode for small deployments; its
// visibility rules (writes invisible until commit) match sqlstore exactly
// so that both satisfy property P1.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/domain"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/outbox"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/uow"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/wtberrors"
)

// DB is the shared in-memory backing store. One DB should be constructed
// per process (or per test); every memstore.UnitOfWork opened from it sees
// the same committed data.
type DB struct {
	mu sync.RWMutex

	executions   map[string]domain.Execution
	workflows    map[string]domain.Workflow
	workflowIdx  map[string]string // name\x00version -> id
	variants     map[string]domain.NodeVariant
	events       map[string]outbox.Event // keyed by event id string
	eventPK      map[int64]string        // pk -> event id
	nextEventPK  int64
	idempotent   map[string]string // idempotency key -> event id
	links        map[string]domain.CheckpointFileLink
	commits      map[string]domain.FileCommit
	blobs        map[string]domain.Blob
	boundaries   map[int64]domain.NodeBoundary
	nextBoundary int64
}

// NewDB creates an empty in-memory backing store.
func NewDB() *DB {
	return &DB{
		executions:  make(map[string]domain.Execution),
		workflows:   make(map[string]domain.Workflow),
		workflowIdx: make(map[string]string),
		variants:    make(map[string]domain.NodeVariant),
		events:      make(map[string]outbox.Event),
		eventPK:     make(map[int64]string),
		idempotent:  make(map[string]string),
		links:       make(map[string]domain.CheckpointFileLink),
		commits:     make(map[string]domain.FileCommit),
		blobs:       make(map[string]domain.Blob),
		boundaries:  make(map[int64]domain.NodeBoundary),
	}
}

// UnitOfWork opens memstore transactions against a shared DB.
type UnitOfWork struct {
	db    *DB
	begun bool
}

// NewUnitOfWork wraps db as a uow.UnitOfWork factory target.
func NewUnitOfWork(db *DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// Factory returns a uow.Factory that builds fresh UnitOfWork values bound
// to db, one per logical operation per spec.md section 5.
func Factory(db *DB) uow.Factory {
	return func() uow.UnitOfWork { return NewUnitOfWork(db) }
}

// tx is a begun memstore transaction. It takes db.mu for its entire
// lifetime (an in-memory stand-in for a real transaction's row locks) and
// buffers writes in a shadow copy, applying them to db only on Commit.
type tx struct {
	db     *DB
	begun  bool
	done   bool
	shadow *DB // working copy, swapped into db on commit

	executions uow.ExecutionRepository
	workflows  uow.WorkflowRepository
	variants   uow.NodeVariantRepository
	outboxRepo outbox.Repository
	links      uow.CheckpointFileLinkRepository
	commits    uow.FileCommitRepository
	blobs      uow.BlobRepository
	boundaries uow.NodeBoundaryRepository
}

func cloneDB(db *DB) *DB {
	out := NewDB()
	out.nextEventPK = db.nextEventPK
	out.nextBoundary = db.nextBoundary
	for k, v := range db.executions {
		out.executions[k] = v
	}
	for k, v := range db.workflows {
		out.workflows[k] = v
	}
	for k, v := range db.workflowIdx {
		out.workflowIdx[k] = v
	}
	for k, v := range db.variants {
		out.variants[k] = v
	}
	for k, v := range db.events {
		out.events[k] = v
	}
	for k, v := range db.eventPK {
		out.eventPK[k] = v
	}
	for k, v := range db.idempotent {
		out.idempotent[k] = v
	}
	for k, v := range db.links {
		out.links[k] = v
	}
	for k, v := range db.commits {
		out.commits[k] = v
	}
	for k, v := range db.blobs {
		out.blobs[k] = v
	}
	for k, v := range db.boundaries {
		out.boundaries[k] = v
	}
	return out
}

// Begin implements uow.UnitOfWork. Calling Begin twice on the same
// *UnitOfWork returns wtberrors.ErrAlreadyBegun.
func (u *UnitOfWork) Begin(ctx context.Context) (uow.Tx, error) {
	if u.db == nil {
		panic("memstore: UnitOfWork has no backing DB")
	}
	if u.begun {
		return nil, wtberrors.ErrAlreadyBegun
	}
	u.begun = true
	u.db.mu.Lock()
	t := &tx{db: u.db, begun: true, shadow: cloneDB(u.db)}
	t.executions = &executionRepo{t: t}
	t.workflows = &workflowRepo{t: t}
	t.variants = &variantRepo{t: t}
	t.outboxRepo = &outboxRepo{t: t}
	t.links = &linkRepo{t: t}
	t.commits = &commitRepo{t: t}
	t.blobs = &blobRepo{t: t}
	t.boundaries = &boundaryRepo{t: t}
	return t, nil
}

func (t *tx) Executions() uow.ExecutionRepository          { return t.executions }
func (t *tx) Workflows() uow.WorkflowRepository             { return t.workflows }
func (t *tx) Variants() uow.NodeVariantRepository           { return t.variants }
func (t *tx) Outbox() outbox.Repository                     { return t.outboxRepo }
func (t *tx) CheckpointFiles() uow.CheckpointFileLinkRepository { return t.links }
func (t *tx) FileCommits() uow.FileCommitRepository         { return t.commits }
func (t *tx) Blobs() uow.BlobRepository                     { return t.blobs }
func (t *tx) NodeBoundaries() uow.NodeBoundaryRepository    { return t.boundaries }

// Commit publishes the shadow copy to db, making every write in this
// transaction visible atomically and simultaneously (spec.md section 5).
func (t *tx) Commit() error {
	if t.done {
		return wtberrors.ErrNotBegun
	}
	// Swap each field individually rather than `*t.db = *t.shadow`: db
	// embeds the sync.RWMutex we are currently holding, and copying the
	// whole struct would overwrite it with the shadow's fresh, unlocked
	// mutex out from under the Unlock() below.
	t.db.executions = t.shadow.executions
	t.db.workflows = t.shadow.workflows
	t.db.workflowIdx = t.shadow.workflowIdx
	t.db.variants = t.shadow.variants
	t.db.events = t.shadow.events
	t.db.eventPK = t.shadow.eventPK
	t.db.nextEventPK = t.shadow.nextEventPK
	t.db.idempotent = t.shadow.idempotent
	t.db.links = t.shadow.links
	t.db.commits = t.shadow.commits
	t.db.blobs = t.shadow.blobs
	t.db.boundaries = t.shadow.boundaries
	t.db.nextBoundary = t.shadow.nextBoundary
	t.done = true
	t.db.mu.Unlock()
	return nil
}

// Rollback discards the shadow copy without touching db.
func (t *tx) Rollback() error {
	if t.done {
		return wtberrors.ErrNotBegun
	}
	t.done = true
	t.db.mu.Unlock()
	return nil
}

// ---- execution repository ----

type executionRepo struct{ t *tx }

func (r *executionRepo) Add(ctx context.Context, e domain.Execution) (domain.Execution, error) {
	if _, ok := r.t.shadow.executions[e.ID]; ok {
		return domain.Execution{}, wtberrors.ErrConflict
	}
	e.Version = 1
	r.t.shadow.executions[e.ID] = e
	return e, nil
}

func (r *executionRepo) GetByID(ctx context.Context, id string) (domain.Execution, error) {
	e, ok := r.t.shadow.executions[id]
	if !ok {
		return domain.Execution{}, wtberrors.ErrNotFound
	}
	return e, nil
}

func (r *executionRepo) Update(ctx context.Context, e domain.Execution) (domain.Execution, error) {
	existing, ok := r.t.shadow.executions[e.ID]
	if !ok {
		return domain.Execution{}, wtberrors.ErrNotFound
	}
	if existing.Version != e.Version {
		return domain.Execution{}, wtberrors.ErrStaleState
	}
	e.Version = existing.Version + 1
	r.t.shadow.executions[e.ID] = e
	return e, nil
}

func (r *executionRepo) ListByWorkflow(ctx context.Context, workflowID string) ([]domain.Execution, error) {
	var out []domain.Execution
	for _, e := range r.t.shadow.executions {
		if e.WorkflowID == workflowID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *executionRepo) ListByStatus(ctx context.Context, status domain.ExecutionStatus) ([]domain.Execution, error) {
	var out []domain.Execution
	for _, e := range r.t.shadow.executions {
		if e.Status == status {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- workflow repository ----

type workflowRepo struct{ t *tx }

func workflowKey(name, version string) string { return name + "\x00" + version }

func (r *workflowRepo) Add(ctx context.Context, w domain.Workflow) (domain.Workflow, error) {
	if _, ok := r.t.shadow.workflows[w.ID]; ok {
		return domain.Workflow{}, wtberrors.ErrConflict
	}
	key := workflowKey(w.Name, w.Version)
	if _, ok := r.t.shadow.workflowIdx[key]; ok {
		return domain.Workflow{}, wtberrors.ErrConflict
	}
	r.t.shadow.workflows[w.ID] = w
	r.t.shadow.workflowIdx[key] = w.ID
	return w, nil
}

func (r *workflowRepo) GetByID(ctx context.Context, id string) (domain.Workflow, error) {
	w, ok := r.t.shadow.workflows[id]
	if !ok {
		return domain.Workflow{}, wtberrors.ErrNotFound
	}
	return w, nil
}

func (r *workflowRepo) GetByNameVersion(ctx context.Context, name, version string) (domain.Workflow, error) {
	id, ok := r.t.shadow.workflowIdx[workflowKey(name, version)]
	if !ok {
		return domain.Workflow{}, wtberrors.ErrNotFound
	}
	return r.t.shadow.workflows[id], nil
}

// ---- node variant repository ----

type variantRepo struct{ t *tx }

func (r *variantRepo) Add(ctx context.Context, v domain.NodeVariant) (domain.NodeVariant, error) {
	if _, ok := r.t.shadow.variants[v.ID]; ok {
		return domain.NodeVariant{}, wtberrors.ErrConflict
	}
	if v.IsActive {
		for id, other := range r.t.shadow.variants {
			if other.WorkflowID == v.WorkflowID && other.NodeID == v.NodeID && other.IsActive {
				other.IsActive = false
				r.t.shadow.variants[id] = other
			}
		}
	}
	r.t.shadow.variants[v.ID] = v
	return v, nil
}

func (r *variantRepo) GetActive(ctx context.Context, workflowID, nodeID string) (domain.NodeVariant, error) {
	for _, v := range r.t.shadow.variants {
		if v.WorkflowID == workflowID && v.NodeID == nodeID && v.IsActive {
			return v, nil
		}
	}
	return domain.NodeVariant{}, wtberrors.ErrNotFound
}

func (r *variantRepo) SetActive(ctx context.Context, variantID string) error {
	v, ok := r.t.shadow.variants[variantID]
	if !ok {
		return wtberrors.ErrNotFound
	}
	for id, other := range r.t.shadow.variants {
		if other.WorkflowID == v.WorkflowID && other.NodeID == v.NodeID {
			other.IsActive = id == variantID
			r.t.shadow.variants[id] = other
		}
	}
	return nil
}

func (r *variantRepo) ListByNode(ctx context.Context, workflowID, nodeID string) ([]domain.NodeVariant, error) {
	var out []domain.NodeVariant
	for _, v := range r.t.shadow.variants {
		if v.WorkflowID == workflowID && v.NodeID == nodeID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- checkpoint-file link repository ----

type linkRepo struct{ t *tx }

func (r *linkRepo) Add(ctx context.Context, link domain.CheckpointFileLink) error {
	r.t.shadow.links[link.CheckpointID] = link
	return nil
}

func (r *linkRepo) GetByCheckpoint(ctx context.Context, checkpointID string) (domain.CheckpointFileLink, error) {
	l, ok := r.t.shadow.links[checkpointID]
	if !ok {
		return domain.CheckpointFileLink{}, wtberrors.ErrNotFound
	}
	return l, nil
}

func (r *linkRepo) Delete(ctx context.Context, checkpointID string) error {
	delete(r.t.shadow.links, checkpointID)
	return nil
}

func (r *linkRepo) ListAll(ctx context.Context) ([]domain.CheckpointFileLink, error) {
	var out []domain.CheckpointFileLink
	for _, l := range r.t.shadow.links {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckpointID < out[j].CheckpointID })
	return out, nil
}

// ---- file commit repository ----

type commitRepo struct{ t *tx }

func (r *commitRepo) Add(ctx context.Context, commit domain.FileCommit) (domain.FileCommit, error) {
	if _, ok := r.t.shadow.commits[commit.ID]; ok {
		return domain.FileCommit{}, wtberrors.ErrConflict
	}
	r.t.shadow.commits[commit.ID] = commit
	return commit, nil
}

func (r *commitRepo) GetByID(ctx context.Context, id string) (domain.FileCommit, error) {
	c, ok := r.t.shadow.commits[id]
	if !ok {
		return domain.FileCommit{}, wtberrors.ErrNotFound
	}
	return c, nil
}

func (r *commitRepo) ListAll(ctx context.Context) ([]domain.FileCommit, error) {
	var out []domain.FileCommit
	for _, c := range r.t.shadow.commits {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- blob repository ----

type blobRepo struct{ t *tx }

func (r *blobRepo) PutIfAbsent(ctx context.Context, blob domain.Blob) error {
	if _, ok := r.t.shadow.blobs[blob.Hash]; ok {
		return nil
	}
	r.t.shadow.blobs[blob.Hash] = blob
	return nil
}

func (r *blobRepo) GetByHash(ctx context.Context, hash string) (domain.Blob, error) {
	b, ok := r.t.shadow.blobs[hash]
	if !ok {
		return domain.Blob{}, wtberrors.ErrNotFound
	}
	return b, nil
}

func (r *blobRepo) Exists(ctx context.Context, hash string) (bool, error) {
	_, ok := r.t.shadow.blobs[hash]
	return ok, nil
}

// ---- node boundary repository ----

type boundaryRepo struct{ t *tx }

func (r *boundaryRepo) Add(ctx context.Context, nb domain.NodeBoundary) (domain.NodeBoundary, error) {
	r.t.shadow.nextBoundary++
	nb.ID = r.t.shadow.nextBoundary
	r.t.shadow.boundaries[nb.ID] = nb
	return nb, nil
}

func (r *boundaryRepo) GetByID(ctx context.Context, id int64) (domain.NodeBoundary, error) {
	nb, ok := r.t.shadow.boundaries[id]
	if !ok {
		return domain.NodeBoundary{}, wtberrors.ErrNotFound
	}
	return nb, nil
}

func (r *boundaryRepo) Update(ctx context.Context, nb domain.NodeBoundary) error {
	if _, ok := r.t.shadow.boundaries[nb.ID]; !ok {
		return wtberrors.ErrNotFound
	}
	r.t.shadow.boundaries[nb.ID] = nb
	return nil
}

func (r *boundaryRepo) GetOpen(ctx context.Context, sessionID int64, nodeID string) (domain.NodeBoundary, error) {
	for _, nb := range r.t.shadow.boundaries {
		if nb.SessionID == sessionID && nb.NodeID == nodeID && nb.Status == domain.NodeBoundaryStarted {
			return nb, nil
		}
	}
	return domain.NodeBoundary{}, wtberrors.ErrNotFound
}

func (r *boundaryRepo) ListBySession(ctx context.Context, sessionID int64) ([]domain.NodeBoundary, error) {
	var out []domain.NodeBoundary
	for _, nb := range r.t.shadow.boundaries {
		if nb.SessionID == sessionID {
			out = append(out, nb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- outbox repository ----

type outboxRepo struct{ t *tx }

func (r *outboxRepo) Add(ctx context.Context, event outbox.Event) (outbox.Event, error) {
	if _, ok := r.t.shadow.events[event.ID.String()]; ok {
		return outbox.Event{}, wtberrors.ErrConflict
	}
	if event.IdempotencyKey != nil {
		if existingID, ok := r.t.shadow.idempotent[*event.IdempotencyKey]; ok {
			return r.t.shadow.events[existingID], wtberrors.ErrConflict
		}
	}
	r.t.shadow.nextEventPK++
	event.PK = r.t.shadow.nextEventPK
	r.t.shadow.events[event.ID.String()] = event
	r.t.shadow.eventPK[event.PK] = event.ID.String()
	if event.IdempotencyKey != nil {
		r.t.shadow.idempotent[*event.IdempotencyKey] = event.ID.String()
	}
	return event, nil
}

func (r *outboxRepo) GetByID(ctx context.Context, id string) (outbox.Event, error) {
	e, ok := r.t.shadow.events[id]
	if !ok {
		return outbox.Event{}, wtberrors.ErrNotFound
	}
	return e, nil
}

func (r *outboxRepo) GetByIdempotencyKey(ctx context.Context, key string) (outbox.Event, error) {
	id, ok := r.t.shadow.idempotent[key]
	if !ok {
		return outbox.Event{}, wtberrors.ErrNotFound
	}
	return r.t.shadow.events[id], nil
}

func (r *outboxRepo) sortedEvents() []outbox.Event {
	var out []outbox.Event
	for _, e := range r.t.shadow.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].PK < out[j].PK
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *outboxRepo) GetPending(ctx context.Context, limit int) ([]outbox.Event, error) {
	var out []outbox.Event
	for _, e := range r.sortedEvents() {
		if e.Status == outbox.StatusPending {
			out = append(out, e)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *outboxRepo) GetFailedForRetry(ctx context.Context, limit int) ([]outbox.Event, error) {
	var out []outbox.Event
	for _, e := range r.sortedEvents() {
		if e.Status == outbox.StatusFailed && e.RetryCount < e.MaxRetries {
			out = append(out, e)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *outboxRepo) Update(ctx context.Context, event outbox.Event) error {
	if _, ok := r.t.shadow.events[event.ID.String()]; !ok {
		return wtberrors.ErrNotFound
	}
	r.t.shadow.events[event.ID.String()] = event
	return nil
}

func (r *outboxRepo) ClaimPending(ctx context.Context, id string) (outbox.Event, error) {
	e, ok := r.t.shadow.events[id]
	if !ok {
		return outbox.Event{}, wtberrors.ErrNotFound
	}
	if e.Status != outbox.StatusPending {
		return outbox.Event{}, wtberrors.ErrConflict
	}
	e.Status = outbox.StatusProcessing
	r.t.shadow.events[id] = e
	return e, nil
}

func (r *outboxRepo) ReclaimStuckProcessing(ctx context.Context, olderThan time.Time) (int, error) {
	count := 0
	for id, e := range r.t.shadow.events {
		if e.Status == outbox.StatusProcessing && e.CreatedAt.Before(olderThan) {
			e.Status = outbox.StatusPending
			r.t.shadow.events[id] = e
			count++
		}
	}
	return count, nil
}

func (r *outboxRepo) ListStuckProcessing(ctx context.Context, olderThan time.Time) ([]outbox.Event, error) {
	var out []outbox.Event
	for _, e := range r.sortedEvents() {
		if e.Status == outbox.StatusProcessing && e.CreatedAt.Before(olderThan) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *outboxRepo) DeleteProcessed(ctx context.Context, before time.Time, limit int) (int, error) {
	count := 0
	for _, e := range r.sortedEvents() {
		if count >= limit {
			break
		}
		if e.Status == outbox.StatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			delete(r.t.shadow.events, e.ID.String())
			delete(r.t.shadow.eventPK, e.PK)
			if e.IdempotencyKey != nil {
				delete(r.t.shadow.idempotent, *e.IdempotencyKey)
			}
			count++
		}
	}
	return count, nil
}
