package jobs

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry owns the records of one job family. A single mutex guards
// every mutation and every read, and reads hand out deep snapshots so a
// poller can never observe a record mid-update.
type Registry[D Detail[D]] struct {
	mu        sync.Mutex
	records   map[string]*Record[D]
	retention time.Duration
	now       func() time.Time
}

// NewRegistry builds a registry with the given retention window for
// terminal records. A retention of zero or less disables eviction. The
// clock may be nil, in which case time.Now is used.
func NewRegistry[D Detail[D]](retention time.Duration, now func() time.Time) *Registry[D] {
	if now == nil {
		now = time.Now
	}
	return &Registry[D]{
		records:   make(map[string]*Record[D]),
		retention: retention,
		now:       now,
	}
}

// Create registers a new queued record and returns its snapshot. Expired
// terminal records are evicted on the way in.
func (r *Registry[D]) Create(sessionID string, detail D) Record[D] {
	rec := &Record[D]{
		ID:        newID(),
		SessionID: sessionID,
		Status:    StatusQueued,
		CreatedAt: r.now(),
		Detail:    detail,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()
	r.records[rec.ID] = rec
	return rec.snapshot()
}

// Get returns a snapshot of the record, or false once it has been
// evicted or never existed.
func (r *Registry[D]) Get(id string) (Record[D], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()

	rec, ok := r.records[id]
	if !ok {
		var zero Record[D]
		return zero, false
	}
	return rec.snapshot(), true
}

// Update runs fn on the record under the registry lock. Whatever
// progress fn leaves behind is clamped to max(previous, min(new, 1)) so
// pollers observe monotonically non-decreasing progress.
func (r *Registry[D]) Update(id string, fn func(*Record[D])) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false
	}
	prev := rec.Progress
	fn(rec)
	if rec.Progress > 1 {
		rec.Progress = 1
	}
	if rec.Progress < prev {
		rec.Progress = prev
	}
	return true
}

// Start marks the record running and stamps StartedAt.
func (r *Registry[D]) Start(id string) bool {
	now := r.now()
	return r.Update(id, func(rec *Record[D]) {
		rec.Status = StatusRunning
		rec.StartedAt = now
	})
}

// Finish moves the record to a terminal status and stamps FinishedAt.
// fn, when non-nil, runs first inside the same lock acquisition so
// results and step labels land atomically with the status change. A
// successful finish forces progress to 1.
func (r *Registry[D]) Finish(id string, status Status, errMsg string, fn func(*Record[D])) bool {
	now := r.now()
	return r.Update(id, func(rec *Record[D]) {
		if fn != nil {
			fn(rec)
		}
		rec.Status = status
		rec.Error = errMsg
		rec.FinishedAt = now
		if status == StatusCompleted || status == StatusCompletedWithErrors {
			rec.Progress = 1
		}
	})
}

func (r *Registry[D]) evictLocked() {
	if r.retention <= 0 {
		return
	}
	now := r.now()
	for id, rec := range r.records {
		if !rec.Status.Terminal() || rec.FinishedAt.IsZero() {
			continue
		}
		if now.Sub(rec.FinishedAt) > r.retention {
			delete(r.records, id)
		}
	}
}

func newID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
