package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/ratelimit-planes/internal/core/domain/audit"
)

const defaultAuditCapacity = 10000

// AuditRepository keeps the most recent audit entries in a fixed-size ring. Once
// full, each new entry evicts the oldest one.
type AuditRepository struct {
	mu      sync.RWMutex
	entries []*audit.AuditEntry
	next    int
	full    bool
	logger  *logrus.Logger
}

// NewAuditRepository creates a ring holding at most capacity entries.
func NewAuditRepository(capacity int, logger *logrus.Logger) *AuditRepository {
	if capacity <= 0 {
		capacity = defaultAuditCapacity
	}
	return &AuditRepository{
		entries: make([]*audit.AuditEntry, capacity),
		logger:  logger,
	}
}

// Create appends an entry, evicting the oldest when the ring is full.
func (r *AuditRepository) Create(_ context.Context, e *audit.AuditEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	cp := *e

	r.mu.Lock()
	evicted := r.full
	r.entries[r.next] = &cp
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()

	if evicted && r.logger != nil {
		r.logger.WithFields(logrus.Fields{"capacity": len(r.entries)}).Debug("audit ring full; oldest entry evicted")
	}
	return nil
}

// ordered returns the live entries oldest first. Callers hold r.mu.
func (r *AuditRepository) ordered() []*audit.AuditEntry {
	if !r.full {
		return r.entries[:r.next]
	}
	out := make([]*audit.AuditEntry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	return append(out, r.entries[:r.next]...)
}

// List returns matching entries newest first, paginated by filter.Limit/Offset.
func (r *AuditRepository) List(_ context.Context, filter *audit.AuditFilter) ([]*audit.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.ordered()
	matched := make([]*audit.AuditEntry, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if filter.Matches(all[i]) {
			cp := *all[i]
			matched = append(matched, &cp)
		}
	}

	if filter == nil {
		return matched, nil
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*audit.AuditEntry{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Count returns the number of entries matching filter, ignoring pagination.
func (r *AuditRepository) Count(_ context.Context, filter *audit.AuditFilter) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.ordered() {
		if filter.Matches(e) {
			n++
		}
	}
	return n, nil
}
