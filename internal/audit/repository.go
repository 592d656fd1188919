package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for audit log operations.
type Repository interface {
	// LogAccess appends an entry, linking it to the current chain head.
	// Returns the created audit log entry.
	LogAccess(ctx context.Context, entry LogEntry) (*AuditLog, error)

	// QueryByEntity retrieves audit logs for a specific entity, sorted by time (newest first).
	// Limit specifies the maximum number of entries to return (0 = no limit).
	QueryByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*AuditLog, error)

	// QueryByUser retrieves audit logs for a specific user, sorted by time (newest first).
	// Limit specifies the maximum number of entries to return (0 = no limit).
	QueryByUser(ctx context.Context, userID string, limit int) ([]*AuditLog, error)

	// GetLastHash returns the hash of the newest entry, or "" when empty.
	GetLastHash(ctx context.Context) (string, error)

	// VerifyHashChain recomputes the chain over every stored entry.
	VerifyHashChain(ctx context.Context) (bool, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu   sync.RWMutex
	logs map[string]*AuditLog
	// Maintain insertion order for queries
	order []string
}

// NewInMemoryRepository creates a new in-memory audit repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		logs:  make(map[string]*AuditLog),
		order: make([]string, 0),
	}
}

// LogAccess records an access event to the audit log.
func (r *InMemoryRepository) LogAccess(ctx context.Context, entry LogEntry) (*AuditLog, error) {
	outcome := entry.Outcome
	if outcome == "" {
		outcome = OutcomeSuccess
	}
	log := &AuditLog{
		ID:         uuid.New().String(),
		UserID:     entry.UserID,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		Outcome:    outcome,
		Detail:     entry.Detail,
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
		RequestID:  entry.RequestID,
		IPAddress:  entry.IPAddress,
		UserAgent:  entry.UserAgent,
	}

	r.mu.Lock()
	if n := len(r.order); n > 0 {
		log.PreviousHash = hashEntry(r.logs[r.order[n-1]])
	}
	r.logs[log.ID] = log
	r.order = append(r.order, log.ID)
	r.mu.Unlock()

	// Return a copy to prevent external modification
	logCopy := *log
	return &logCopy, nil
}

// QueryByEntity retrieves audit logs for a specific entity, sorted by time (newest first).
func (r *InMemoryRepository) QueryByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*AuditLog, error) {
	return r.query(limit, func(log *AuditLog) bool {
		return log.EntityType == entityType && log.EntityID == entityID
	}), nil
}

// QueryByUser retrieves audit logs for a specific user, sorted by time (newest first).
func (r *InMemoryRepository) QueryByUser(ctx context.Context, userID string, limit int) ([]*AuditLog, error) {
	return r.query(limit, func(log *AuditLog) bool {
		return log.UserID == userID
	}), nil
}

func (r *InMemoryRepository) query(limit int, match func(*AuditLog) bool) []*AuditLog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*AuditLog
	for i := len(r.order) - 1; i >= 0; i-- {
		log := r.logs[r.order[i]]
		if !match(log) {
			continue
		}
		logCopy := *log
		results = append(results, &logCopy)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results
}

// GetLastHash returns the hash of the newest entry.
func (r *InMemoryRepository) GetLastHash(ctx context.Context) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) == 0 {
		return "", nil
	}
	return hashEntry(r.logs[r.order[len(r.order)-1]]), nil
}

// VerifyHashChain recomputes the chain in insertion order.
func (r *InMemoryRepository) VerifyHashChain(ctx context.Context) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	logs := make([]*AuditLog, 0, len(r.order))
	for _, id := range r.order {
		logs = append(logs, r.logs[id])
	}
	return VerifyChain(logs), nil
}
