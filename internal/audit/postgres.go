package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/smartplant/internal/tracing"
)

// chainLockKey serialises appends so every entry links to the true chain head.
const chainLockKey = 0x617564 // "aud"

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const auditColumns = `id, user_id, entity_type, entity_id, action, outcome, detail,
		       created_at, request_id, ip_address, user_agent, previous_hash`

// LogAccess appends an entry inside a transaction holding the chain lock.
func (r *PostgresRepository) LogAccess(ctx context.Context, entry LogEntry) (log *AuditLog, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_logs", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	outcome := entry.Outcome
	if outcome == "" {
		outcome = OutcomeSuccess
	}
	log = &AuditLog{
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

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, chainLockKey); err != nil {
		return nil, fmt.Errorf("failed to acquire audit chain lock: %w", err)
	}

	head, err := scanAuditLog(tx.QueryRowContext(ctx, `
		SELECT `+auditColumns+`
		FROM audit_logs
		ORDER BY seq DESC
		LIMIT 1
	`))
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read audit chain head: %w", err)
	}
	if head != nil {
		log.PreviousHash = hashEntry(head)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, user_id, entity_type, entity_id, action, outcome, detail,
			created_at, request_id, ip_address, user_agent, previous_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		log.ID, log.UserID, log.EntityType, log.EntityID, log.Action, log.Outcome, log.Detail,
		log.CreatedAt, log.RequestID, log.IPAddress, log.UserAgent, log.PreviousHash,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit log: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit audit log: %w", err)
	}
	return log, nil
}

// QueryByEntity retrieves audit logs for a specific entity, newest first.
func (r *PostgresRepository) QueryByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*AuditLog, error) {
	return r.query(ctx, `WHERE entity_type = $1 AND entity_id = $2`, limit, entityType, entityID)
}

// QueryByUser retrieves audit logs for a specific user, newest first.
func (r *PostgresRepository) QueryByUser(ctx context.Context, userID string, limit int) ([]*AuditLog, error) {
	return r.query(ctx, `WHERE user_id = $1`, limit, userID)
}

func (r *PostgresRepository) query(ctx context.Context, where string, limit int, args ...any) (logs []*AuditLog, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_logs", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	q := `SELECT ` + auditColumns + ` FROM audit_logs ` + where + ` ORDER BY seq DESC`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return logs, nil
}

// GetLastHash returns the hash of the newest entry.
func (r *PostgresRepository) GetLastHash(ctx context.Context) (string, error) {
	head, err := scanAuditLog(r.db.QueryRowContext(ctx, `
		SELECT `+auditColumns+`
		FROM audit_logs
		ORDER BY seq DESC
		LIMIT 1
	`))
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read audit chain head: %w", err)
	}
	return hashEntry(head), nil
}

// VerifyHashChain loads every entry oldest first and recomputes the chain.
func (r *PostgresRepository) VerifyHashChain(ctx context.Context) (bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+auditColumns+` FROM audit_logs ORDER BY seq ASC`)
	if err != nil {
		return false, fmt.Errorf("failed to load audit chain: %w", err)
	}
	defer rows.Close()

	var logs []*AuditLog
	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return false, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return VerifyChain(logs), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuditLog(row rowScanner) (*AuditLog, error) {
	log := &AuditLog{}
	err := row.Scan(
		&log.ID,
		&log.UserID,
		&log.EntityType,
		&log.EntityID,
		&log.Action,
		&log.Outcome,
		&log.Detail,
		&log.CreatedAt,
		&log.RequestID,
		&log.IPAddress,
		&log.UserAgent,
		&log.PreviousHash,
	)
	if err != nil {
		return nil, err
	}
	log.CreatedAt = log.CreatedAt.UTC()
	return log, nil
}
