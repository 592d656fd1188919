package audit

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/onnwee/smartplant/internal/middleware"
)

var (
	// ErrNilRepository is returned when a nil repository is passed to logging functions.
	ErrNilRepository = errors.New("audit repository cannot be nil")
	// ErrInvalidEntityType is returned when an invalid entity type is provided.
	ErrInvalidEntityType = errors.New("entity type cannot be empty")
	// ErrInvalidEntityID is returned when an invalid entity ID is provided.
	ErrInvalidEntityID = errors.New("entity ID cannot be empty")
	// ErrInvalidAction is returned when an invalid action is provided.
	ErrInvalidAction = errors.New("action cannot be empty")
)

// ValidEntityTypes defines the allowed entity types for audit logging.
var ValidEntityTypes = map[string]bool{
	EntitySighting: true,
}

// ValidActions defines the allowed actions for audit logging.
var ValidActions = map[string]bool{
	ActionSetMask:               true,
	ActionAccessPreciseLocation: true,
	ActionReviewSighting:        true,
}

// validateLogEntry validates the required fields of a log entry against whitelists.
func validateLogEntry(entityType, entityID, action string) error {
	if entityType == "" || !ValidEntityTypes[entityType] {
		return ErrInvalidEntityType
	}
	if entityID == "" {
		return ErrInvalidEntityID
	}
	if action == "" || !ValidActions[action] {
		return ErrInvalidAction
	}
	return nil
}

// requestMeta is the client metadata captured from the inbound HTTP request.
type requestMeta struct {
	ipAddress string
	userAgent string
}

type requestMetaKey struct{}

// WithRequestMetadata returns a context carrying the client IP and user agent
// of r so entries recorded deeper in the pipeline include them.
func WithRequestMetadata(r *http.Request) context.Context {
	return context.WithValue(r.Context(), requestMetaKey{}, requestMeta{
		ipAddress: extractIPAddress(r),
		userAgent: r.UserAgent(),
	})
}

// extractIPAddress extracts the client IP address from an HTTP request.
// It checks X-Forwarded-For, X-Real-IP, and RemoteAddr in that order.
// The port is stripped from the IP address to ensure compatibility with database storage.
func extractIPAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		firstIP := xff
		if idx := strings.Index(xff, ","); idx != -1 {
			firstIP = xff[:idx]
		}
		if firstIP = strings.TrimSpace(firstIP); firstIP != "" {
			return stripPort(firstIP)
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return stripPort(xri)
	}

	return stripPort(r.RemoteAddr)
}

func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// Record validates entry, fills request ID and client metadata from ctx when
// absent, and appends it to repo.
//
// Error handling: fail-closed. If the entry cannot be written the error is
// returned and the caller must not report the audited action as successful.
func Record(ctx context.Context, repo Repository, entry LogEntry) error {
	if repo == nil {
		return ErrNilRepository
	}
	if err := validateLogEntry(entry.EntityType, entry.EntityID, entry.Action); err != nil {
		return err
	}

	if entry.UserID == "" {
		entry.UserID = middleware.GetUserID(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = middleware.GetRequestID(ctx)
	}
	if meta, ok := ctx.Value(requestMetaKey{}).(requestMeta); ok {
		if entry.IPAddress == "" {
			entry.IPAddress = meta.ipAddress
		}
		if entry.UserAgent == "" {
			entry.UserAgent = meta.userAgent
		}
	}

	_, err := repo.LogAccess(ctx, entry)
	return err
}

// LogAccess records a successful sighting-scoped action by userID.
func LogAccess(ctx context.Context, repo Repository, userID, entityID, action, detail string) error {
	return Record(ctx, repo, LogEntry{
		UserID:     userID,
		EntityType: EntitySighting,
		EntityID:   entityID,
		Action:     action,
		Outcome:    OutcomeSuccess,
		Detail:     detail,
	})
}
