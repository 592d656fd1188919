package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// hashEntry returns the SHA-256 digest of every stored field of log,
// including its PreviousHash, so each entry commits to the whole chain before it.
func hashEntry(log *AuditLog) string {
	fields := []string{
		log.ID,
		log.UserID,
		log.EntityType,
		log.EntityID,
		log.Action,
		log.Outcome,
		log.Detail,
		log.CreatedAt.UTC().Format(time.RFC3339Nano),
		log.RequestID,
		log.IPAddress,
		log.UserAgent,
		log.PreviousHash,
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// VerifyChain reports whether logs, given oldest first, form an unbroken chain.
// The first entry must have an empty PreviousHash.
func VerifyChain(logs []*AuditLog) bool {
	prev := ""
	for _, log := range logs {
		if log.PreviousHash != prev {
			return false
		}
		prev = hashEntry(log)
	}
	return true
}
