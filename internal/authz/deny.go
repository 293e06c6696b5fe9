package authz

import (
	"context"
	"net/http"

	"github.com/novaos/lensgate/internal/audit"
)

// DenialReason is the fixed taxonomy every authorization rejection is
// classified under, so audit queries and alerting can group on it.
type DenialReason string

const (
	ReasonUnauthenticated    DenialReason = "unauthenticated"
	ReasonMissingRole        DenialReason = "missing_role"
	ReasonMissingPermission  DenialReason = "missing_permission"
	ReasonActionForbidden    DenialReason = "action_forbidden"
	ReasonNotOwner           DenialReason = "not_owner"
)

// statusForReason maps a denial reason to the HTTP status returned to
// the caller. Ownership failures map to 404 rather than 403 so an
// unauthorized caller can't distinguish "forbidden" from "doesn't
// exist" and enumerate other users' resources by status code alone.
func statusForReason(reason DenialReason) int {
	switch reason {
	case ReasonUnauthenticated:
		return http.StatusUnauthorized
	case ReasonNotOwner:
		return http.StatusNotFound
	default:
		return http.StatusForbidden
	}
}

// denialAuditor emits an audit entry for every rejected request. A nil
// Store is valid and simply skips emission, so middleware can be
// constructed without an audit log in tests that don't care about it.
type denialAuditor struct {
	store audit.Store
}

func (d denialAuditor) emit(ctx context.Context, userID string, reason DenialReason, path, detail string) {
	if d.store == nil {
		return
	}
	_, _ = d.store.Append(ctx, audit.Entry{
		UserID:   userID,
		Category: "authorization",
		Action:   "authorization_denied",
		Severity: audit.SeverityMedium,
		Success:  false,
		Data: map[string]any{
			"reason": string(reason),
			"path":   path,
			"detail": detail,
		},
	})
}
