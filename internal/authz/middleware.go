package authz

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/novaos/lensgate/internal/audit"
)

// Middleware bundles a verifier, ownership registry, and audit store
// behind the constructors every route chain composes from. Zero values
// for registry/auditLog are valid: RequireOwnership returns a deny-all
// middleware without a registry, and denials simply aren't audited
// without a store.
type Middleware struct {
	verifier Verifier
	registry *OwnershipRegistry
	auditor  denialAuditor
}

// NewMiddleware builds the middleware set. registry and auditLog may be
// nil.
func NewMiddleware(verifier Verifier, registry *OwnershipRegistry, auditLog audit.Store) *Middleware {
	return &Middleware{verifier: verifier, registry: registry, auditor: denialAuditor{store: auditLog}}
}

func denyJSON(c echo.Context, status int, reason DenialReason) error {
	return c.JSON(status, map[string]string{"error": string(reason)})
}

// Authenticate verifies the bearer token on every request and, on
// success, stores the resulting Principal on the request context for
// downstream handlers and middleware to read via PrincipalFromContext.
func (m *Middleware) Authenticate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				m.auditor.emit(c.Request().Context(), "", ReasonUnauthenticated, c.Path(), "missing bearer token")
				return denyJSON(c, statusForReason(ReasonUnauthenticated), ReasonUnauthenticated)
			}
			tokenString := strings.TrimPrefix(header, "Bearer ")

			principal, err := m.verifier.Verify(c.Request().Context(), tokenString)
			if err != nil {
				m.auditor.emit(c.Request().Context(), "", ReasonUnauthenticated, c.Path(), err.Error())
				return denyJSON(c, statusForReason(ReasonUnauthenticated), ReasonUnauthenticated)
			}

			ctx := WithPrincipal(c.Request().Context(), principal)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set(string(principalKey), principal)
			return next(c)
		}
	}
}

func principalFromEcho(c echo.Context) (Principal, bool) {
	if p, ok := c.Get(string(principalKey)).(Principal); ok {
		return p, true
	}
	return PrincipalFromContext(c.Request().Context())
}

// requireAuthenticated is the shared guard every other constructor
// opens with: no Principal on the context means Authenticate either
// wasn't run or already denied the request.
func (m *Middleware) requireAuthenticated(c echo.Context) (Principal, bool) {
	p, ok := principalFromEcho(c)
	if !ok {
		m.auditor.emit(c.Request().Context(), "", ReasonUnauthenticated, c.Path(), "no principal on context")
		_ = denyJSON(c, statusForReason(ReasonUnauthenticated), ReasonUnauthenticated)
	}
	return p, ok
}

// RequireRole denies unless the principal holds every role in roles.
func (m *Middleware) RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := m.requireAuthenticated(c)
			if !ok {
				return nil
			}
			for _, role := range roles {
				if !p.HasRole(role) {
					m.auditor.emit(c.Request().Context(), p.UserID, ReasonMissingRole, c.Path(), role)
					return denyJSON(c, statusForReason(ReasonMissingRole), ReasonMissingRole)
				}
			}
			return next(c)
		}
	}
}

// RequireAnyRole denies unless the principal holds at least one of roles.
func (m *Middleware) RequireAnyRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := m.requireAuthenticated(c)
			if !ok {
				return nil
			}
			for _, role := range roles {
				if p.HasRole(role) {
					return next(c)
				}
			}
			m.auditor.emit(c.Request().Context(), p.UserID, ReasonMissingRole, c.Path(), strings.Join(roles, "|"))
			return denyJSON(c, statusForReason(ReasonMissingRole), ReasonMissingRole)
		}
	}
}

// RequirePermission denies unless the principal holds permission.
func (m *Middleware) RequirePermission(permission string) echo.MiddlewareFunc {
	return m.RequireAllPermissions(permission)
}

// RequireAnyPermission denies unless the principal holds at least one
// of permissions.
func (m *Middleware) RequireAnyPermission(permissions ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := m.requireAuthenticated(c)
			if !ok {
				return nil
			}
			for _, perm := range permissions {
				if p.HasPermission(perm) {
					return next(c)
				}
			}
			m.auditor.emit(c.Request().Context(), p.UserID, ReasonMissingPermission, c.Path(), strings.Join(permissions, "|"))
			return denyJSON(c, statusForReason(ReasonMissingPermission), ReasonMissingPermission)
		}
	}
}

// RequireAllPermissions denies unless the principal holds every
// permission in permissions.
func (m *Middleware) RequireAllPermissions(permissions ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := m.requireAuthenticated(c)
			if !ok {
				return nil
			}
			for _, perm := range permissions {
				if !p.HasPermission(perm) {
					m.auditor.emit(c.Request().Context(), p.UserID, ReasonMissingPermission, c.Path(), perm)
					return denyJSON(c, statusForReason(ReasonMissingPermission), ReasonMissingPermission)
				}
			}
			return next(c)
		}
	}
}

// RequireAction denies unless allowed returns true for the principal.
// It's the escape hatch for checks that don't reduce to a role or
// permission name — e.g. tier-gated actions, feature flags.
func (m *Middleware) RequireAction(actionName string, allowed func(Principal) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := m.requireAuthenticated(c)
			if !ok {
				return nil
			}
			if !allowed(p) {
				m.auditor.emit(c.Request().Context(), p.UserID, ReasonActionForbidden, c.Path(), actionName)
				return denyJSON(c, statusForReason(ReasonActionForbidden), ReasonActionForbidden)
			}
			return next(c)
		}
	}
}

// RequireOwnership denies unless the registry confirms the principal
// owns the entity named by the path parameter entityIDParam, under
// entityType. A registry lookup miss (ErrNoChecker) or a false
// ownership result both produce the same 404, so a caller probing for
// other users' resources learns nothing from the response.
func (m *Middleware) RequireOwnership(entityType, entityIDParam string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := m.requireAuthenticated(c)
			if !ok {
				return nil
			}
			entityID := c.Param(entityIDParam)
			if m.registry == nil {
				m.auditor.emit(c.Request().Context(), p.UserID, ReasonNotOwner, c.Path(), entityType+":"+entityID)
				return denyJSON(c, statusForReason(ReasonNotOwner), ReasonNotOwner)
			}
			owns, err := m.registry.Check(c.Request().Context(), entityType, p.UserID, entityID)
			if err != nil || !owns {
				m.auditor.emit(c.Request().Context(), p.UserID, ReasonNotOwner, c.Path(), entityType+":"+entityID)
				return denyJSON(c, statusForReason(ReasonNotOwner), ReasonNotOwner)
			}
			return next(c)
		}
	}
}
