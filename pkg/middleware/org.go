package middleware

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/orgs"
)

// OrgIDVar is the mux route variable the scope gate reads the target
// organization ID from.
const OrgIDVar = "org_id"

// OrgScope gates org-scoped routes on membership. The host's
// authentication layer must have placed the user ID in the request
// context; the gate then denies any request whose user has no
// membership row in the target organization. Denial means the resource
// does not exist as far as the caller is concerned, but the gate
// answers 403 and leaves existence-hiding (404) to hosts that want it.
type OrgScope struct {
	resolver *orgs.ScopeResolver
	audit    audit.Logger
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// NewOrgScope creates the scope-gate middleware. auditLogger and
// metrics may be nil.
func NewOrgScope(resolver *orgs.ScopeResolver, auditLogger audit.Logger, metrics *observability.Metrics, logger *observability.Logger) *OrgScope {
	if auditLogger == nil {
		auditLogger = audit.NewNopLogger()
	}
	return &OrgScope{
		resolver: resolver,
		audit:    auditLogger,
		metrics:  metrics,
		logger:   logger,
	}
}

// RequireMember returns middleware that admits only members of the
// organization named by the route's {org_id} variable. On success the
// target organization ID is added to the request context.
func (m *OrgScope) RequireMember() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			orgID := mux.Vars(r)[OrgIDVar]
			if orgID == "" {
				httputil.WriteErrorMessage(w, http.StatusBadRequest, "organization id required")
				return
			}

			userID, ok := contextkeys.UserID(r.Context())
			if !ok || userID == "" {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			inScope, err := m.resolver.IsInScope(r.Context(), userID, orgID)
			if err != nil {
				m.recordCheck("error")
				if m.logger != nil {
					m.logger.WithError(err).WithField("organization_id", orgID).Error("Scope check failed")
				}
				httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
				return
			}

			if !inScope {
				m.recordCheck("denied")
				_ = m.audit.Log(r.Context(), &audit.Event{
					Type:           audit.EventTypeScopeDenied,
					OrganizationID: orgID,
					ActorID:        &userID,
					Detail: map[string]string{
						"path": r.URL.Path,
					},
				})
				httputil.WriteForbidden(w, "not a member of this organization")
				return
			}

			m.recordCheck("allowed")
			next.ServeHTTP(w, r.WithContext(contextkeys.WithOrgID(r.Context(), orgID)))
		})
	}
}

func (m *OrgScope) recordCheck(outcome string) {
	if m.metrics != nil {
		m.metrics.ScopeChecksTotal.WithLabelValues(outcome).Inc()
	}
}
