package orgs

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// DefaultInvitationTTL is the invitation expiry applied when a create request
// does not specify one.
const DefaultInvitationTTL = 72 * time.Hour

// ErrNoDirectory is returned by invitation create and accept when the service
// was constructed without a UserDirectory.
var ErrNoDirectory = errors.New("user directory not configured")

// PermissionInvalidator drops a cached permission resolution when a user's
// role assignments in an organization change. rbac.PermissionCache and
// rbac.Resolver both satisfy it.
type PermissionInvalidator interface {
	Invalidate(ctx context.Context, organizationID, userID string)
}

// PostgresService implements the organization, membership, and invitation
// stores using PostgreSQL
type PostgresService struct {
	db        *sql.DB
	directory UserDirectory
	audit     audit.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer

	// PrimaryOnFirstJoin marks a membership created through invitation
	// acceptance as the user's primary organization when it is their first.
	PrimaryOnFirstJoin bool

	// InvitationTTL is the pending lifetime applied when a create request
	// gives no explicit expiry.
	InvitationTTL time.Duration

	// Invalidator, when set, is notified after every membership role
	// mutation so cached permission resolutions do not serve revoked or
	// missing grants until their TTL lapses.
	Invalidator PermissionInvalidator
}

// NewPostgresService creates a new PostgresService. The audit logger and
// metrics are optional; nil disables them. The directory may be nil for
// hosts that never create or accept invitations (housekeeping daemons);
// those two paths fail with an explicit error without one.
func NewPostgresService(db *sql.DB, directory UserDirectory, auditLogger audit.Logger, metrics *observability.Metrics) *PostgresService {
	if auditLogger == nil {
		auditLogger = audit.NewNopLogger()
	}
	return &PostgresService{
		db:                 db,
		directory:          directory,
		audit:              auditLogger,
		metrics:            metrics,
		tracer:             otel.Tracer("gatehouse/orgs"),
		PrimaryOnFirstJoin: true,
		InvitationTTL:      DefaultInvitationTTL,
	}
}

// invalidatePermissions notifies the invalidator, if any, that the user's
// role assignments in the organization changed.
func (s *PostgresService) invalidatePermissions(ctx context.Context, orgID, userID string) {
	if s.Invalidator != nil {
		s.Invalidator.Invalidate(ctx, orgID, userID)
	}
}

// CreateOrganization creates a new organization
func (s *PostgresService) CreateOrganization(ctx context.Context, req *CreateOrgRequest) (*Organization, error) {
	ctx, span := s.tracer.Start(ctx, "orgs.CreateOrganization")
	defer span.End()

	org := &Organization{
		ID:          uuid.NewString(),
		TenantID:    req.TenantID,
		Slug:        req.Slug,
		DisplayName: req.DisplayName,
		Metadata:    req.Metadata,
		Status:      OrgStatusActive,
	}
	if org.Slug == "" {
		org.Slug = generateSlug(org.DisplayName)
	}
	if org.Slug == "" {
		return nil, &InvalidArgumentError{Field: "slug", Reason: "slug or display name is required"}
	}

	metadataJSON, err := json.Marshal(metadataOrEmpty(org.Metadata))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO organizations (id, tenant_id, slug, display_name, metadata, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query, org.ID, org.TenantID, org.Slug,
		org.DisplayName, metadataJSON, org.Status).
		Scan(&org.CreatedAt, &org.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, &ConflictError{Resource: "organization", Detail: "slug already in use: " + org.Slug}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}

	return org, nil
}

// GetOrganization retrieves an organization by ID, or nil when absent
func (s *PostgresService) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	query := `
		SELECT id, tenant_id, slug, display_name, metadata, status, created_at, updated_at, archived_at
		FROM organizations
		WHERE id = $1
	`
	return s.scanOrganization(s.db.QueryRowContext(ctx, query, id))
}

// GetOrganizationBySlug retrieves an organization by slug within a tenant,
// or nil when absent. An empty tenantID matches organizations without one.
func (s *PostgresService) GetOrganizationBySlug(ctx context.Context, tenantID, slug string) (*Organization, error) {
	query := `
		SELECT id, tenant_id, slug, display_name, metadata, status, created_at, updated_at, archived_at
		FROM organizations
		WHERE COALESCE(tenant_id, '') = $1 AND slug = $2
	`
	return s.scanOrganization(s.db.QueryRowContext(ctx, query, tenantID, slug))
}

// ArchiveOrganization marks an organization as archived
func (s *PostgresService) ArchiveOrganization(ctx context.Context, id string) error {
	query := `
		UPDATE organizations
		SET status = $1, archived_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status != $1
	`
	result, err := s.db.ExecContext(ctx, query, OrgStatusArchived, id)
	if err != nil {
		return fmt.Errorf("failed to archive organization: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &NotFoundError{Resource: "organization", ID: id}
	}

	return nil
}

func (s *PostgresService) scanOrganization(row *sql.Row) (*Organization, error) {
	org := &Organization{}
	var metadataJSON []byte
	err := row.Scan(
		&org.ID, &org.TenantID, &org.Slug, &org.DisplayName, &metadataJSON,
		&org.Status, &org.CreatedAt, &org.UpdatedAt, &org.ArchivedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	if err := json.Unmarshal(metadataJSON, &org.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return org, nil
}

func metadataOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505)
func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}

// generateSlug derives a URL-safe slug from a display name
func generateSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
	return slug
}

// generateCode generates an unguessable invitation code
func generateCode() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
