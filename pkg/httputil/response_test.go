package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/orgs"
)

func TestStatusFromError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", &orgs.NotFoundError{Resource: "organization", ID: "org-1"}, http.StatusNotFound},
		{"invalid argument", &orgs.InvalidArgumentError{Field: "email", Reason: "required"}, http.StatusBadRequest},
		{"conflict", &orgs.ConflictError{Resource: "membership"}, http.StatusConflict},
		{"invitation exists", &orgs.InvitationExistsError{OrganizationID: "org-1", Email: "a@b.co"}, http.StatusConflict},
		{"forbidden", &orgs.ForbiddenError{Reason: "not a member"}, http.StatusForbidden},
		{"unclassified", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StatusFromError(tc.err))
		})
	}
}

func TestWriteDomainError(t *testing.T) {
	t.Run("domain errors carry their message", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteDomainError(rec, &orgs.NotFoundError{Resource: "organization", ID: "org-1"})

		assert.Equal(t, http.StatusNotFound, rec.Code)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Contains(t, body.Error, "organization not found")
	})

	t.Run("internal errors never leak detail", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteDomainError(rec, errors.New("pq: connection to 10.0.0.5 refused"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "internal server error", body.Error)
	})
}

func TestWriteJSONHelpers(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		rec := httptest.NewRecorder()
		require.NoError(t, WriteCreated(rec, map[string]string{"id": "org-1"}))
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	})

	t.Run("no content", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteNoContent(rec)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Zero(t, rec.Body.Len())
	})

	t.Run("unauthorized", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteUnauthorized(rec, "authentication required")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
