package problems

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "realmauth/pkg/domainerrors"
)

func TestStatus(t *testing.T) {
	cases := map[dErrors.Code]int{
		dErrors.CodeValidation:           400,
		dErrors.CodeBadRequest:           400,
		dErrors.CodeConflict:             409,
		dErrors.CodeNotFound:             404,
		dErrors.CodeUnauthorized:         401,
		dErrors.CodeForbidden:            403,
		dErrors.CodeUnavailable:          503,
		dErrors.CodeAdminUnauthenticated: 502,
		dErrors.CodeInternal:             500,
	}
	for code, want := range cases {
		assert.Equal(t, want, Status(code), code)
	}
}

func TestWriteConflict(t *testing.T) {
	t.Setenv("PROBLEM_BASE_URL", "https://auth.test/problems/")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/companies", nil)

	Write(rec, req, dErrors.New(dErrors.CodeConflict, `realm "acme-inc" already exists`))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "conflict", p.Code)
	assert.Equal(t, "https://auth.test/problems/conflict", p.Type)
	assert.Equal(t, "/admin/companies", p.Instance)
	assert.Contains(t, p.Detail, "already exists")
}

func TestWriteHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, httptest.NewRequest(http.MethodGet, "/x", nil), errors.New("pq: password=hunter2"))

	var p Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, 500, p.Status)
	assert.Equal(t, "internal_error", p.Code)
	assert.Empty(t, p.Detail)
}

func TestWriteUnauthorizedChallenge(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, nil, dErrors.New(dErrors.CodeUnauthorized, "token expired"))
	assert.Equal(t, 401, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
}

func TestAdminUnauthenticatedType(t *testing.T) {
	p := From(dErrors.New(dErrors.CodeAdminUnauthenticated, "admin login rejected"), "")
	assert.Equal(t, 502, p.Status)
	assert.Equal(t, Type("admin-unauthenticated"), p.Type)
}
