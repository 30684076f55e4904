package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixvault/internal/domain"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var body response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWriteOK(t *testing.T) {
	rec := httptest.NewRecorder()
	writeOK(rec, map[string]string{"id": "1"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decode(t, rec)
	assert.Equal(t, 0, body.Code)
	assert.Equal(t, "ok", body.Message)
}

func TestWriteErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.ErrParams("bad page size"), http.StatusBadRequest},
		{domain.ErrForbidden("no access"), http.StatusForbidden},
		{domain.ErrNotFound("missing"), http.StatusNotFound},
		{domain.ErrConflict("already exists"), http.StatusConflict},
		{domain.ErrQuotaExceeded("space is full"), http.StatusConflict},
		{domain.ErrUpstream("storage down"), http.StatusBadGateway},
		{domain.ErrSystem("broken"), http.StatusInternalServerError},
		{errors.New("plain error"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, tc.err)
		assert.Equal(t, tc.status, rec.Code, "error: %v", tc.err)

		body := decode(t, rec)
		assert.Equal(t, domain.CodeOf(tc.err), body.Code)
	}
}

// Внутренние подробности не утекают в ответ
func TestWriteErrorHidesInternals(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("pq: connection refused at 10.0.0.3"))

	body := decode(t, rec)
	assert.Equal(t, "internal error", body.Message)
}

func TestWriteUnauthorized(t *testing.T) {
	rec := httptest.NewRecorder()
	writeUnauthorized(rec)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
