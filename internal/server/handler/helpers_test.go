package handler

import (
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdao/ledgerd/internal/domain"
)

func TestParseAmount(t *testing.T) {
	n, err := parseAmount("1000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, 0, n.Cmp(big.NewInt(1_000_000_000_000_000_000)))

	for _, bad := range []string{"", "0", "-1", "1.5", "1e18", "0x10", "abc"} {
		_, err := parseAmount(bad)
		assert.Error(t, err, "amount %q", bad)
	}
}

func TestBigString(t *testing.T) {
	assert.Equal(t, "0", bigString(nil))
	assert.Equal(t, "42", bigString(big.NewInt(42)))
}

func TestParseListOpts(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", 50, 0},
		{"limit=10&offset=20", 10, 20},
		{"limit=9999", 500, 0},
		{"limit=-5&offset=-3", 50, 0},
		{"limit=abc&offset=xyz", 50, 0},
	}

	for _, tc := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/items?"+tc.query, nil)
		opts := parseListOpts(r)
		assert.Equal(t, tc.wantLimit, opts.Limit, "query %q", tc.query)
		assert.Equal(t, tc.wantOffset, opts.Offset, "query %q", tc.query)
	}
}

func TestWriteDomainErrorStatusMapping(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("proposal 7: %w", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("caller: %w", domain.ErrUnauthorized), http.StatusForbidden},
		{fmt.Errorf("vote closed: %w", domain.ErrInvalidState), http.StatusConflict},
		{fmt.Errorf("agent: %w", domain.ErrAlreadyExists), http.StatusConflict},
		{fmt.Errorf("bridge: %w", domain.ErrHalted), http.StatusServiceUnavailable},
		{fmt.Errorf("fee: %w", domain.ErrOutOfBounds), http.StatusUnprocessableEntity},
		{fmt.Errorf("shares: %w", domain.ErrInsufficient), http.StatusUnprocessableEntity},
		{fmt.Errorf("pool exhausted"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/test", nil)
		writeDomainError(rec, req, logger, "test op", tc.err)

		assert.Equal(t, tc.want, rec.Code, "error %v", tc.err)
		assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
		assert.Contains(t, rec.Body.String(), "error")
	}

	// Unclassified errors must not leak internals to the client.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/test", nil)
	writeDomainError(rec, req, logger, "deposit", fmt.Errorf("dsn=postgres://user:pw@host"))
	assert.NotContains(t, rec.Body.String(), "postgres://")
	assert.Contains(t, rec.Body.String(), "deposit failed")
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, map[string]string{"status": "ok"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
