package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func callWithAuth(t *testing.T, keys RoleKeys, roles []Role, setAuth func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	called := false
	h := RequireRole(keys, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}, roles...)

	req := httptest.NewRequest(http.MethodPost, "/api/test", nil)
	if setAuth != nil {
		setAuth(req)
	}
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code == http.StatusNoContent {
		assert.True(t, called)
	} else {
		assert.False(t, called)
	}
	return rec
}

func TestRequireRoleDisabledWhenNoKeys(t *testing.T) {
	rec := callWithAuth(t, RoleKeys{}, []Role{RoleAdmin}, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequireRoleMatrix(t *testing.T) {
	keys := RoleKeys{
		Admin:     "adm",
		Governor:  "gov",
		Reporter:  "rep",
		Validator: "val",
	}

	tests := []struct {
		name  string
		roles []Role
		token string
		want  int
	}{
		{"governor key on governor route", []Role{RoleGovernor}, "gov", http.StatusNoContent},
		{"admin key satisfies governor route", []Role{RoleGovernor}, "adm", http.StatusNoContent},
		{"reporter key rejected on governor route", []Role{RoleGovernor}, "rep", http.StatusUnauthorized},
		{"validator key on validator route", []Role{RoleValidator}, "val", http.StatusNoContent},
		{"governor key rejected on admin route", []Role{RoleAdmin}, "gov", http.StatusUnauthorized},
		{"either of two roles passes", []Role{RoleGovernor, RoleReporter}, "rep", http.StatusNoContent},
		{"unknown token rejected", []Role{RoleGovernor}, "nope", http.StatusUnauthorized},
		{"missing token rejected", []Role{RoleGovernor}, "", http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := callWithAuth(t, keys, tc.roles, func(r *http.Request) {
				if tc.token != "" {
					r.Header.Set("Authorization", "Bearer "+tc.token)
				}
			})
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestRequireRoleEmptyConfiguredKeyNeverMatches(t *testing.T) {
	// Only the governor key is set. Presenting an empty-ish token must not
	// slip past the unset roles.
	keys := RoleKeys{Governor: "gov"}

	rec := callWithAuth(t, keys, []Role{RoleReporter}, func(r *http.Request) {
		r.Header.Set("X-API-Key", "anything")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// And the governor route still works via X-API-Key.
	rec = callWithAuth(t, keys, []Role{RoleGovernor}, func(r *http.Request) {
		r.Header.Set("X-API-Key", "gov")
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestExtractToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, extractToken(req))

	req.Header.Set("Authorization", "Bearer  abc ")
	assert.Equal(t, "abc", extractToken(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, extractToken(req))

	req.Header.Del("Authorization")
	req.Header.Set("X-API-Key", " xyz ")
	assert.Equal(t, "xyz", extractToken(req))
}
