package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func corsRequest(origins []string, method, origin string, preflight bool) (*httptest.ResponseRecorder, bool) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(method, "/chat/conversations/c1/messages", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if preflight {
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	}
	rec := httptest.NewRecorder()
	CORS(origins)(next).ServeHTTP(rec, req)
	return rec, called
}

func TestCORSAllowsListedOrigin(t *testing.T) {
	rec, called := corsRequest([]string{"https://softaidev.github.io/"}, http.MethodGet, "https://softaidev.github.io", false)
	assert.True(t, called)
	assert.Equal(t, "https://softaidev.github.io", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "X-Request-ID", rec.Header().Get("Access-Control-Expose-Headers"))
}

func TestCORSWildcardSubdomain(t *testing.T) {
	origins := []string{"https://*.softaidev.com"}
	rec, _ := corsRequest(origins, http.MethodGet, "https://admin.softaidev.com", false)
	assert.Equal(t, "https://admin.softaidev.com", rec.Header().Get("Access-Control-Allow-Origin"))

	for _, denied := range []string{"http://admin.softaidev.com", "https://softaidev.com", "https://evil-softaidev.com.attacker.io"} {
		rec, _ = corsRequest(origins, http.MethodGet, denied, false)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"), denied)
	}
}

func TestCORSPreflight(t *testing.T) {
	rec, called := corsRequest([]string{"*"}, http.MethodOptions, "https://anywhere.example", true)
	assert.False(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), WebhookTokenHeader)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch)
}

func TestCORSDeniesUnknownOrigin(t *testing.T) {
	rec, called := corsRequest([]string{"https://example.com"}, http.MethodOptions, "https://other.com", true)
	assert.True(t, called)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec, called = corsRequest(nil, http.MethodGet, "", false)
	assert.True(t, called)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
