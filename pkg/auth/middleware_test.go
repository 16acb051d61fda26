package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func mustKeyStore(t *testing.T, raw string) *KeyStore {
	t.Helper()
	ks, err := NewKeyStore(raw)
	if err != nil {
		t.Fatalf("NewKeyStore: %v", err)
	}
	return ks
}

func TestAPIKeyAuth_ValidKey(t *testing.T) {
	handler := APIKeyAuth(mustKeyStore(t, "ops:sk-abc"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if caller := CallerFromContext(r.Context()); caller != "ops" {
			t.Errorf("expected ops, got %q", caller)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/run", nil)
	req.Header.Set("X-API-Key", "sk-abc")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestAPIKeyAuth_Rejected(t *testing.T) {
	handler := APIKeyAuth(mustKeyStore(t, "ops:sk-abc"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	for name, set := range map[string]func(*http.Request){
		"missing":      func(*http.Request) {},
		"invalid":      func(r *http.Request) { r.Header.Set("X-API-Key", "bad-key") },
		"empty bearer": func(r *http.Request) { r.Header.Set("Authorization", "Bearer ") },
		"basic scheme": func(r *http.Request) { r.Header.Set("Authorization", "Basic sk-abc") },
	} {
		req := httptest.NewRequest("POST", "/run", nil)
		set(req)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", name, rr.Code)
		}
	}
}

func TestAPIKeyAuth_SkipsHealthEndpoints(t *testing.T) {
	handler := APIKeyAuth(mustKeyStore(t, "ops:sk-abc"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest("GET", path, nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected 200 for %s, got %d", path, rr.Code)
		}
	}
}

func TestAPIKeyAuth_BearerToken(t *testing.T) {
	handler := APIKeyAuth(mustKeyStore(t, "ops:sk-abc"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if caller := CallerFromContext(r.Context()); caller != "ops" {
			t.Errorf("expected ops, got %q", caller)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/v1/directories/d-1", nil)
	req.Header.Set("Authorization", "Bearer sk-abc")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}
