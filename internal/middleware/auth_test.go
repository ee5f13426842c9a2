package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jharjadi/pro-rag/answer-api-go/internal/service"
)

const testSecret = "test-jwt-secret-32bytes-minimum!"

func TestAuthMiddleware_AuthDisabled_DefaultClient(t *testing.T) {
	mw := AuthMiddleware(service.NewAuthService("test-secret", 24), false)

	var gotClientID, gotRole string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClientID = ClientIDFromContext(r.Context())
		gotRole = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/answer", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	if gotClientID != DevClientID {
		t.Errorf("client_id: got %q, want %q", gotClientID, DevClientID)
	}
	if gotRole != "admin" {
		t.Errorf("role: got %q, want %q", gotRole, "admin")
	}
}

func TestAuthMiddleware_AuthDisabled_ClientHeader(t *testing.T) {
	mw := AuthMiddleware(service.NewAuthService("test-secret", 24), false)

	var gotClientID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClientID = ClientIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/answer", nil)
	req.Header.Set("X-Client-ID", "wp-frontend")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotClientID != "wp-frontend" {
		t.Errorf("client_id: got %q, want %q", gotClientID, "wp-frontend")
	}
}

func TestAuthMiddleware_AuthEnabled_ValidToken(t *testing.T) {
	authSvc := service.NewAuthService(testSecret, 24)
	mw := AuthMiddleware(authSvc, true)

	tokenStr, err := authSvc.SignToken("wp-frontend", "client")
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}

	var gotClientID, gotRole string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClientID = ClientIDFromContext(r.Context())
		gotRole = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/answer", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	req.Header.Set("X-Client-ID", "spoofed")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d; body: %s", rr.Code, rr.Body.String())
	}
	if gotClientID != "wp-frontend" {
		t.Errorf("client_id: got %q, want %q", gotClientID, "wp-frontend")
	}
	if gotRole != "client" {
		t.Errorf("role: got %q, want %q", gotRole, "client")
	}
}

func TestAuthMiddleware_AuthEnabled_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"missing header", "", "missing Authorization header"},
		{"basic auth", "Basic dXNlcjpwYXNz", "invalid Authorization header format (expected: Bearer <token>)"},
		{"empty bearer", "Bearer ", "empty bearer token"},
		{"invalid token", "Bearer invalid-jwt-token", "invalid or expired token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := AuthMiddleware(service.NewAuthService("test-secret", 24), true)
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodPost, "/v1/answer", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rr.Code)
			}
			var body map[string]string
			json.NewDecoder(rr.Body).Decode(&body)
			if body["message"] != tt.message {
				t.Errorf("message: got %q, want %q", body["message"], tt.message)
			}
		})
	}
}

func TestRequireRole_Allowed(t *testing.T) {
	authSvc := service.NewAuthService(testSecret, 24)
	authMW := AuthMiddleware(authSvc, true)
	roleMW := RequireRole("admin")

	tokenStr, _ := authSvc.SignToken("ops", "admin")

	handler := authMW(roleMW(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/abc", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d; body: %s", rr.Code, rr.Body.String())
	}
}

func TestRequireRole_Denied(t *testing.T) {
	authSvc := service.NewAuthService(testSecret, 24)
	authMW := AuthMiddleware(authSvc, true)
	roleMW := RequireRole("admin")

	tokenStr, _ := authSvc.SignToken("wp-frontend", "client")

	handler := authMW(roleMW(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	})))

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/abc", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

func TestRequireRole_MultipleRoles(t *testing.T) {
	authSvc := service.NewAuthService(testSecret, 24)
	authMW := AuthMiddleware(authSvc, true)
	roleMW := RequireRole("admin", "client")

	tokenStr, _ := authSvc.SignToken("wp-frontend", "client")

	handler := authMW(roleMW(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodPost, "/v1/answer", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestContextHelpers_EmptyContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := req.Context()

	if v := ClientIDFromContext(ctx); v != "" {
		t.Errorf("ClientIDFromContext: got %q, want empty", v)
	}
	if v := RoleFromContext(ctx); v != "" {
		t.Errorf("RoleFromContext: got %q, want empty", v)
	}
}
