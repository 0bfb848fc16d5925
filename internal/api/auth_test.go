package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-drivers/internal/auth"
	"github.com/nerrad567/gray-logic-drivers/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-drivers/internal/infrastructure/logging"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

func authServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New(Deps{
		Config: config.APIConfig{
			Auth: config.APIAuthConfig{Enabled: true, Secret: testSecret},
		},
		Logger:   logging.Discard(),
		Drivers:  newFakeDrivers(),
		Triggers: &fakeTriggerLog{},
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

func tokenFor(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := auth.GenerateToken("tester", role, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return tok
}

func TestAuth_Permissions(t *testing.T) {
	srv := authServer(t)
	viewer := tokenFor(t, auth.RoleViewer)
	operator := tokenFor(t, auth.RoleOperator)
	admin := tokenFor(t, auth.RoleAdmin)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		token  string
		want   int
	}{
		{"health is open", http.MethodGet, "/api/health", "", "", http.StatusOK},
		{"no token", http.MethodGet, "/api/drivers", "", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/drivers", "", "nonsense", http.StatusUnauthorized},
		{"viewer reads", http.MethodGet, "/api/drivers/zw1/fields", "", viewer, http.StatusOK},
		{"viewer cannot write", http.MethodPut, "/api/drivers/zw1/fields/LGHT%23Sw_Hall", `{"value":"off"}`, viewer, http.StatusForbidden},
		{"operator writes", http.MethodPut, "/api/drivers/zw1/fields/LGHT%23Sw_Hall", `{"value":"off"}`, operator, http.StatusOK},
		{"operator runs commands", http.MethodPost, "/api/drivers/zw1/commands", `{"command":"version"}`, operator, http.StatusOK},
		{"operator cannot delete", http.MethodDelete, "/api/drivers/zw1", "", operator, http.StatusForbidden},
		{"admin deletes", http.MethodDelete, "/api/drivers/zw1", "", admin, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAuth_QueryToken(t *testing.T) {
	srv := authServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/triggers?token="+tokenFor(t, auth.RoleViewer), nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
}

func TestAuth_ExpiredToken(t *testing.T) {
	srv := authServer(t)

	tok, err := auth.GenerateToken("tester", auth.RoleAdmin, testSecret, time.Nanosecond)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(1100 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/api/drivers", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized || !strings.Contains(w.Body.String(), "expired") {
		t.Errorf("status = %d body = %s, want 401 expired", w.Code, w.Body.String())
	}
}
