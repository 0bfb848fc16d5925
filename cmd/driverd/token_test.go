package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-drivers/internal/auth"
)

func TestRunToken(t *testing.T) {
	secret := strings.Repeat("k", 40)
	t.Setenv("DRIVERD_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DRIVERD_API_SECRET", secret)

	var stdout, stderr bytes.Buffer
	code := runToken([]string{"-subject", "wall-panel", "-role", "operator", "-ttl", "2h"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit = %d, stderr = %s", code, stderr.String())
	}

	claims, err := auth.ParseToken(strings.TrimSpace(stdout.String()), secret)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Subject != "wall-panel" || claims.Role != auth.RoleOperator {
		t.Errorf("claims = %+v", claims)
	}
}

func TestRunToken_Errors(t *testing.T) {
	dir := t.TempDir()
	noSecret := filepath.Join(dir, "driverd.yaml")
	if err := os.WriteFile(noSecret, []byte("logging:\n  level: error\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		args   []string
		secret string
		want   int
	}{
		{"missing subject", []string{"-role", "admin"}, "x", 2},
		{"bad role", []string{"-subject", "a", "-role", "owner"}, "x", 2},
		{"unknown flag", []string{"-bogus"}, "x", 2},
		{"no secret", []string{"-subject", "a"}, "", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DRIVERD_CONFIG", noSecret)
			t.Setenv("DRIVERD_API_SECRET", tt.secret)

			var stdout, stderr bytes.Buffer
			if code := runToken(tt.args, &stdout, &stderr); code != tt.want {
				t.Errorf("exit = %d, want %d (stderr %s)", code, tt.want, stderr.String())
			}
			if stdout.Len() != 0 {
				t.Errorf("stdout = %q, want empty", stdout.String())
			}
		})
	}
}
