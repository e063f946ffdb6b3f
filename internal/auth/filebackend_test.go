package auth

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func writePasswordFile(t *testing.T, entries map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "passwd")
	var content string
	for user, pass := range entries {
		hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("GenerateFromPassword: %v", err)
		}
		content += user + ":" + string(hash) + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestFileBackendAuthenticatesKnownUser(t *testing.T) {
	path := writePasswordFile(t, map[string]string{"alice": "s3cret"})
	backend, err := LoadFileBackend(path)
	if err != nil {
		t.Fatalf("LoadFileBackend: %v", err)
	}
	if !backend.Authenticate("203.0.113.1:54321", true, "alice", true, []byte("s3cret")) {
		t.Error("expected alice/s3cret to authenticate")
	}
	if backend.Authenticate("203.0.113.1:54321", true, "alice", true, []byte("wrong")) {
		t.Error("expected a wrong password to be rejected")
	}
}

func TestFileBackendRejectsUnknownUserAndMissingCredentials(t *testing.T) {
	path := writePasswordFile(t, map[string]string{"alice": "s3cret"})
	backend, err := LoadFileBackend(path)
	if err != nil {
		t.Fatalf("LoadFileBackend: %v", err)
	}
	if backend.Authenticate("203.0.113.1:54321", true, "bob", true, []byte("anything")) {
		t.Error("expected an unknown user to be rejected")
	}
	if backend.Authenticate("203.0.113.1:54321", false, "", false, nil) {
		t.Error("expected an anonymous CONNECT to be rejected")
	}
	if backend.Authenticate("203.0.113.1:54321", true, "alice", false, nil) {
		t.Error("expected a username without a password to be rejected")
	}
}

func TestAllowAllAcceptsEverything(t *testing.T) {
	if !AllowAll("203.0.113.1:54321", false, "", false, nil) {
		t.Error("AllowAll must accept an anonymous CONNECT")
	}
	if !AllowAll("203.0.113.1:54321", true, "alice", true, []byte("x")) {
		t.Error("AllowAll must accept a CONNECT with credentials too")
	}
}
