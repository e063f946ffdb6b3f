package auth

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// FileBackend authenticates against a flat password file: one
// "username:bcrypt_hash" entry per line, '#'-prefixed lines and blank
// lines ignored. It is selected with --auth-service-factory=file per
// the broker's CLI surface.
type FileBackend struct {
	mu    sync.RWMutex
	hash  map[string]string
	path  string
}

// LoadFileBackend reads and parses path into a FileBackend.
func LoadFileBackend(path string) (*FileBackend, error) {
	b := &FileBackend{hash: make(map[string]string), path: path}
	if err := b.reload(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *FileBackend) reload() error {
	f, err := os.Open(b.path)
	if err != nil {
		return fmt.Errorf("auth: opening password file: %w", err)
	}
	defer f.Close()

	hash := make(map[string]string)
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		parts := strings.SplitN(text, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("auth: %s:%d: expected \"username:bcrypt_hash\"", b.path, line)
		}
		hash[parts[0]] = parts[1]
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("auth: reading password file: %w", err)
	}
	b.mu.Lock()
	b.hash = hash
	b.mu.Unlock()
	return nil
}

// Authenticate is an Authenticator: it requires a username and
// password and rejects anything else, including anonymous CONNECTs.
func (b *FileBackend) Authenticate(_ string, hasUsername bool, username string, hasPassword bool, password []byte) bool {
	if !hasUsername || !hasPassword {
		return false
	}
	b.mu.RLock()
	hash, ok := b.hash[username]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), password) == nil
}
