package server

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator answers whether a username/secret pair is valid. The rest
// of the server treats this as an opaque boolean oracle.
type Authenticator interface {
	Authenticate(username, secret string) bool
}

// AllowAll accepts any credentials. This is the default when no users file
// is configured.
type AllowAll struct{}

func (AllowAll) Authenticate(string, string) bool { return true }

// CredentialFile authenticates against a file of "username:bcrypt-hash"
// lines loaded once at startup. Lookups never touch the filesystem.
type CredentialFile struct {
	hashes map[string]string
}

// LoadCredentialFile parses a users file. Blank lines and lines starting
// with '#' are skipped; anything else must be username:hash.
func LoadCredentialFile(path string) (*CredentialFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open users file: %w", err)
	}
	defer f.Close()

	hashes := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		username, hash, found := strings.Cut(line, ":")
		if !found || username == "" || hash == "" {
			return nil, fmt.Errorf("users file line %d: expected username:hash", lineNo)
		}
		hashes[username] = hash
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}

	return &CredentialFile{hashes: hashes}, nil
}

func (c *CredentialFile) Authenticate(username, secret string) bool {
	hash, ok := c.hashes[username]
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
