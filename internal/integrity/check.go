// Package integrity verifies the server binary checksum at startup.
// The expected hash is embedded at build time via ldflags or read from a
// checksum file. A ledger server whose own binary was replaced cannot be
// trusted to compute hashes, so serve refuses to start on a mismatch.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// ExpectedHash is set at build time via:
//
//	-ldflags "-X github.com/ppiankov/novaledger/internal/integrity.ExpectedHash=<sha256hex>"
//
// When empty (dev builds), verification falls back to a checksum file.
var ExpectedHash string

// ChecksumPaths are the paths checked (in order) for a sha256 checksum file
// containing a single hex-encoded digest. Override for testing.
var ChecksumPaths = []string{
	"/etc/novaledger/binary.sha256",
	"$HOME/.novaledger/binary.sha256",
}

// Mismatch is returned when the binary does not match the expected hash.
type Mismatch struct {
	Binary   string
	Expected string
	Actual   string
}

func (m *Mismatch) Error() string {
	return fmt.Sprintf("integrity: binary checksum mismatch for %s (expected %s, got %s)",
		m.Binary, m.Expected, m.Actual)
}

// Verify checks the running binary. It reports false with a nil error when
// no expected hash is available (dev build) and returns *Mismatch when the
// binary was modified.
func Verify() (bool, error) {
	exePath, err := os.Executable()
	if err != nil {
		return false, fmt.Errorf("integrity: cannot resolve executable path: %w", err)
	}
	return VerifyFile(exePath)
}

// VerifyFile is Verify for an arbitrary file.
func VerifyFile(path string) (bool, error) {
	expected := strings.ToLower(ExpectedHash)
	if expected == "" {
		expected = loadChecksumFile()
	}
	if expected == "" {
		return false, nil
	}

	actual, err := hashFile(path)
	if err != nil {
		return false, fmt.Errorf("integrity: cannot hash binary: %w", err)
	}
	if actual != expected {
		return false, &Mismatch{Binary: path, Expected: expected, Actual: actual}
	}
	return true, nil
}

// HashSelf returns the SHA-256 hex digest of the running binary.
func HashSelf() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("integrity: cannot resolve executable path: %w", err)
	}
	return hashFile(exePath)
}

// loadChecksumFile returns the first valid digest found at ChecksumPaths.
func loadChecksumFile() string {
	for _, p := range ChecksumPaths {
		data, err := os.ReadFile(os.ExpandEnv(p))
		if err != nil {
			continue
		}
		hash := strings.ToLower(strings.TrimSpace(string(data)))
		if len(hash) == 64 && isHex(hash) {
			return hash
		}
	}
	return ""
}

func isHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
