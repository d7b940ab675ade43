package systemd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HashPath returns where the install-time hash of a unit file is stored.
func HashPath(unitPath string) string {
	return unitPath + ".sha256"
}

// Install writes the unit file and records its hash next to it.
func Install(unitPath, unit string) error {
	if err := os.MkdirAll(filepath.Dir(unitPath), 0755); err != nil {
		return fmt.Errorf("systemd: create directory: %w", err)
	}
	if err := os.WriteFile(unitPath, []byte(unit), 0644); err != nil {
		return fmt.Errorf("systemd: write unit: %w", err)
	}
	h := sha256.Sum256([]byte(unit))
	if err := os.WriteFile(HashPath(unitPath), []byte(hex.EncodeToString(h[:])+"\n"), 0600); err != nil {
		return fmt.Errorf("systemd: record unit hash: %w", err)
	}
	return nil
}

// CheckUnitFileIntegrity compares the unit file against its install-time
// hash. It returns a warning if the unit was modified, or "" when the unit
// is intact or checking is not applicable (no unit file or no stored hash).
func CheckUnitFileIntegrity(unitPath string) string {
	data, err := os.ReadFile(unitPath)
	if os.IsNotExist(err) {
		return ""
	}
	if err != nil {
		return fmt.Sprintf("cannot read unit file %s: %v", unitPath, err)
	}

	stored, err := os.ReadFile(HashPath(unitPath))
	if err != nil {
		return ""
	}
	expected := strings.TrimSpace(string(stored))
	if len(expected) != 64 {
		return ""
	}

	h := sha256.Sum256(data)
	actual := hex.EncodeToString(h[:])
	if actual == expected {
		return ""
	}
	return fmt.Sprintf("systemd unit file %s has been modified since installation (expected %s, got %s)",
		unitPath, expected[:16], actual[:16])
}
