package worktree

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DeterministicID derives a stable worktree id from the project id and the
// worktree's absolute path. The hex SHA-256 digest is truncated to UUID
// shape, so the same worktree resolves to the same id across restarts and
// every persisted reference stays valid.
func DeterministicID(projectID, path string) string {
	sum := sha256.Sum256([]byte(projectID + ":" + path))
	h := hex.EncodeToString(sum[:])
	return fmt.Sprintf("%s-%s-%s-%s-%s", h[0:8], h[8:12], h[12:16], h[16:20], h[20:32])
}
