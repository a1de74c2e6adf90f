package worktree

import (
	"regexp"
	"testing"
)

var uuidShape = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func TestDeterministicID(t *testing.T) {
	a := DeterministicID("proj-1", "/repo/.worktrees/feature-a")
	b := DeterministicID("proj-1", "/repo/.worktrees/feature-a")
	if a != b {
		t.Fatalf("same inputs produced %s and %s", a, b)
	}
	if !uuidShape.MatchString(a) {
		t.Fatalf("id %s is not UUID-shaped", a)
	}

	if other := DeterministicID("proj-2", "/repo/.worktrees/feature-a"); other == a {
		t.Fatal("different project ids collided")
	}
	if other := DeterministicID("proj-1", "/repo/.worktrees/feature-b"); other == a {
		t.Fatal("different paths collided")
	}
}
