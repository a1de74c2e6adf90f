package worktree

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// agentSettings is the permission manifest dropped into each worktree so the
// coding agent can operate without interactive approval prompts.
type agentSettings struct {
	Permissions agentPermissions `json:"permissions"`
	Trust       bool             `json:"trust"`
}

type agentPermissions struct {
	Allow []string `json:"allow"`
}

// mcpManifest describes the worktree-local tool server the agent connects
// to. WORKTREE_ID in the env ties tool calls back to this worktree.
type mcpManifest struct {
	McpServers map[string]mcpServer `json:"mcpServers"`
}

type mcpServer struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}

const toolServerName = "orchard"

// WriteManifests (re)writes both agent manifests into a worktree. Safe to
// call before every agent spawn; stale WORKTREE_ID values are corrected.
func WriteManifests(worktreePath, projectPath, worktreeID string) error {
	if err := writeAgentSettings(worktreePath, projectPath); err != nil {
		return err
	}
	return writeMCPManifest(worktreePath, worktreeID)
}

func writeAgentSettings(worktreePath, projectPath string) error {
	allow := []string{
		"Bash",
		fmt.Sprintf("Read(%s/**)", projectPath),
		fmt.Sprintf("Write(%s/**)", projectPath),
		fmt.Sprintf("Edit(%s/**)", projectPath),
	}
	if !isSubPath(projectPath, worktreePath) {
		allow = append(allow,
			fmt.Sprintf("Read(%s/**)", worktreePath),
			fmt.Sprintf("Write(%s/**)", worktreePath),
			fmt.Sprintf("Edit(%s/**)", worktreePath),
		)
	}
	settings := agentSettings{Permissions: agentPermissions{Allow: allow}, Trust: true}
	return writeJSON(filepath.Join(worktreePath, ".claude", "settings.local.json"), settings)
}

func writeMCPManifest(worktreePath, worktreeID string) error {
	exe, err := os.Executable()
	if err != nil {
		exe = "orchard"
	}
	manifest := mcpManifest{
		McpServers: map[string]mcpServer{
			toolServerName: {
				Command: exe,
				Args:    []string{"mcp-serve"},
				Env:     map[string]string{"WORKTREE_ID": worktreeID},
			},
		},
	}
	return writeJSON(filepath.Join(worktreePath, ".mcp.json"), manifest)
}

// readManifestWorktreeID returns the WORKTREE_ID recorded in an existing
// .mcp.json, or "" if the manifest is absent or malformed.
func readManifestWorktreeID(worktreePath string) string {
	raw, err := os.ReadFile(filepath.Join(worktreePath, ".mcp.json"))
	if err != nil {
		return ""
	}
	var manifest mcpManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return ""
	}
	return manifest.McpServers[toolServerName].Env["WORKTREE_ID"]
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func isSubPath(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (!filepath.IsAbs(rel) && rel != ".." && !hasDotDotPrefix(rel))
}

func hasDotDotPrefix(rel string) bool {
	return rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)
}
