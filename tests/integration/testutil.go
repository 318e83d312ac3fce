// Package integration runs the idcache binary against isolated config,
// cache and remote directories.
package integration

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

var (
	// idcacheBin is the path to the built idcache binary.
	idcacheBin string
	// buildErr captures any build error.
	buildErr error
)

// BuildError wraps a build error with output.
type BuildError struct {
	Err    error
	Output string
}

func (e *BuildError) Error() string {
	return e.Err.Error() + ": " + e.Output
}

// FindProjectRoot finds the project root by walking up and looking for go.mod.
func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}

// SetIdcacheBin sets the path to the idcache binary (called from TestMain).
func SetIdcacheBin(path string) {
	idcacheBin = path
}

// SetBuildErr sets the build error (called from TestMain).
func SetBuildErr(err error) {
	buildErr = err
}

// TestEnv provides an isolated environment with its own config, cache and
// remote directories.
type TestEnv struct {
	t         *testing.T
	TempDir   string
	ConfigDir string
	CacheDir  string
	RemoteDir string
}

// NewTestEnv creates a new isolated test environment. extraConfig is
// appended to the generated config.yaml.
func NewTestEnv(t *testing.T, extraConfig string) *TestEnv {
	t.Helper()

	if buildErr != nil {
		t.Fatalf("failed to build idcache: %v", buildErr)
	}
	if idcacheBin == "" {
		t.Fatal("idcache binary not built (idcacheBin is empty)")
	}

	tempDir := t.TempDir()
	env := &TestEnv{
		t:         t,
		TempDir:   tempDir,
		ConfigDir: filepath.Join(tempDir, "config"),
		CacheDir:  filepath.Join(tempDir, "cache"),
		RemoteDir: filepath.Join(tempDir, "remote"),
	}
	if err := os.MkdirAll(env.ConfigDir, 0o755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	content := "cache_dir: " + env.CacheDir + "\nremote_dir: " + env.RemoteDir + "\njournal: true\n" + extraConfig
	if err := os.WriteFile(filepath.Join(env.ConfigDir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return env
}

// PutRemote writes a document into the remote export.
func (e *TestEnv) PutRemote(tenant, segment, id, doc string) {
	e.t.Helper()
	dir := filepath.Join(e.RemoteDir, tenant, segment)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		e.t.Fatalf("mkdir remote: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, id+".json"), []byte(doc), 0o644); err != nil {
		e.t.Fatalf("write remote doc: %v", err)
	}
}

// ReadRemote returns a document from the remote export.
func (e *TestEnv) ReadRemote(tenant, segment, id string) string {
	e.t.Helper()
	data, err := os.ReadFile(filepath.Join(e.RemoteDir, tenant, segment, id+".json"))
	if err != nil {
		e.t.Fatalf("read remote doc: %v", err)
	}
	return string(data)
}

// CmdResult holds the result of an idcache command execution.
type CmdResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes the idcache CLI with the given arguments and stdin.
func (e *TestEnv) Run(stdin string, args ...string) CmdResult {
	e.t.Helper()

	allArgs := append([]string{"--config-dir", e.ConfigDir}, args...)
	cmd := exec.Command(idcacheBin, allArgs...)
	cmd.Stdin = bytes.NewBufferString(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			e.t.Fatalf("failed to run idcache: %v", err)
		}
		exitCode = exitErr.ExitCode()
	}

	return CmdResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}
}

// MustRun executes the idcache CLI and fails the test if it returns non-zero.
func (e *TestEnv) MustRun(args ...string) CmdResult {
	e.t.Helper()
	result := e.Run("", args...)
	if result.ExitCode != 0 {
		e.t.Fatalf("idcache %v failed with exit code %d:\nstdout: %s\nstderr: %s",
			args, result.ExitCode, result.Stdout, result.Stderr)
	}
	return result
}

// ParseJSON parses JSON output into the target type.
func ParseJSON[T any](t *testing.T, jsonStr string) T {
	t.Helper()
	var result T
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		t.Fatalf("failed to parse JSON %q: %v", jsonStr, err)
	}
	return result
}

// Entity is a cached entity as printed by show --json.
type Entity struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	TenantID   string          `json:"tenantId"`
	Data       json.RawMessage `json:"data"`
	RemoteData json.RawMessage `json:"remoteData"`
	RemoteHash string          `json:"remoteHash"`
	LocalHash  string          `json:"localHash"`
}

// Ref is a listing reference as printed by pending --json.
type Ref struct {
	TenantID string `json:"tenantId"`
	Type     string `json:"type"`
	ID       string `json:"id"`
	Name     string `json:"name"`
}

// HistoryEntry is a journal row as printed by history --json.
type HistoryEntry struct {
	ID        string `json:"id"`
	Operation string `json:"operation"`
	EntityID  string `json:"entityId"`
}
