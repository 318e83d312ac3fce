// CLI integration tests for idcache: fetch, edit, commit, revert, discard
// and clear against a directory remote.
package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMain builds the idcache binary once before running tests.
func TestMain(m *testing.M) {
	projectRoot, err := FindProjectRoot()
	if err != nil {
		SetBuildErr(err)
		os.Exit(1)
	}

	tmpDir, err := os.MkdirTemp("", "idcache-test-*")
	if err != nil {
		SetBuildErr(err)
		os.Exit(1)
	}
	binPath := filepath.Join(tmpDir, "idcache")
	SetIdcacheBin(binPath)

	cmd := exec.Command("go", "build", "-o", binPath, "./cmd/idcache")
	cmd.Dir = projectRoot
	if output, err := cmd.CombinedOutput(); err != nil {
		SetBuildErr(&BuildError{Err: err, Output: string(output)})
		os.Exit(1)
	}

	code := m.Run()
	os.RemoveAll(tmpDir)
	os.Exit(code)
}

func TestCLI_Init(t *testing.T) {
	env := NewTestEnv(t, "")

	result := env.MustRun("init")
	assert.Contains(t, result.Stdout, "initialized")

	_, err := os.Stat(filepath.Join(env.CacheDir, "index.json"))
	assert.NoError(t, err, "index.json created")
	_, err = os.Stat(filepath.Join(env.CacheDir, "journal.db"))
	assert.NoError(t, err, "journal.db created")
}

func TestCLI_Version(t *testing.T) {
	env := NewTestEnv(t, "")
	result := env.MustRun("version")
	assert.True(t, strings.HasPrefix(result.Stdout, "idcache v"))
}

func TestCLI_FetchEditCommitLifecycle(t *testing.T) {
	env := NewTestEnv(t, "")
	env.PutRemote("acme", "sources", "s1", `{"name":"AD","owner":"alice"}`)
	env.PutRemote("acme", "sources", "s2", `{"name":"LDAP","owner":"bob"}`)

	result := env.MustRun("fetch", "acme", "sources")
	assert.Contains(t, result.Stdout, "fetched 2 entities")

	shown := ParseJSON[Entity](t, env.MustRun("--json", "show", "acme", "sources", "s1").Stdout)
	assert.Equal(t, "AD", shown.Name)
	assert.Equal(t, "sources", shown.Type)
	assert.Equal(t, shown.RemoteHash, shown.LocalHash)

	pending := ParseJSON[[]Ref](t, env.MustRun("--json", "pending").Stdout)
	assert.Empty(t, pending)

	edit := env.Run(`{"name":"AD","owner":"carol"}`, "edit", "acme", "sources", "s1")
	require.Equal(t, 0, edit.ExitCode, edit.Stderr)
	assert.Contains(t, edit.Stdout, "pending")

	pending = ParseJSON[[]Ref](t, env.MustRun("--json", "pending", "acme").Stdout)
	require.Len(t, pending, 1)
	assert.Equal(t, "s1", pending[0].ID)

	result = env.MustRun("commit", "acme", "sources", "s1")
	assert.Contains(t, result.Stdout, "pushed")
	assert.Contains(t, env.ReadRemote("acme", "sources", "s1"), "carol")

	pending = ParseJSON[[]Ref](t, env.MustRun("--json", "pending").Stdout)
	assert.Empty(t, pending)

	history := ParseJSON[[]HistoryEntry](t, env.MustRun("--json", "history", "acme", "sources", "s1").Stdout)
	require.Len(t, history, 1)
	assert.Equal(t, "commit", history[0].Operation)
}

func TestCLI_RevertAndDiscard(t *testing.T) {
	env := NewTestEnv(t, "")
	env.PutRemote("acme", "roles", "r1", `{"name":"Admin","level":1}`)
	env.MustRun("fetch", "acme", "roles", "r1")

	env.Run(`{"name":"Admin","level":9}`, "edit", "acme", "roles", "r1")
	env.MustRun("revert", "acme", "roles", "r1")
	shown := ParseJSON[Entity](t, env.MustRun("--json", "show", "acme", "roles", "r1").Stdout)
	assert.JSONEq(t, `{"name":"Admin","level":1}`, string(shown.Data))

	created := env.Run(`{"name":"Auditor"}`, "create", "acme", "roles", "r2", "--name", "Auditor")
	require.Equal(t, 0, created.ExitCode, created.Stderr)

	revert := env.Run("", "revert", "acme", "roles", "r2")
	assert.Equal(t, 1, revert.ExitCode)
	assert.Contains(t, revert.Stderr, "discard")

	env.MustRun("discard", "acme", "roles", "r2")
	missing := env.Run("", "show", "acme", "roles", "r2")
	assert.Equal(t, 1, missing.ExitCode)
}

func TestCLI_ClearRefusesPendingChanges(t *testing.T) {
	env := NewTestEnv(t, "")
	env.PutRemote("acme", "forms", "f1", `{"name":"Request"}`)
	env.MustRun("fetch", "acme")
	env.Run(`{"name":"Request v2"}`, "edit", "acme", "forms", "f1")

	refused := env.Run("", "clear", "acme")
	assert.Equal(t, 1, refused.ExitCode)
	assert.Contains(t, refused.Stderr, "uncommitted local changes")

	env.MustRun("clear", "acme", "--force")
	_, err := os.Stat(filepath.Join(env.CacheDir, "acme"))
	assert.True(t, os.IsNotExist(err), "tenant directory removed")
}

func TestCLI_UsageErrors(t *testing.T) {
	env := NewTestEnv(t, "")

	cases := []struct {
		name string
		args []string
	}{
		{"unknown type", []string{"show", "acme", "gadgets", "x"}},
		{"missing args", []string{"show", "acme"}},
		{"unknown flag", []string{"list", "--bogus"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, 1, env.Run("", tc.args...).ExitCode)
		})
	}
}

func TestCLI_SyncOnceRespectsCap(t *testing.T) {
	env := NewTestEnv(t, "max_active_tenants: 1\n")
	env.PutRemote("t1", "sources", "s1", `{"name":"one"}`)

	over := env.Run("", "sync", "once", "t1", "t2")
	assert.Equal(t, 1, over.ExitCode)
	assert.Contains(t, over.Stderr, "capacity")

	result := env.MustRun("sync", "once", "t1")
	assert.Contains(t, result.Stdout, "OK")
}
