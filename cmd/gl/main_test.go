package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigline/internal/domain"
)

func run(t *testing.T, workspace string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--workspace", workspace, "--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestInitWritesConfigOnce(t *testing.T) {
	ws := t.TempDir()
	out, err := run(t, ws, "init")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(ws, ".gigline", "gigline.db"))
	_, err = os.Stat(filepath.Join(ws, "gigline.yml"))
	require.NoError(t, err)

	_, err = run(t, ws, "init")
	require.Error(t, err)
	_, err = run(t, ws, "init", "--force")
	require.NoError(t, err)
}

func TestMissionLifecycleFromCLI(t *testing.T) {
	ws := t.TempDir()
	_, err := run(t, ws, "init")
	require.NoError(t, err)

	out, err := run(t, ws, "--json", "--actor-id", "emp-1", "--role", "ADMIN",
		"mission", "create", "--title", "Fix fence", "--price", "5000", "--lat", "48.85", "--lng", "2.35")
	require.NoError(t, err)
	var m domain.Mission
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, domain.MissionOpen, m.Status)
	assert.Equal(t, int64(5000), m.PriceCents)

	// consent is enforced by the default config
	_, err = run(t, ws, "--actor-id", "w-1", "--role", "WORKER", "mission", "claim", m.ID)
	require.Error(t, err)

	_, err = run(t, ws, "--actor-id", "w-1", "--role", "WORKER", "consent", "accept")
	require.NoError(t, err)

	out, err = run(t, ws, "--json", "--actor-id", "w-1", "--role", "WORKER", "mission", "claim", m.ID)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, domain.MissionAssigned, m.Status)
	require.NotNil(t, m.AssignedTo)
	assert.Equal(t, "w-1", *m.AssignedTo)

	out, err = run(t, ws, "--json", "mission", "list", "--status", "ASSIGNED")
	require.NoError(t, err)
	var listed []domain.Mission
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)

	out, err = run(t, ws, "--json", "log", "tail", "--entity-id", m.ID)
	require.NoError(t, err)
	var events []domain.Event
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	assert.NotEmpty(t, events)
}

func TestAPIKeyCreateAndList(t *testing.T) {
	ws := t.TempDir()
	out, err := run(t, ws, "--json", "apikey", "create", "--actor", "w-9", "--key-role", "WORKER", "--name", "phone")
	require.NoError(t, err)
	var created map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Contains(t, created["key"], "gl_")

	out, err = run(t, ws, "--json", "apikey", "list", "--actor", "w-9")
	require.NoError(t, err)
	var keys []domain.APIKey
	require.NoError(t, json.Unmarshal([]byte(out), &keys))
	require.Len(t, keys, 1)
	assert.Equal(t, domain.RoleWorker, keys[0].Role)
	assert.NotEqual(t, created["key"], keys[0].KeyHash)

	_, err = run(t, ws, "apikey", "create", "--actor", "w-9", "--key-role", "BOSS")
	require.Error(t, err)
}

func TestCurrentActorRejectsUnknownRole(t *testing.T) {
	ws := t.TempDir()
	_, err := run(t, ws, "--role", "OWNER", "consent", "status")
	require.Error(t, err)
}
