package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordereditor/internal/storage/postgres"
	"github.com/vladislavdragonenkov/ordereditor/internal/version"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "order-editor", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"serve"},
		{"migrate", "up"},
		{"migrate", "down"},
		{"migrate", "status"},
		{"seed"},
		{"version"},
	}

	for _, path := range commands {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "", configFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version.String()+"\n", out)

	out, err = execute(t, "version", "--json")
	require.NoError(t, err)
	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Get(), info)
}

func TestSeedCommand_Memory(t *testing.T) {
	t.Setenv("OMS_STORAGE_DRIVER", "memory")

	out, err := execute(t, "seed", "--file", "../../config/seed.yaml", "--log-level", "error")
	require.NoError(t, err)
	assert.Equal(t, "created=3 skipped=0\n", out)
}

func TestSeedCommand_RequiresFile(t *testing.T) {
	_, err := execute(t, "seed", "--log-level", "error")
	require.ErrorContains(t, err, "seed file is required")
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, "seed", "--file", "x.yaml", "--log-level", "loud")
	require.ErrorContains(t, err, "invalid log level")
}

func TestMigrateCommand_RequiresDSN(t *testing.T) {
	t.Setenv("OMS_POSTGRES_DSN", "")

	_, err := execute(t, "migrate", "status", "--log-level", "error")
	require.True(t, errors.Is(err, errDSNRequired), "unexpected error: %v", err)
}

func TestWriteMigrationTable(t *testing.T) {
	buf := &bytes.Buffer{}
	err := writeMigrationTable(buf, []postgres.MigrationInfo{
		{Version: 1, Name: "init", Applied: true, AppliedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		{Version: 2, Name: "timeline", Applied: false},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "VERSION")
	assert.Contains(t, lines[1], "2026-03-01T12:00:00Z")
	assert.Contains(t, lines[2], "timeline")
	assert.True(t, strings.HasSuffix(lines[2], "-"))
}
