package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"syndrodm/src/driver"
	"syndrodm/src/encoder"
	"syndrodm/src/engine"
	"syndrodm/src/migrations"
	"syndrodm/src/settings"
)

func step(calls *[]string, label string) migrations.Procedure {
	return func(context.Context, *migrations.Tx) error {
		*calls = append(*calls, label)
		return nil
	}
}

// setupCLITest points the commands at an in-memory database holding two
// migrations.
func setupCLITest(t *testing.T) (*engine.Database, *[]string) {
	t.Helper()
	db := engine.NewDatabase("cli")
	calls := &[]string{}

	oldConnect, oldModules := connect, modules
	connect = func(context.Context, *settings.Arguments, *encoder.Table, *zap.SugaredLogger) (driver.Database, func(context.Context) error, error) {
		return db, func(context.Context) error { return nil }, nil
	}
	modules = func() []migrations.Module {
		return []migrations.Module{
			{Name: "0001_init", Forward: []migrations.Procedure{step(calls, "init+")}, Backward: []migrations.Procedure{step(calls, "init-")}},
			{Name: "0002_users", Forward: []migrations.Procedure{step(calls, "users+")}, Backward: []migrations.Procedure{step(calls, "users-")}},
		}
	}
	t.Cleanup(func() {
		connect, modules = oldConnect, oldModules
		_ = rootCmd.PersistentFlags().Set("metrics-file", "")
	})
	return db, calls
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRootCmd_Use(t *testing.T) {
	assert.Equal(t, "syndrodm", rootCmd.Use)
	for _, name := range []string{"up", "down", "status"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestUpCmd_AppliesAndReportsCurrent(t *testing.T) {
	_, calls := setupCLITest(t)

	out, err := execute(t, "up", "--database", "cli", "--distance", "0")
	require.NoError(t, err)
	assert.Equal(t, []string{"init+", "users+"}, *calls)
	assert.Contains(t, out, "forward 0001_init")
	assert.Contains(t, out, "forward 0002_users")
	assert.Contains(t, out, "Current: 0002_users")
	assert.Equal(t, "cli", settings.GetSettings().Database)

	out, err = execute(t, "up", "--database", "cli", "--distance", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to do.")
}

func TestDownCmd_RollsBackOneByDefault(t *testing.T) {
	_, calls := setupCLITest(t)

	_, err := execute(t, "up", "--database", "cli", "--distance", "0")
	require.NoError(t, err)

	out, err := execute(t, "down", "--database", "cli", "--distance", "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"init+", "users+", "users-"}, *calls)
	assert.Contains(t, out, "backward 0002_users")
	assert.Contains(t, out, "Current: 0001_init")
}

func TestStatusCmd_MarksApplied(t *testing.T) {
	setupCLITest(t)

	_, err := execute(t, "up", "--database", "cli", "--distance", "1")
	require.NoError(t, err)

	out, err := execute(t, "status", "--database", "cli")
	require.NoError(t, err)
	assert.Contains(t, out, "[x] 0001_init (current)")
	assert.Contains(t, out, "[ ] 0002_users")
}

func TestCommands_RequireDatabase(t *testing.T) {
	setupCLITest(t)

	_, err := execute(t, "status", "--database", "")
	assert.Error(t, err)
}

func TestUpCmd_RejectsNegativeDistance(t *testing.T) {
	setupCLITest(t)

	_, err := execute(t, "up", "--database", "cli", "--distance", "-1")
	assert.Error(t, err)
}

func TestUpCmd_ConnectFailure(t *testing.T) {
	setupCLITest(t)
	connect = func(context.Context, *settings.Arguments, *encoder.Table, *zap.SugaredLogger) (driver.Database, func(context.Context) error, error) {
		return nil, nil, errors.New("unreachable")
	}

	_, err := execute(t, "up", "--database", "cli", "--distance", "0")
	assert.EqualError(t, err, "unreachable")
}

func TestUpCmd_WritesMetricsFile(t *testing.T) {
	setupCLITest(t)
	path := filepath.Join(t.TempDir(), "syndrodm.prom")

	_, err := execute(t, "up", "--database", "cli", "--distance", "0", "--metrics-file", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `syndrodm_migrations_total{direction="forward",result="ok"} 2`)
	assert.Contains(t, string(data), `syndrodm_index_changes_total{action="create",collection="migrations_log"} 1`)
}
