package cli_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mlbrnm/incidentgpt/internal/cli"
	"github.com/mlbrnm/incidentgpt/internal/config"
	internal_storage "github.com/mlbrnm/incidentgpt/internal/storage"
	"github.com/mlbrnm/incidentgpt/pkg/extract"
	"github.com/mlbrnm/incidentgpt/pkg/models"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "opsassist", SilenceUsage: true, SilenceErrors: true}
	cli.SetupCLI(root, config.New())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func seed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cli.db")
	store, err := internal_storage.InitStore(internal_storage.DriverSQLite, path, true)
	require.NoError(t, err)
	defer store.Close()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpsertItem(models.WorkItem{
		Key: "INC100", Source: models.ServiceNowSource, Status: "New",
		ShortDescription: "Disk   full\non app01", ContextTag: "app01", LastUpdated: now,
	}))
	require.NoError(t, store.UpsertItem(models.WorkItem{
		Key: "INC200", Source: models.ServiceNowSource, Status: "New", LastUpdated: now,
	}))
	require.NoError(t, store.Archive("INC200", now))
	_, err = store.AppendSolution(models.Solution{ItemKey: "INC100", Text: "Clean /var/log.", GeneratedAt: now})
	require.NoError(t, err)
	return path
}

func TestListAndHistory(t *testing.T) {
	t.Chdir(t.TempDir())
	db := seed(t)

	out, err := run(t, "", "list", "--driver", "sqlite", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "- INC100 [servicenow] New | app01 | Disk full on app01 | solved\n", out)

	out, err = run(t, "", "list", "--archived", "--driver", "sqlite", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "INC200")
	assert.Contains(t, out, "pending")

	out, err = run(t, "", "history", "INC100", "--driver", "sqlite", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "#1 generated 2024-05-01T12:00:00Z\nClean /var/log.\n\n", out)

	_, err = run(t, "", "history", "INC999", "--driver", "sqlite", "--db", db)
	assert.ErrorContains(t, err, "not found")
}

func TestDelete(t *testing.T) {
	t.Chdir(t.TempDir())
	db := seed(t)

	out, err := run(t, "", "delete", "INC100", "--driver", "sqlite", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "Deleted INC100\n", out)

	out, err = run(t, "", "list", "--driver", "sqlite", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "No items found.\n", out)
}

func TestExtract(t *testing.T) {
	t.Chdir(t.TempDir())
	block := "printer jam on floor 3" + extract.Separator + "disk full on app01, purged logs" + extract.Separator + "vpn down"

	out, err := run(t, block, "extract", "--text", "Disk full on APP01")
	require.NoError(t, err)
	assert.Equal(t, "disk full on app01, purged logs\n", out)

	_, err = run(t, block, "extract")
	assert.Error(t, err)
}

func TestPollWithoutSources(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := run(t, "", "poll", "--driver", "memory")
	assert.ErrorContains(t, err, "no enabled source")
}
