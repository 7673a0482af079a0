package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillbot/internal/config"
	"skillbot/internal/memory"
)

// writeTestConfig saves defaults with the database inside dir and points
// the --config flag at it.
func writeTestConfig(t *testing.T, dir string) (cfgPath, dbPath string) {
	t.Helper()
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfgPath = filepath.Join(dir, "config.yaml")
	dbPath = filepath.Join(dir, "data", "skillbot.db")

	cfg := config.Defaults()
	cfg.Storage.DBPath = dbPath
	cfg.Catalog.Dir = filepath.Join(dir, "catalog")
	require.NoError(t, config.Save(cfg, cfgPath))
	t.Cleanup(func() { configPath = "" })
	return cfgPath, dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "skillbot v"+version)
}

func TestConfigCommands(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, t.TempDir())

	out, err := execute(t, "--config", cfgPath, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, cfgPath+"\n", out)

	out, err = execute(t, "--config", cfgPath, "config", "get", "workflow.submit_mode")
	require.NoError(t, err)
	assert.Contains(t, out, "optimistic")

	out, err = execute(t, "--config", cfgPath, "config", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "storage.db_path = ")

	_, err = execute(t, "--config", cfgPath, "config", "get", "nope.missing")
	assert.Error(t, err)
}

func TestInitRefusesOverwrite(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	t.Cleanup(func() { configPath = "" })

	_, err := execute(t, "--config", cfgPath, "init")
	require.NoError(t, err)
	assert.FileExists(t, cfgPath)

	_, err = execute(t, "--config", cfgPath, "init")
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "--config", cfgPath, "init", "--force")
	assert.NoError(t, err)
}

func TestSchemasCommand(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, t.TempDir())

	out, err := execute(t, "--config", cfgPath, "schemas", "sales")
	require.NoError(t, err)
	assert.Contains(t, out, "OPERATION")
	assert.Contains(t, out, "create")

	_, err = execute(t, "--config", cfgPath, "schemas", "unknown")
	assert.ErrorContains(t, err, "unknown domain")
}

func TestSkillsCommand(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, t.TempDir())

	out, err := execute(t, "--config", cfgPath, "skills")
	require.NoError(t, err)
	assert.Contains(t, out, "workflow:account-crud")
	assert.Contains(t, out, "help")
}

func TestCatalogCommands(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, t.TempDir())

	out, err := execute(t, "--config", cfgPath, "catalog", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No domains installed")

	_, err = execute(t, "--config", cfgPath, "catalog", "remove", "support")
	assert.ErrorContains(t, err, "not installed")
}

func TestDoctor(t *testing.T) {
	cfgPath, dbPath := writeTestConfig(t, t.TempDir())

	out, err := execute(t, "--config", cfgPath, "doctor")
	require.NoError(t, err)
	assert.Contains(t, out, "[PASS] Database")
	assert.Contains(t, out, "[PASS] Catalog")
	assert.Contains(t, out, "[WARN] LLM")
	assert.FileExists(t, dbPath)
}

func TestDoctorFailsOnInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("workflow:\n  submit_mode: sometimes\n"), 0o600))
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	t.Cleanup(func() { configPath = "" })

	out, err := execute(t, "--config", cfgPath, "doctor")
	require.Error(t, err)
	assert.Contains(t, out, "[FAIL] Config validation")
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfgPath, dbPath := writeTestConfig(t, dir)

	db, err := memory.Open(dbPath, logger)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	archive := filepath.Join(dir, "backup.tar.gz")
	out, err := execute(t, "--config", cfgPath, "backup", "-o", archive)
	require.NoError(t, err)
	assert.Contains(t, out, "Backup created: "+archive)
	assert.Contains(t, out, "config.yaml")

	_, err = execute(t, "--config", cfgPath, "restore", archive)
	assert.ErrorContains(t, err, "restore aborted")

	require.NoError(t, os.Remove(dbPath))
	out, err = execute(t, "--config", cfgPath, "restore", "--force", archive)
	require.NoError(t, err)
	assert.Contains(t, out, "Restore completed")
	assert.FileExists(t, dbPath)
	assert.FileExists(t, cfgPath)
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", humanSize(512))
	assert.Equal(t, "1.5 KB", humanSize(1536))
	assert.Equal(t, "2.0 MB", humanSize(2*1024*1024))
	assert.Equal(t, "1.0 GB", humanSize(1024*1024*1024))
}
