package dbi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeFile(t, "db.yaml", `
engine: mysqli
database: mythconverg
user: mythtv
password: mythtv
port: /var/run/mysqld/mysqld.sock
options:
  charset: utf8mb4
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, Config{
		Engine:   "mysqli",
		Database: "mythconverg",
		User:     "mythtv",
		Password: "mythtv",
		Host:     "localhost",
		Port:     "/var/run/mysqld/mysqld.sock",
		Options:  map[string]string{"charset": "utf8mb4"},
	}, cfg)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeFile(t, "db.yaml", "database: tv\n"))
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Engine)
	assert.Equal(t, "localhost", cfg.Host)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeFile(t, "bad.yaml", "database: [unclosed\n"))
	assert.Error(t, err)

	_, err = LoadConfig(writeFile(t, "nodb.yaml", "engine: pgsql\n"))
	assert.Error(t, err)

	_, err = LoadConfig(writeFile(t, "engine.yaml", "engine: oracle\ndatabase: x\n"))
	assert.ErrorIs(t, err, ErrUnknownEngine)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{Engine: "sqlite", Database: ":memory:"}.Validate())
	assert.Error(t, Config{Engine: "sqlite"}.Validate())
	assert.Error(t, Config{Database: "x"}.Validate())
}
