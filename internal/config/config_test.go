package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, int64(100), cfg.Referral.ReferrerBonus)
	assert.Equal(t, int64(50), cfg.Referral.ReferredBonus)
	assert.Equal(t, 10*time.Second, cfg.Credits.LockTTL)
	assert.Equal(t, 72*time.Hour, cfg.Referral.ApplyWindow)
}

func TestLoadConfigFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := []byte(`
server:
  port: 9090
database:
  driver: sqlite
  path: test.db
referral:
  referrer_bonus: 30
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o600))
	t.Setenv("CREDITLEDGER_REFERRAL_REFERRED_BONUS", "15")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "test.db", cfg.Database.DSN())
	assert.Equal(t, int64(30), cfg.Referral.ReferrerBonus)
	assert.Equal(t, int64(15), cfg.Referral.ReferredBonus)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{Driver: "oracle"}}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNegativeApplyWindow(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{Driver: "sqlite"}}
	cfg.Referral.ApplyWindow = -time.Hour
	assert.Error(t, cfg.Validate())
}

func TestPostgresDSN(t *testing.T) {
	d := DatabaseConfig{Driver: "postgres", Host: "h", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "require"}
	assert.Equal(t, "host=h user=u password=p dbname=n port=5432 sslmode=require TimeZone=UTC", d.DSN())
}
