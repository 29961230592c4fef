package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-reconciliation-engine/internal/models"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "CHF", cfg.Reconciliation.Currency)
	assert.Equal(t, "Europe/Zurich", cfg.Reconciliation.Location.String())
	assert.Equal(t, 15*time.Minute, cfg.Reconciliation.LockTTL)
	assert.Equal(t, 2, cfg.Reconciliation.Matching.DateWindowDays)
	assert.Equal(t, 70, cfg.Reconciliation.Matching.AutoApplyThreshold)
	assert.Contains(t, cfg.Database.ConnectionString(), "dbname=reconciliation")

	mc := cfg.Reconciliation.MatchingConfig()
	assert.Equal(t, []string{"sumup", "card"}, mc.PaymentMethods[models.SourceSumUp])
	assert.Equal(t, "0.05", mc.AmountTolerancePct.String())
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "matching.yaml")
	yml := `date_window_days: 3
amount_tolerance_pct: 0.02
auto_apply_threshold: 80
review_on_tie: true
payment_methods:
  twint: [twint, mobile]
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("DB_DSN", "postgres://u:p@db/recon")
	t.Setenv("RECON_CURRENCY", "eur")
	t.Setenv("RECON_TIMEZONE", "UTC")
	t.Setenv("RECON_LOCK_TTL", "90s")
	t.Setenv("RECON_WORKERS", "not-a-number")
	t.Setenv("MATCHING_CONFIG_FILE", path)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "postgres://u:p@db/recon", cfg.Database.ConnectionString())
	assert.Equal(t, "EUR", cfg.Reconciliation.Currency)
	assert.Equal(t, 90*time.Second, cfg.Reconciliation.LockTTL)
	assert.Equal(t, 4, cfg.Reconciliation.Workers)

	m := cfg.Reconciliation.Matching
	assert.Equal(t, 3, m.DateWindowDays)
	assert.Equal(t, 40, m.MinConfidence)
	assert.True(t, cfg.Reconciliation.ResolutionConfig().ReviewOnTie)
	assert.Equal(t, 80, cfg.Reconciliation.ResolutionConfig().AutoApplyThreshold)
	assert.Equal(t, []string{"twint", "mobile"}, cfg.Reconciliation.MatchingConfig().PaymentMethods[models.SourceTwint])
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	t.Setenv("RECON_TIMEZONE", "Mars/Olympus")
	_, err := LoadFromEnv()
	assert.Error(t, err)
}

func TestLoadMatching_Rejects(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("payment_methods:\n  paypal: [paypal]\n"), 0o644))
	_, err := LoadMatching(bad)
	assert.Error(t, err)

	low := filepath.Join(dir, "low.yaml")
	require.NoError(t, os.WriteFile(low, []byte("auto_apply_threshold: 30\n"), 0o644))
	_, err = LoadMatching(low)
	assert.Error(t, err)

	_, err = LoadMatching(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
