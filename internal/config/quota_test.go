package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQuotaConfigDefaultsWithoutFile(t *testing.T) {
	holder, err := NewQuotaConfigHolder(Config{
		QuotaCfg: QuotaFileConfig{ConfigName: "missing", ConfigDirs: []string{t.TempDir()}},
	}, zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, "gpt-4o-mini", cfg.Degrade.DefaultModel)
	assert.Equal(t, GatingModeBlock, cfg.Overdraft.GatingMode)
	assert.Equal(t, "UTC+8", cfg.Window.UTCOffset)
	assert.Equal(t, "00:00", cfg.Window.ResetTime)
}

func TestQuotaConfigReadsFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`degrade:
  defaultModel: claude-haiku
  mapping: "gpt-4*->gpt-4o-mini"
overdraft:
  gatingEnabled: true
  gatingMode: degrade
window:
  utcOffset: UTC-5
  resetTime: "06:30"
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quota.yml"), content, 0o600))

	holder, err := NewQuotaConfigHolder(Config{
		QuotaCfg: QuotaFileConfig{ConfigName: "quota", ConfigDirs: []string{dir}},
	}, zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, "claude-haiku", cfg.Degrade.DefaultModel)
	assert.Equal(t, "gpt-4*->gpt-4o-mini", cfg.Degrade.Mapping)
	assert.True(t, cfg.Overdraft.GatingEnabled)
	assert.Equal(t, GatingModeDegrade, cfg.Overdraft.GatingMode)
	assert.Equal(t, "UTC-5", cfg.Window.UTCOffset)
	assert.Equal(t, "06:30", cfg.Window.ResetTime)
}

func TestQuotaConfigRejectsUnknownGatingMode(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quota.yml"), []byte("overdraft:\n  gatingMode: explode\n"), 0o600))

	_, err := NewQuotaConfigHolder(Config{
		QuotaCfg: QuotaFileConfig{ConfigName: "quota", ConfigDirs: []string{dir}},
	}, zap.NewNop())
	require.Error(t, err)
}

func TestNilHolderFallsBackToDefaults(t *testing.T) {
	var holder *QuotaConfigHolder
	assert.Equal(t, DefaultQuotaConfig(), holder.Get())
}
