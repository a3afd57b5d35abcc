package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	GatingModeBlock   = "block"
	GatingModeDegrade = "degrade"
)

// QuotaConfig is the operator-tunable part of quota enforcement.
type QuotaConfig struct {
	Degrade   DegradeConfig   `mapstructure:"degrade"`
	Overdraft OverdraftConfig `mapstructure:"overdraft"`
	Window    WindowConfig    `mapstructure:"window"`
}

type DegradeConfig struct {
	DefaultModel string `mapstructure:"defaultModel"`
	// Mapping is "pattern->fallback,pattern2->fallback2".
	Mapping string `mapstructure:"mapping"`
}

type OverdraftConfig struct {
	GatingEnabled bool   `mapstructure:"gatingEnabled"`
	GatingMode    string `mapstructure:"gatingMode"`
}

type WindowConfig struct {
	UTCOffset string `mapstructure:"utcOffset"`
	ResetTime string `mapstructure:"resetTime"`
}

func DefaultQuotaConfig() QuotaConfig {
	return QuotaConfig{
		Degrade: DegradeConfig{
			DefaultModel: "gpt-4o-mini",
		},
		Overdraft: OverdraftConfig{
			GatingEnabled: false,
			GatingMode:    GatingModeBlock,
		},
		Window: WindowConfig{
			UTCOffset: "UTC+8",
			ResetTime: "00:00",
		},
	}
}

type QuotaConfigHolder struct {
	current atomic.Value // holds QuotaConfig
}

// NewStaticQuotaConfigHolder returns a holder that never reloads.
func NewStaticQuotaConfigHolder(cfg QuotaConfig) *QuotaConfigHolder {
	holder := &QuotaConfigHolder{}
	holder.current.Store(normalizeQuotaConfig(cfg))
	return holder
}

func NewQuotaConfigHolder(cfg Config, log *zap.Logger) (*QuotaConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.quota")

	v := viper.New()

	name := strings.TrimSpace(cfg.QuotaCfg.ConfigName)
	if name == "" {
		name = "quota"
	}
	v.SetConfigName(name)
	v.SetConfigType("yml")
	for _, dir := range cfg.QuotaCfg.ConfigDirs {
		v.AddConfigPath(dir)
	}

	defaults := DefaultQuotaConfig()
	v.SetDefault("degrade.defaultModel", defaults.Degrade.DefaultModel)
	v.SetDefault("degrade.mapping", defaults.Degrade.Mapping)
	v.SetDefault("overdraft.gatingEnabled", defaults.Overdraft.GatingEnabled)
	v.SetDefault("overdraft.gatingMode", defaults.Overdraft.GatingMode)
	v.SetDefault("window.utcOffset", defaults.Window.UTCOffset)
	v.SetDefault("window.resetTime", defaults.Window.ResetTime)

	_ = v.BindEnv("degrade.defaultModel", "DEGRADE_DEFAULT_MODEL")
	_ = v.BindEnv("degrade.mapping", "DEGRADE_MAPPING")
	_ = v.BindEnv("overdraft.gatingEnabled", "OVERDRAFT_GATING_ENABLED")
	_ = v.BindEnv("overdraft.gatingMode", "OVERDRAFT_GATING_MODE")
	_ = v.BindEnv("window.utcOffset", "QUOTA_UTC_OFFSET")
	_ = v.BindEnv("window.resetTime", "QUOTA_RESET_TIME")

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	var quotaCfg QuotaConfig
	if err := v.Unmarshal(&quotaCfg); err != nil {
		return nil, err
	}
	quotaCfg = normalizeQuotaConfig(quotaCfg)
	if err := validateQuotaConfig(quotaCfg); err != nil {
		return nil, err
	}

	holder := &QuotaConfigHolder{}
	holder.current.Store(quotaCfg)

	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated QuotaConfig
		if err := v.Unmarshal(&updated); err != nil {
			log.Warn("quota config reload failed", zap.Error(err))
			return
		}
		updated = normalizeQuotaConfig(updated)
		if err := validateQuotaConfig(updated); err != nil {
			log.Warn("invalid quota config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("quota config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *QuotaConfigHolder) Get() QuotaConfig {
	if h == nil {
		return DefaultQuotaConfig()
	}
	cfg, ok := h.current.Load().(QuotaConfig)
	if !ok {
		return DefaultQuotaConfig()
	}
	return cfg
}

func normalizeQuotaConfig(cfg QuotaConfig) QuotaConfig {
	defaults := DefaultQuotaConfig()
	cfg.Degrade.DefaultModel = strings.TrimSpace(cfg.Degrade.DefaultModel)
	if cfg.Degrade.DefaultModel == "" {
		cfg.Degrade.DefaultModel = defaults.Degrade.DefaultModel
	}
	cfg.Degrade.Mapping = strings.TrimSpace(cfg.Degrade.Mapping)
	cfg.Overdraft.GatingMode = strings.ToLower(strings.TrimSpace(cfg.Overdraft.GatingMode))
	if cfg.Overdraft.GatingMode == "" {
		cfg.Overdraft.GatingMode = defaults.Overdraft.GatingMode
	}
	cfg.Window.UTCOffset = strings.TrimSpace(cfg.Window.UTCOffset)
	if cfg.Window.UTCOffset == "" {
		cfg.Window.UTCOffset = defaults.Window.UTCOffset
	}
	cfg.Window.ResetTime = strings.TrimSpace(cfg.Window.ResetTime)
	if cfg.Window.ResetTime == "" {
		cfg.Window.ResetTime = defaults.Window.ResetTime
	}
	return cfg
}

func validateQuotaConfig(cfg QuotaConfig) error {
	switch cfg.Overdraft.GatingMode {
	case GatingModeBlock, GatingModeDegrade:
	default:
		return fmt.Errorf("overdraft.gatingMode must be %q or %q", GatingModeBlock, GatingModeDegrade)
	}
	return nil
}
