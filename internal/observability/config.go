package observability

import (
	"strings"
	"time"

	"github.com/smallbiznis/meterguard/internal/config"
	"github.com/spf13/viper"
)

// Config holds the logging, tracing and metrics-export settings.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel           string
	LogFormat          string
	LogSampleInitial   int
	LogSampleAfter     int
	GormSlowThreshold  time.Duration
	GormLockWaitWarnAt time.Duration

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

// LoadConfig reads observability settings from the environment, falling back
// to the application config for identity fields.
func LoadConfig(cfg config.Config) Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("DEPLOYMENT_ENV", cfg.Environment)
	v.SetDefault("SERVICE_VERSION", cfg.AppVersion)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_SAMPLE_INITIAL", 100)
	v.SetDefault("LOG_SAMPLE_THEREAFTER", 100)
	v.SetDefault("GORM_SLOW_THRESHOLD_MS", 200)
	v.SetDefault("GORM_LOCK_WAIT_MS", 50)
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	v.SetDefault("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	v.SetDefault("OTEL_SAMPLING_RATIO", 0.1)

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "meterguard"
	}
	protocol := v.GetString("OTEL_EXPORTER_OTLP_PROTOCOL")
	if traces := strings.TrimSpace(v.GetString("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = traces
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(v.GetString("DEPLOYMENT_ENV")),
		Version:              strings.TrimSpace(v.GetString("SERVICE_VERSION")),
		LogLevel:             strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
		LogFormat:            strings.ToLower(strings.TrimSpace(v.GetString("LOG_FORMAT"))),
		LogSampleInitial:     v.GetInt("LOG_SAMPLE_INITIAL"),
		LogSampleAfter:       v.GetInt("LOG_SAMPLE_THEREAFTER"),
		GormSlowThreshold:    time.Duration(v.GetFloat64("GORM_SLOW_THRESHOLD_MS") * float64(time.Millisecond)),
		GormLockWaitWarnAt:   time.Duration(v.GetFloat64("GORM_LOCK_WAIT_MS") * float64(time.Millisecond)),
		OtelEnabled:          v.GetBool("OTEL_ENABLED"),
		OtelExporterEndpoint: strings.TrimSpace(v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OtelExporterProtocol: strings.ToLower(strings.TrimSpace(protocol)),
		OtelSamplingRatio:    v.GetFloat64("OTEL_SAMPLING_RATIO"),
	}
}

// Debug is true for debug log level or any non-production environment name
// used locally.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}
