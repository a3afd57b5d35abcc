package cache

import (
	"context"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/meterguard/internal/clock"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Setting is one operator-managed key in the settings table.
type Setting struct {
	Key       string    `gorm:"primaryKey;type:varchar(128)" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Setting) TableName() string { return "settings" }

var protectedEnvKeys = map[string]struct{}{
	"DATABASE_URL": {},
	"DEV_API_KEY":  {},
}

var sensitiveKeys = map[string]struct{}{
	"STRIPE_SECRET_KEY":       {},
	"STRIPE_WEBHOOK_SECRET":   {},
	"ALIPAY_APP_PRIVATE_KEY":  {},
	"LAGO_API_KEY":            {},
	"LITELLM_MASTER_KEY":      {},
	"DEV_API_KEY":             {},
	"METRICS_PUSH_AUTH_TOKEN": {},
}

const settingsKey = "settings"

// RuntimeConfig reads settings from the database first and falls back to the
// environment unless strict mode is on. Protected keys are env-only.
type RuntimeConfig struct {
	db        *gorm.DB
	log       *zap.Logger
	ttl       time.Duration
	strict    bool
	lookupEnv func(string) (string, bool)
	clock     clock.Clock

	mu    sync.Mutex
	cache *TTLCache[string, map[string]string]
}

type RuntimeConfigOptions struct {
	TTL       time.Duration
	Strict    bool
	LookupEnv func(string) (string, bool)
	Clock     clock.Clock
}

func NewRuntimeConfig(db *gorm.DB, log *zap.Logger, opts RuntimeConfigOptions) *RuntimeConfig {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Minute
	}
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	clk := clock.OrSystem(opts.Clock)
	return &RuntimeConfig{
		db:        db,
		log:       log.Named("cache.runtime_config"),
		ttl:       opts.TTL,
		strict:    opts.Strict,
		lookupEnv: opts.LookupEnv,
		clock:     clk,
		cache:     NewTTLCacheWithClock[string, map[string]string](clk.Now),
	}
}

func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[key]
	return ok
}

func IsProtectedEnvKey(key string) bool {
	_, ok := protectedEnvKeys[key]
	return ok
}

// Invalidate forces a reload on the next lookup.
func (c *RuntimeConfig) Invalidate() {
	c.cache.Purge()
}

// Lookup returns the raw value and whether any source had it.
func (c *RuntimeConfig) Lookup(ctx context.Context, key string) (string, bool) {
	if IsProtectedEnvKey(key) {
		return c.lookupEnv(key)
	}
	if v, ok := c.settings(ctx)[key]; ok && v != "" {
		return v, true
	}
	if c.strict {
		return "", false
	}
	return c.lookupEnv(key)
}

func (c *RuntimeConfig) String(ctx context.Context, key, def string) string {
	if v, ok := c.Lookup(ctx, key); ok {
		return v
	}
	return def
}

func (c *RuntimeConfig) Bool(ctx context.Context, key string, def bool) bool {
	v, ok := c.Lookup(ctx, key)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func (c *RuntimeConfig) Int(ctx context.Context, key string, def int64) int64 {
	v, ok := c.Lookup(ctx, key)
	if !ok {
		return def
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func (c *RuntimeConfig) Float(ctx context.Context, key string, def float64) float64 {
	v, ok := c.Lookup(ctx, key)
	if !ok {
		return def
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return parsed
}

// Set upserts a database setting. Protected keys cannot be stored.
func (c *RuntimeConfig) Set(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" || IsProtectedEnvKey(key) {
		return ErrProtectedKey
	}
	row := Setting{Key: key, Value: value, UpdatedAt: c.clock.Now()}
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// MaskedSetting is a setting as shown to operators.
type MaskedSetting struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Sensitive bool   `json:"sensitive"`
}

// Masked lists database settings with sensitive values hidden.
func (c *RuntimeConfig) Masked(ctx context.Context) []MaskedSetting {
	all := c.settings(ctx)
	out := make([]MaskedSetting, 0, len(all))
	for k, v := range all {
		item := MaskedSetting{Key: k, Value: v, Sensitive: IsSensitive(k)}
		if item.Sensitive {
			item.Value = mask(v)
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (c *RuntimeConfig) settings(ctx context.Context) map[string]string {
	if m, ok := c.cache.Get(settingsKey); ok {
		return m
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.cache.Get(settingsKey); ok {
		return m
	}

	var rows []Setting
	if err := c.db.WithContext(ctx).Find(&rows).Error; err != nil {
		c.log.Warn("settings load failed", zap.Error(err))
		return map[string]string{}
	}
	m := make(map[string]string, len(rows))
	for _, r := range rows {
		m[r.Key] = r.Value
	}
	c.cache.Set(settingsKey, m, c.ttl)
	return m
}

func mask(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}
