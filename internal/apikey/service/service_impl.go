package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/meterguard/internal/apikey/domain"
	"github.com/smallbiznis/meterguard/internal/apikey/repository"
	"github.com/smallbiznis/meterguard/internal/clock"
	"github.com/smallbiznis/meterguard/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	keyPrefix           = "mg_live_"
	keySecretBytes      = 32
	rotationGracePeriod = 24 * time.Hour
	devKeyID            = "dev"
	adminKeyID          = "admin"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Cfg   config.Config
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      apikeydomain.Repository
	devKey    string
	adminHash string
}

func New(p Params) apikeydomain.Service {
	devKey := strings.TrimSpace(p.Cfg.Auth.DevAPIKey)
	if p.Cfg.IsProduction() {
		devKey = ""
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("apikey.service"),
		genID:     p.GenID,
		clock:     clock.OrSystem(p.Clock),
		repo:      repository.Provide(),
		devKey:    devKey,
		adminHash: strings.TrimSpace(p.Cfg.Auth.APIKeyHash),
	}
}

func (s *Service) List(ctx context.Context) ([]apikeydomain.APIKey, error) {
	return s.repo.List(ctx, s.db)
}

func (s *Service) Create(ctx context.Context, req apikeydomain.CreateRequest) (*apikeydomain.SecretResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apikeydomain.ErrInvalidName
	}
	scopes, err := normalizeScopes(req.Scopes)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	id := s.genID.Generate()
	keyID := newKeyID(id)
	plain, hash, err := generateKey(keyID)
	if err != nil {
		return nil, err
	}
	key := &apikeydomain.APIKey{
		ID:        id,
		KeyID:     keyID,
		Name:      name,
		Scopes:    scopes,
		KeyHash:   hash,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, key); err != nil {
		return nil, err
	}
	s.log.Info("apikey.created", zap.String("key_id", keyID), zap.String("scopes", scopes))
	return &apikeydomain.SecretResponse{KeyID: keyID, APIKey: plain}, nil
}

// Rotate issues a replacement key. The old key keeps working for a grace
// period so callers can roll over.
func (s *Service) Rotate(ctx context.Context, keyID string) (*apikeydomain.SecretResponse, error) {
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return nil, apikeydomain.ErrInvalidKeyID
	}

	var result *apikeydomain.SecretResponse
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		current, err := s.repo.FindByKeyID(ctx, tx, keyID)
		if err != nil {
			return err
		}
		if current == nil || !current.Usable(now) {
			return apikeydomain.ErrNotFound
		}

		expires := now.Add(rotationGracePeriod)
		current.ExpiresAt = &expires
		current.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, current); err != nil {
			return err
		}

		id := s.genID.Generate()
		nextKeyID := newKeyID(id)
		plain, hash, err := generateKey(nextKeyID)
		if err != nil {
			return err
		}
		rotatedFrom := current.KeyID
		next := &apikeydomain.APIKey{
			ID:               id,
			KeyID:            nextKeyID,
			Name:             current.Name,
			Scopes:           current.Scopes,
			KeyHash:          hash,
			IsActive:         true,
			CreatedAt:        now,
			UpdatedAt:        now,
			RotatedFromKeyID: &rotatedFrom,
		}
		if err := s.repo.Insert(ctx, tx, next); err != nil {
			return err
		}
		result = &apikeydomain.SecretResponse{KeyID: nextKeyID, APIKey: plain}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) Revoke(ctx context.Context, keyID string) error {
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return apikeydomain.ErrInvalidKeyID
	}
	key, err := s.repo.FindByKeyID(ctx, s.db, keyID)
	if err != nil {
		return err
	}
	if key == nil {
		return apikeydomain.ErrNotFound
	}
	now := s.clock.Now()
	key.IsActive = false
	key.UpdatedAt = now
	if key.ExpiresAt == nil || key.ExpiresAt.After(now) {
		key.ExpiresAt = &now
	}
	return s.repo.Update(ctx, s.db, key)
}

func (s *Service) Authenticate(ctx context.Context, raw string) (*apikeydomain.Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apikeydomain.ErrUnauthorized
	}
	if s.devKey != "" && subtle.ConstantTimeCompare([]byte(raw), []byte(s.devKey)) == 1 {
		return &apikeydomain.Principal{KeyID: devKeyID, Admin: true}, nil
	}
	if s.adminHash != "" && !strings.HasPrefix(raw, keyPrefix) && apikeydomain.VerifyAdminKey(raw, s.adminHash) {
		return &apikeydomain.Principal{KeyID: adminKeyID, Admin: true}, nil
	}

	hash := apikeydomain.HashKey(raw)
	key, err := s.repo.FindByHash(ctx, s.db, hash)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if key == nil || subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 || !key.Usable(now) {
		return nil, apikeydomain.ErrUnauthorized
	}
	if err := s.repo.TouchLastUsed(ctx, s.db, key.ID, now); err != nil {
		s.log.Warn("apikey.touch_failed", zap.String("key_id", key.KeyID), zap.Error(err))
	}
	return &apikeydomain.Principal{KeyID: key.KeyID, Scopes: key.ScopeList()}, nil
}

func normalizeScopes(in []string) (string, error) {
	if len(in) == 0 {
		return "", apikeydomain.ErrInvalidScope
	}
	out := make([]string, 0, len(in))
	for _, raw := range in {
		scope := strings.ToLower(strings.TrimSpace(raw))
		if !slices.Contains(apikeydomain.KnownScopes, scope) {
			return "", apikeydomain.ErrInvalidScope
		}
		if !slices.Contains(out, scope) {
			out = append(out, scope)
		}
	}
	slices.Sort(out)
	return strings.Join(out, ","), nil
}

func generateKey(keyID string) (string, string, error) {
	secret := make([]byte, keySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", "", err
	}
	plain := fmt.Sprintf("%s%s_%s", keyPrefix, strings.TrimPrefix(keyID, "key_"), hex.EncodeToString(secret))
	return plain, apikeydomain.HashKey(plain), nil
}

func newKeyID(id snowflake.ID) string {
	return "key_" + strings.ToUpper(strconv.FormatInt(int64(id), 36))
}
