package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/meterguard/internal/cache"
	"github.com/smallbiznis/meterguard/internal/clock"
	"github.com/smallbiznis/meterguard/internal/config"
	obslogger "github.com/smallbiznis/meterguard/internal/observability/logger"
	"github.com/smallbiznis/meterguard/internal/sociallogin/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultStateTTL = 10 * time.Minute
	authorizeScope  = "openid profile email offline_access"
)

type Params struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	States  cache.StateStore
	Runtime *cache.RuntimeConfig `optional:"true"`
	Clock   clock.Clock          `optional:"true"`
}

type Service struct {
	cfg     config.SocialLoginConfig
	ttl     time.Duration
	log     *zap.Logger
	states  cache.StateStore
	runtime *cache.RuntimeConfig
	clock   clock.Clock
}

func NewService(p Params) domain.Service {
	ttl := p.Cfg.Runtime.StateTTL
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &Service{
		cfg:     p.Cfg.Social,
		ttl:     ttl,
		log:     p.Log.Named("sociallogin.service"),
		states:  p.States,
		runtime: p.Runtime,
		clock:   clock.OrSystem(p.Clock),
	}
}

func (s *Service) Start(ctx context.Context, raw string) (*domain.Authorization, error) {
	provider := domain.Provider(strings.ToLower(strings.TrimSpace(raw)))
	var connector string
	switch provider {
	case domain.ProviderGoogle:
		connector = s.setting(ctx, "CONNECTOR_GOOGLE_ID", s.cfg.GoogleConnector)
	case domain.ProviderGithub:
		connector = s.setting(ctx, "CONNECTOR_GITHUB_ID", s.cfg.GithubConnector)
	default:
		return nil, domain.ErrUnknownProvider
	}

	endpoint := strings.TrimRight(s.setting(ctx, "LOGTO_ENDPOINT", s.cfg.Endpoint), "/")
	clientID := s.setting(ctx, "LOGTO_CLIENT_ID", s.cfg.ClientID)
	redirectURI := s.setting(ctx, "LOGTO_REDIRECT_URI", s.cfg.RedirectURI)
	if endpoint == "" || clientID == "" || redirectURI == "" {
		return nil, domain.ErrNotConfigured
	}

	state := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := s.states.Put(ctx, state, string(provider), s.ttl); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("client_id", clientID)
	query.Set("response_type", "code")
	query.Set("redirect_uri", redirectURI)
	query.Set("scope", authorizeScope)
	query.Set("state", state)
	if connector != "" {
		query.Set("direct_sign_in", "social:"+connector)
	}

	obslogger.WithContext(ctx, s.log).Info("sociallogin.started", zap.String("provider", string(provider)))
	return &domain.Authorization{
		Provider:   provider,
		State:      state,
		RedirectTo: endpoint + "/oidc/auth?" + query.Encode(),
		ExpiresAt:  s.clock.Now().Add(s.ttl),
	}, nil
}

func (s *Service) Complete(ctx context.Context, state string) (*domain.Completion, error) {
	state = strings.TrimSpace(state)
	if state == "" {
		return nil, domain.ErrInvalidState
	}
	value, ok, err := s.states.Take(ctx, state)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrInvalidState
	}

	provider := domain.Provider(value)
	obslogger.WithContext(ctx, s.log).Info("sociallogin.completed", zap.String("provider", string(provider)))
	return &domain.Completion{
		Provider:   provider,
		RedirectTo: s.setting(ctx, "SOCIAL_POST_LOGIN_URL", s.cfg.PostLoginURL),
	}, nil
}

// setting prefers the runtime settings table, then the boot config.
func (s *Service) setting(ctx context.Context, key, def string) string {
	if s.runtime == nil {
		return strings.TrimSpace(def)
	}
	return strings.TrimSpace(s.runtime.String(ctx, key, def))
}
