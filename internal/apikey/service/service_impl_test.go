package service

import (
	"context"
	"strings"
	"testing"
	"time"

	apikeydomain "github.com/smallbiznis/meterguard/internal/apikey/domain"
	"github.com/smallbiznis/meterguard/internal/clock"
	"github.com/smallbiznis/meterguard/internal/config"
	"github.com/smallbiznis/meterguard/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupKeys(t *testing.T, cfg config.Config) (apikeydomain.Service, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	svc := New(Params{
		DB:    testutil.OpenDB(t),
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Cfg:   cfg,
		Clock: clk,
	})
	return svc, clk
}

func TestCreateAndAuthenticate(t *testing.T) {
	svc, _ := setupKeys(t, config.Config{})
	ctx := context.Background()

	secret, err := svc.Create(ctx, apikeydomain.CreateRequest{
		Name:   "gateway",
		Scopes: []string{"reports:read", " QUOTA:WRITE ", "quota:write"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(secret.APIKey, keyPrefix))
	assert.True(t, strings.HasPrefix(secret.KeyID, "key_"))

	principal, err := svc.Authenticate(ctx, secret.APIKey)
	require.NoError(t, err)
	assert.Equal(t, secret.KeyID, principal.KeyID)
	assert.Equal(t, []string{apikeydomain.ScopeQuotaWrite, apikeydomain.ScopeReportsRead}, principal.Scopes)
	assert.True(t, principal.Has(apikeydomain.ScopeQuotaWrite))
	assert.False(t, principal.Has(apikeydomain.ScopeBillingWrite))

	keys, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)

	_, err = svc.Authenticate(ctx, secret.APIKey+"x")
	assert.ErrorIs(t, err, apikeydomain.ErrUnauthorized)
	_, err = svc.Authenticate(ctx, "  ")
	assert.ErrorIs(t, err, apikeydomain.ErrUnauthorized)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := setupKeys(t, config.Config{})
	ctx := context.Background()

	_, err := svc.Create(ctx, apikeydomain.CreateRequest{Name: " ", Scopes: []string{"admin"}})
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidName)
	_, err = svc.Create(ctx, apikeydomain.CreateRequest{Name: "x"})
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidScope)
	_, err = svc.Create(ctx, apikeydomain.CreateRequest{Name: "x", Scopes: []string{"root"}})
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidScope)
}

func TestRotateKeepsOldKeyDuringGrace(t *testing.T) {
	svc, clk := setupKeys(t, config.Config{})
	ctx := context.Background()

	old, err := svc.Create(ctx, apikeydomain.CreateRequest{Name: "svc", Scopes: []string{"admin"}})
	require.NoError(t, err)
	next, err := svc.Rotate(ctx, old.KeyID)
	require.NoError(t, err)
	assert.NotEqual(t, old.KeyID, next.KeyID)

	_, err = svc.Authenticate(ctx, old.APIKey)
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, next.APIKey)
	require.NoError(t, err)

	clk.Advance(rotationGracePeriod + time.Second)
	_, err = svc.Authenticate(ctx, old.APIKey)
	assert.ErrorIs(t, err, apikeydomain.ErrUnauthorized)
	principal, err := svc.Authenticate(ctx, next.APIKey)
	require.NoError(t, err)
	assert.True(t, principal.Has(apikeydomain.ScopeBillingWrite))

	_, err = svc.Rotate(ctx, old.KeyID)
	assert.ErrorIs(t, err, apikeydomain.ErrNotFound)
}

func TestRevoke(t *testing.T) {
	svc, _ := setupKeys(t, config.Config{})
	ctx := context.Background()

	secret, err := svc.Create(ctx, apikeydomain.CreateRequest{Name: "tmp", Scopes: []string{"reports:read"}})
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, secret.KeyID))

	_, err = svc.Authenticate(ctx, secret.APIKey)
	assert.ErrorIs(t, err, apikeydomain.ErrUnauthorized)
	assert.ErrorIs(t, svc.Revoke(ctx, "key_missing"), apikeydomain.ErrNotFound)
	assert.ErrorIs(t, svc.Revoke(ctx, ""), apikeydomain.ErrInvalidKeyID)
}

func TestConfiguredKeys(t *testing.T) {
	hash, err := apikeydomain.HashAdminKey("operator-secret")
	require.NoError(t, err)

	svc, _ := setupKeys(t, config.Config{Auth: config.AuthConfig{DevAPIKey: "dev-key", APIKeyHash: hash}})
	ctx := context.Background()

	dev, err := svc.Authenticate(ctx, "dev-key")
	require.NoError(t, err)
	assert.True(t, dev.Admin)

	admin, err := svc.Authenticate(ctx, "operator-secret")
	require.NoError(t, err)
	assert.Equal(t, adminKeyID, admin.KeyID)

	_, err = svc.Authenticate(ctx, "operator-guess")
	assert.ErrorIs(t, err, apikeydomain.ErrUnauthorized)

	prod, _ := setupKeys(t, config.Config{Environment: "production", Auth: config.AuthConfig{DevAPIKey: "dev-key"}})
	_, err = prod.Authenticate(ctx, "dev-key")
	assert.ErrorIs(t, err, apikeydomain.ErrUnauthorized)
}

func TestAdminKeyHashRoundTrip(t *testing.T) {
	encoded, err := apikeydomain.HashAdminKey("s3cret")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$"))
	assert.True(t, apikeydomain.VerifyAdminKey("s3cret", encoded))
	assert.False(t, apikeydomain.VerifyAdminKey("other", encoded))
	assert.False(t, apikeydomain.VerifyAdminKey("s3cret", "$bcrypt$nope"))
}
