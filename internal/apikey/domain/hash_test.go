package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminKeyHash(t *testing.T) {
	encoded, err := HashAdminKey("operator-secret")
	require.NoError(t, err)
	assert.Contains(t, encoded, "$argon2id$v=19$")

	assert.True(t, VerifyAdminKey("operator-secret", encoded))
	assert.False(t, VerifyAdminKey("operator-secret2", encoded))
	assert.False(t, VerifyAdminKey("operator-secret", "$argon2i$v=19$m=1,t=1,p=1$AA$AA"))
	assert.False(t, VerifyAdminKey("operator-secret", "not-a-hash"))
}

func TestHashKeyIsStable(t *testing.T) {
	assert.Equal(t, HashKey("mg_abc"), HashKey("mg_abc"))
	assert.NotEqual(t, HashKey("mg_abc"), HashKey("mg_abd"))
	assert.Len(t, HashKey("mg_abc"), 64)
}

func TestPrincipalScopes(t *testing.T) {
	p := Principal{Scopes: []string{ScopeReportsRead}}
	assert.True(t, p.Has(ScopeReportsRead))
	assert.False(t, p.Has(ScopeQuotaWrite))

	admin := Principal{Scopes: []string{ScopeAdmin}}
	assert.True(t, admin.Has(ScopeBillingWrite))
}
