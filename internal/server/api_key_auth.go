package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/meterguard/internal/apikey/domain"
	obscontext "github.com/smallbiznis/meterguard/internal/observability/context"
)

const contextPrincipalKey = "api_key_principal"

// APIKeyRequired authenticates a bearer API key and stores the principal on
// the gin context.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		principal, err := s.apiKeySvc.Authenticate(c.Request.Context(), parts[1])
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), "api_key", principal.KeyID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextPrincipalKey, *principal)
		c.Next()
	}
}

// RequireScope must run after APIKeyRequired.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := principalFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if !principal.Has(scope) {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

func principalFromContext(c *gin.Context) (apikeydomain.Principal, bool) {
	value, ok := c.Get(contextPrincipalKey)
	if !ok {
		return apikeydomain.Principal{}, false
	}
	principal, ok := value.(apikeydomain.Principal)
	return principal, ok
}
