package server

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/meterguard/internal/cache"
)

type updateSettingsRequest struct {
	Values map[string]string `json:"values"`
}

func (s *Server) ListSettings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"settings":               s.runtimeCfg.Masked(c.Request.Context()),
		"dev_api_key_configured": strings.TrimSpace(s.cfg.Auth.DevAPIKey) != "",
	})
}

// UpdateSettings rejects the whole batch when any key is protected.
func (s *Server) UpdateSettings(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Values) == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}
	keys := make([]string, 0, len(req.Values))
	for key := range req.Values {
		if strings.TrimSpace(key) == "" || cache.IsProtectedEnvKey(key) {
			AbortWithError(c, cache.ErrProtectedKey)
			return
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	ctx := c.Request.Context()
	for _, key := range keys {
		if err := s.runtimeCfg.Set(ctx, key, req.Values[key]); err != nil {
			AbortWithError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"updated": keys, "settings": s.runtimeCfg.Masked(ctx)})
}

func (s *Server) StartSocialLogin(c *gin.Context) {
	auth, err := s.socialSvc.Start(c.Request.Context(), c.Query("provider"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, auth)
}

// SocialLoginCallback is public; the single-use state is the credential.
func (s *Server) SocialLoginCallback(c *gin.Context) {
	done, err := s.socialSvc.Complete(c.Request.Context(), c.Query("state"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	target := done.RedirectTo
	if target == "" {
		target = "/"
	}
	c.Redirect(http.StatusFound, target)
}
