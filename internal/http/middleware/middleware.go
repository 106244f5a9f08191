// Package middleware holds engine-level middleware that depends on router config.
package middleware

import (
	"net/http"
	"time"

	"dealership_crm_backend/platform/config"
	"dealership_crm_backend/platform/httpkit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS builds the cross-origin policy from config. AllowAll and credentials
// are mutually exclusive; config loading rejects the combination.
func CORS(cfg config.HTTPConfig) gin.HandlerFunc {
	policy := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", httpkit.HeaderRequestID},
		ExposeHeaders:    []string{httpkit.HeaderRequestID},
		AllowCredentials: cfg.GetCORSAllowCreds(),
		MaxAge:           12 * time.Hour,
	}
	if cfg.GetCORSAllowAll() {
		policy.AllowAllOrigins = true
	} else {
		policy.AllowOrigins = cfg.GetCORSOrigins()
	}
	return cors.New(policy)
}
