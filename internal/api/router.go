// Package api wires together all HTTP routes for Connector Hub.
//
// Probe routes (/health, /ready, /version) are unauthenticated. Everything
// under /api/v1/organizations/:orgId requires a service JWT whose organisation
// claim, when present, matches the route, plus the scope of the route group.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/connector-hub/connector-hub/internal/auth"
	"github.com/connector-hub/connector-hub/internal/middleware"
)

// Pinger reports database reachability.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Dependencies are the collaborators the router hands to its handlers.
type Dependencies struct {
	DB        Pinger
	Validator middleware.TokenValidator
	Tools     ToolComposer
	Providers ProviderCatalog
	Store     CredentialStore
	Secrets   SecretSealer
	Tokens    TokenRefresher
	Monitor   RefreshFailureHandler
	Verifier  ConnectionVerifier
	Version   string
}

// NewRouter creates and configures the Gin router
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()

	// Recovery → RequestID → Metrics → Logger → Security
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	router.GET("/health", healthCheckHandler(deps.DB))
	router.GET("/ready", readinessHandler(deps.DB))
	router.GET("/version", versionHandler(deps.Version))

	tools := NewToolHandlers(deps.Tools)
	creds := NewCredentialHandlers(deps.Providers, deps.Store, deps.Secrets, deps.Tokens, deps.Monitor, deps.Verifier)

	org := router.Group("/api/v1/organizations/:orgId")
	org.Use(middleware.ServiceAuthMiddleware(deps.Validator))
	org.Use(middleware.RequireOrganizationAccess("orgId"))
	{
		org.GET("/tools", middleware.RequireScope(auth.ScopeToolsRead), tools.ListToolsHandler())

		read := org.Group("/credentials", middleware.RequireScope(auth.ScopeCredentialsRead))
		read.GET("", creds.ListCredentialsHandler())

		write := org.Group("/credentials", middleware.RequireScope(auth.ScopeCredentialsWrite))
		write.POST("", creds.CreateCredentialHandler())
		write.PATCH("/:id", creds.UpdateCredentialHandler())
		write.DELETE("/:id", creds.DeleteCredentialHandler())
		write.POST("/:id/verify", creds.VerifyCredentialHandler())
		write.POST("/:id/refresh", creds.RefreshCredentialHandler())
	}

	slog.Debug("routes registered", "count", len(router.Routes()))
	return router
}

// healthCheckHandler is the liveness probe.
func healthCheckHandler(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler reports whether the service can take traffic.
func readinessHandler(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		checks := gin.H{}
		if err := db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func versionHandler(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     version,
			"api_version": "v1",
		})
	}
}
