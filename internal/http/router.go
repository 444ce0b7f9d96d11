// Package httpapi wires the HTTP transport (Gin) to the storage service,
// middleware and route handlers.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. Session (resolves or issues X-Session-ID)
//  4. RedactingLogger (phones masked)
//  5. Recovery
//  6. Body size limit, gzip
//  7. Metrics
//  8. CORS and security headers
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "github.com/AppIeBanana/ZhaoSheng/docs"
	"github.com/AppIeBanana/ZhaoSheng/internal/config"
	"github.com/AppIeBanana/ZhaoSheng/internal/http/handlers"
	"github.com/AppIeBanana/ZhaoSheng/internal/http/middleware"
)

// maxBodyBytes caps request bodies; a long transcript fits comfortably.
const maxBodyBytes = 1 << 20

// Deps are the services the routes are bound to. Sessions may be nil.
type Deps struct {
	Storage  handlers.StorageService
	Sessions handlers.SessionBinder
}

var (
	corsMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsHeaders = []string{"Origin", "Content-Type", "Accept", middleware.SessionHeader, "X-Request-ID"}
	corsExpose  = []string{"X-Request-ID", middleware.SessionHeader, "Content-Length"}
)

// RegisterRoutes attaches middleware and endpoints to r and mounts the public
// API under cfg.APIBasePath.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Session(middleware.SessionOptions{
		MaxAge: int(cfg.Storage.SessionTTL / time.Second),
		Secure: cfg.Security.EnableHSTS,
	}))
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)

	// Every API response may carry applicant data.
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(deps.Storage, deps.Sessions)

	// Liveness probes hit the root path; the API copy matches what the web
	// client calls.
	r.GET("/health", h.Health)

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.GET("/health", h.Health)

		api.POST("/users/profile", h.SaveProfile)
		api.PUT("/users/profile", h.SaveProfile)
		api.GET("/users/profile", h.GetProfile)
		api.GET("/users/exists", h.ProfileExists)
		api.DELETE("/users/cache", h.ClearCache)

		api.POST("/chats/history", h.SaveTranscript)
		api.GET("/chats/history", h.GetTranscript)

		api.PUT("/session/phone", h.BindPhone)
		api.GET("/session/phone", h.CurrentPhone)
		api.DELETE("/session/phone", h.UnbindPhone)
	}
}

// corsMiddleware allows every origin when none are configured. Credentials
// are only allowed for an explicit allowlist, since the session cookie rides
// on them.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	if len(origins) == 0 {
		return []gin.HandlerFunc{
			// ACAO: * even without an Origin header, for simple health checks.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins:  true,
				AllowMethods:     corsMethods,
				AllowHeaders:     corsHeaders,
				ExposeHeaders:    corsExpose,
				AllowCredentials: false,
				MaxAge:           12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     corsMethods,
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    corsExpose,
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
	}
}

// limitBody caps the request body at maxBytes; reads past it fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
