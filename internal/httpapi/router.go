// Package httpapi is the admin HTTP front over the Submission API (§4.E):
// it never implements pool logic itself, only translates HTTP requests
// into submission.API calls and streams replies back. Not named in the
// distilled spec (§1 scopes out "the submitter-side reply machinery beyond
// its contract"), but every original Honeydew deployment fronts its pools
// with exactly this kind of surface, so it is carried as a supplemented
// feature.
//
// Grounded on api/internal/delivery/http/router.go's gin.Engine wiring:
// global middleware chain, a rate-limited route group, a plain health
// route, and a WebSocket route living alongside the REST ones.
package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shovelend/pond/internal/audit"
	"github.com/shovelend/pond/internal/httpapi/middleware"
	"github.com/shovelend/pond/internal/submission"
)

// RouterDeps holds everything NewRouter needs to build the admin surface.
type RouterDeps struct {
	API             *submission.API
	Logger          *zap.Logger
	RateLimitPerMin int
	DBPool          *pgxpool.Pool // optional; nil disables the postgres health check
	AMQPURI         string
	Redis           *redis.Client // optional; nil fails the rate limiter open
	Audit           audit.Store   // optional; nil disables GET /pools/:pool/jobs/:id
}

// NewRouter builds the configured gin.Engine.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.BodySizeLimit(1 << 20)) // 1 MB max request body

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		health := NewHealthHandler(deps.Logger, deps.DBPool, deps.AMQPURI, deps.Redis)
		v1.GET("/health", health.Health)

		sub := NewSubmissionHandler(deps.API, deps.Logger, deps.Audit)

		rateLimited := v1.Group("/pools")
		rateLimited.Use(middleware.RateLimiter(deps.Redis, deps.RateLimitPerMin))
		{
			rateLimited.POST("/:pool/jobs", sub.Submit)
			rateLimited.POST("/:pool/suspend", sub.Suspend)
			rateLimited.POST("/:pool/resume", sub.Resume)
		}

		v1.GET("/pools/:pool/status", sub.Status)
		v1.GET("/pools/:pool/jobs/:id", sub.Get)
		v1.GET("/pools/:pool/jobs/:id/stream", sub.Stream)
	}

	return router
}
