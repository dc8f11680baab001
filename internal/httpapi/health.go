package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// HealthHandler reports the liveness of this process's external
// dependencies. Adapted from
// api/internal/delivery/http/health_handler.go; the Postgres check is
// skipped entirely when dbPool is nil (audit storage is optional).
type HealthHandler struct {
	logger  *zap.Logger
	dbPool  *pgxpool.Pool
	amqpURI string
	rdb     *redis.Client
}

// NewHealthHandler builds a HealthHandler.
func NewHealthHandler(logger *zap.Logger, dbPool *pgxpool.Pool, amqpURI string, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{logger: logger, dbPool: dbPool, amqpURI: amqpURI, rdb: rdb}
}

// Health handles GET /api/v1/health.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	pgStatus := "disabled"
	if h.dbPool != nil {
		pgStatus = "ok"
		if err := h.dbPool.Ping(ctx); err != nil {
			pgStatus = "error: " + err.Error()
			h.logger.Warn("postgres health check failed", zap.Error(err))
		}
	}

	amqpStatus := "ok"
	conn, err := amqp.Dial(h.amqpURI)
	if err != nil {
		amqpStatus = "error: " + err.Error()
		h.logger.Warn("amqp health check failed", zap.Error(err))
	} else {
		conn.Close()
	}

	redisStatus := "ok"
	if h.rdb == nil {
		redisStatus = "disabled"
	} else if err := h.rdb.Ping(ctx).Err(); err != nil {
		redisStatus = "error: " + err.Error()
		h.logger.Warn("redis health check failed", zap.Error(err))
	}

	degraded := func(s string) bool { return s != "ok" && s != "disabled" }
	status := "ok"
	code := http.StatusOK
	if degraded(pgStatus) || degraded(amqpStatus) || degraded(redisStatus) {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status": status,
		"services": gin.H{
			"postgres": pgStatus,
			"amqp":     amqpStatus,
			"redis":    redisStatus,
		},
	})
}
