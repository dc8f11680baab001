// Package failuremode implements the pluggable handler invoked when a
// worker crashes while holding a job (§4.F). The Worker Monitor calls
// HandleFailure exactly once per crashed job, but since a monitor restart
// can race a redelivery, implementations must be safe to call more than
// once for the same job — RedisFailureMode makes that idempotent the same
// way the teacher's execution path deduplicates retried deliveries.
package failuremode

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shovelend/pond/internal/domain"
)

// FailureMode reacts to a job whose worker crashed instead of completing
// it. args is the pool's configured `failure_mode` argument (§6).
type FailureMode interface {
	HandleFailure(ctx context.Context, pool domain.PoolID, job *domain.Job, args any) error
}

// LoggingFailureMode just logs the failure. It is the default when a pool
// configures no failure mode (§6: failure_mode defaults to a no-op logger,
// not to silently dropping the job).
type LoggingFailureMode struct {
	Logger *zap.Logger
}

func (l LoggingFailureMode) HandleFailure(ctx context.Context, pool domain.PoolID, job *domain.Job, args any) error {
	l.Logger.Error("job failed: worker crashed",
		zap.String("pool", pool.String()),
		zap.String("job_id", job.ID.String()),
		zap.String("method", job.Task.Method),
	)
	return nil
}

const (
	lockKeyPrefix = "pond:failuremode:"
	lockTTL       = 10 * time.Minute
)

// RedisFailureMode dedupes failure handling per job ID via Redis SETNX
// before delegating to Next, so a monitor respawn that redelivers the same
// crashed job doesn't run failure handling twice. Grounded on
// worker/internal/repository/redis/idempotency.go's AcquireLock.
type RedisFailureMode struct {
	Client *goredis.Client
	Next   FailureMode
}

func (r RedisFailureMode) HandleFailure(ctx context.Context, pool domain.PoolID, job *domain.Job, args any) error {
	key := lockKeyPrefix + job.ID.String()
	acquired, err := r.Client.SetNX(ctx, key, time.Now().Unix(), lockTTL).Result()
	if err != nil {
		return fmt.Errorf("failuremode: redis setnx: %w", err)
	}
	if !acquired {
		return nil // already handled by a previous attempt
	}
	return r.Next.HandleFailure(ctx, pool, job, args)
}
