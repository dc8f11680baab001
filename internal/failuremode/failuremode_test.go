package failuremode_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shovelend/pond/internal/domain"
	"github.com/shovelend/pond/internal/failuremode"
)

func TestLoggingFailureModeNeverErrors(t *testing.T) {
	fm := failuremode.LoggingFailureMode{Logger: zap.NewNop()}
	job, err := domain.NewJob(domain.From{}, domain.Method("do_thing"))
	require.NoError(t, err)

	require.NoError(t, fm.HandleFailure(context.Background(), domain.Local("p"), job, nil))
}

var _ failuremode.FailureMode = failuremode.LoggingFailureMode{}
var _ failuremode.FailureMode = failuremode.RedisFailureMode{}
