package workers

import (
	"context"
	"log/slog"
	"testing"
	"time"
	"whiteboard-lab/mocks"
	"whiteboard-lab/observability"

	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestHeartbeatWorker_PublishesPopulation(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	registry := mocks.NewMockIRegistry(ctrl)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	// Given a registry with two participants and three addresses
	registry.EXPECT().Count().Return(2).MinTimes(1)
	registry.EXPECT().AddressCount().Return(3).MinTimes(1)

	worker := NewHeartbeatWorker(log, registry, metrics, 10*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// When the worker beats until the context expires
	req.NoError(worker.Run(ctx))

	// Then the gauges reflect the registry
	req.Equal(float64(2), testutil.ToFloat64(metrics.Participants))
	req.Equal(float64(3), testutil.ToFloat64(metrics.DatagramAddresses))
	req.Positive(testutil.ToFloat64(metrics.ProcessRSS))
}
