package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/iot-sync/internal/constants"
	"github.com/benmeehan/iot-sync/internal/metrics_collectors"
	"github.com/benmeehan/iot-sync/internal/models"
)

type fakeStatusPublisher struct {
	mu        sync.Mutex
	phase     constants.Phase
	published []models.StatusReport
	topics    []string
	opts      []models.PublishOptions
}

func (f *fakeStatusPublisher) Publish(topic string, payload any, opts models.PublishOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.opts = append(f.opts, opts)
	f.published = append(f.published, payload.(models.StatusReport))
	return nil
}

func (f *fakeStatusPublisher) State() models.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.ConnectionState{Phase: f.phase, ReconnectAttempts: 2}
}

func (f *fakeStatusPublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func newTestStatusService(pub StatusPublisher, interval time.Duration) *StatusService {
	s := NewStatusService("status/client-1", "client-1", 1, interval, time.Second, pub, StatusCounts{
		PendingSchedules: func() int { return 3 },
		Devices:          func() int { return 7 },
	}, zerolog.Nop())
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestStatusService_PublishOnce(t *testing.T) {
	pub := &fakeStatusPublisher{phase: constants.PhaseConnected}
	s := newTestStatusService(pub, time.Minute)
	s.Registry().Register(&metrics_collectors.StateMetricCollector{Key: "blocks", Count: func() int { return 4 }})

	require.NoError(t, s.PublishOnce(context.Background()))

	require.Len(t, pub.published, 1)
	report := pub.published[0]
	assert.Equal(t, "status/client-1", pub.topics[0])
	assert.Equal(t, byte(1), pub.opts[0].QOS)
	assert.Equal(t, "client-1", report.ClientID)
	assert.Equal(t, constants.PhaseConnected, report.Phase)
	assert.Equal(t, 2, report.ReconnectAttempts)
	assert.Equal(t, 3, report.PendingSchedules)
	assert.Equal(t, 7, report.Devices)
	assert.Equal(t, 4, report.Metrics["blocks"])
	assert.Contains(t, report.Metrics, "runtime")
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), report.Timestamp)
}

func TestStatusService_SkipsWhileDisconnected(t *testing.T) {
	pub := &fakeStatusPublisher{phase: constants.PhaseDisconnected}
	s := newTestStatusService(pub, time.Minute)

	assert.ErrorIs(t, s.PublishOnce(context.Background()), ErrNotConnected)
	assert.Equal(t, 0, pub.count())
}

func TestStatusService_StartStop(t *testing.T) {
	pub := &fakeStatusPublisher{phase: constants.PhaseConnected}
	s := newTestStatusService(pub, 20*time.Millisecond)

	require.NoError(t, s.Start())
	assert.Error(t, s.Start())

	assert.Eventually(t, func() bool { return pub.count() >= 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.Error(t, s.Stop())

	n := pub.count()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, n, pub.count())
}
