package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/iot-sync/internal/constants"
	"github.com/benmeehan/iot-sync/internal/metrics_collectors"
	"github.com/benmeehan/iot-sync/internal/models"
	"github.com/benmeehan/iot-sync/internal/utils"
)

// StatusPublisher is the part of the connection manager the status service uses.
type StatusPublisher interface {
	Publish(topic string, payload any, opts models.PublishOptions) error
	State() models.ConnectionState
}

// StatusCounts reports sizes of the projected state.
type StatusCounts struct {
	PendingSchedules func() int
	Devices          func() int
}

// StatusService periodically publishes a StatusReport.
type StatusService struct {
	pubTopic string
	clientID string
	qos      byte
	interval time.Duration
	timeout  time.Duration
	conn     StatusPublisher
	counts   StatusCounts
	registry *metrics_collectors.MetricsRegistry
	logger   zerolog.Logger
	now      func() time.Time

	workerPool *utils.WorkerPool

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStatusService initializes a StatusService with the default collectors.
func NewStatusService(
	pubTopic, clientID string,
	qos byte,
	interval, timeout time.Duration,
	conn StatusPublisher,
	counts StatusCounts,
	logger zerolog.Logger,
) *StatusService {
	if interval <= 0 {
		interval = constants.DefaultStatusInterval
	}
	if timeout <= 0 {
		timeout = constants.DefaultStatusCollectTimeout
	}
	s := &StatusService{
		pubTopic: pubTopic,
		clientID: clientID,
		qos:      qos,
		interval: interval,
		timeout:  timeout,
		conn:     conn,
		counts:   counts,
		registry: metrics_collectors.NewMetricsRegistry(),
		logger:   logger,
		now:      time.Now,
	}
	s.registry.Register(&metrics_collectors.RuntimeMetricCollector{Logger: logger})
	s.registry.Register(&metrics_collectors.HostMemoryMetricCollector{Logger: logger})
	s.registry.Register(metrics_collectors.NewProcessMetricCollector(logger))
	return s
}

// Registry exposes the collectors so callers can add their own.
func (s *StatusService) Registry() *metrics_collectors.MetricsRegistry {
	return s.registry
}

// Start launches the reporting loop.
func (s *StatusService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		s.logger.Warn().Msg("StatusService is already running")
		return errors.New("status service is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.workerPool = utils.NewWorkerPool(len(s.registry.Collectors()))
	s.wg.Add(1)
	go s.run(s.ctx)

	s.logger.Info().Str("topic", s.pubTopic).Dur("interval", s.interval).Msg("StatusService started")
	return nil
}

// Stop ends the reporting loop.
func (s *StatusService) Stop() error {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		s.logger.Warn().Msg("StatusService is not running")
		return errors.New("status service is not running")
	}
	cancel, pool := s.cancel, s.workerPool
	s.ctx, s.cancel, s.workerPool = nil, nil, nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	pool.Shutdown()
	s.logger.Info().Msg("StatusService stopped")
	return nil
}

func (s *StatusService) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.PublishOnce(ctx); err != nil && !errors.Is(err, ErrNotConnected) {
				s.logger.Error().Err(err).Msg("Failed to publish status report")
			}
		case <-ctx.Done():
			return
		}
	}
}

// PublishOnce builds and publishes a single report. It returns
// ErrNotConnected without collecting anything while the session is down.
func (s *StatusService) PublishOnce(ctx context.Context) error {
	state := s.conn.State()
	if state.Phase != constants.PhaseConnected {
		s.logger.Debug().Str("phase", string(state.Phase)).Msg("Skipping status report while disconnected")
		return ErrNotConnected
	}

	report := s.Report(ctx, state)
	return s.conn.Publish(s.pubTopic, report, models.PublishOptions{QOS: s.qos})
}

// Report assembles a StatusReport from the connection state and collectors.
func (s *StatusService) Report(ctx context.Context, state models.ConnectionState) models.StatusReport {
	report := models.StatusReport{
		ClientID:          s.clientID,
		Timestamp:         s.now().UTC(),
		Phase:             state.Phase,
		ReconnectAttempts: state.ReconnectAttempts,
		Metrics:           s.collect(ctx),
	}
	if s.counts.PendingSchedules != nil {
		report.PendingSchedules = s.counts.PendingSchedules()
	}
	if s.counts.Devices != nil {
		report.Devices = s.counts.Devices()
	}
	return report
}

func (s *StatusService) collect(ctx context.Context) map[string]any {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.mu.Lock()
	pool := s.workerPool
	s.mu.Unlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		metrics = make(map[string]any)
	)
	for _, collector := range s.registry.Collectors() {
		collector := collector
		task := func() {
			defer wg.Done()
			value := collector.Collect(ctx)
			if value == nil {
				return
			}
			mu.Lock()
			metrics[collector.Name()] = value
			mu.Unlock()
		}
		wg.Add(1)
		if pool == nil || pool.Submit(task) != nil {
			task()
		}
	}
	wg.Wait()
	return metrics
}
