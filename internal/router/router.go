package router

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/iot-sync/internal/metrics"
	"github.com/benmeehan/iot-sync/internal/models"
	"github.com/benmeehan/iot-sync/internal/state_managers"
	"github.com/benmeehan/iot-sync/pkg/logstore"
)

// Router decodes inbound broker frames and dispatches each one to exactly one
// handler. Dispatch is serialized.
type Router struct {
	Logger zerolog.Logger

	devices   *state_managers.DeviceStateManager
	schedules *state_managers.ScheduleStateManager
	blocks    *state_managers.BlockModeStateManager
	logStore  logstore.Store
	metrics   *metrics.Metrics
	now       func() time.Time

	mu sync.Mutex
}

// NewRouter wires the router to its state managers. logStore and m may be nil.
func NewRouter(devices *state_managers.DeviceStateManager, schedules *state_managers.ScheduleStateManager,
	blocks *state_managers.BlockModeStateManager, logStore logstore.Store, m *metrics.Metrics, logger zerolog.Logger) *Router {

	return &Router{
		Logger:    logger,
		devices:   devices,
		schedules: schedules,
		blocks:    blocks,
		logStore:  logStore,
		metrics:   m,
		now:       time.Now,
	}
}

// HandleMessage is the broker message callback. Failures are logged only.
func (r *Router) HandleMessage(topic string, payload []byte) {
	if err := r.Route(context.Background(), payload); err != nil {
		r.Logger.Warn().Err(err).Str("topic", topic).Int("bytes", len(payload)).Msg("Dropped inbound message")
	}
}

// Route decodes payload and applies it. Malformed frames return an error
// wrapping models.ErrMalformedMessage and change no state. Projection is
// serialized; the device log append runs after the dispatch lock is released.
func (r *Router) Route(ctx context.Context, payload []byte) error {
	msg, err := models.DecodeMessage(payload)
	if err != nil {
		r.metrics.MessageDropped("malformed")
		return err
	}

	entry, known := r.dispatch(msg)
	if !known {
		r.metrics.MessageDropped("unknown_type")
		return nil
	}
	if entry != nil {
		r.appendLog(ctx, *entry)
	}

	r.metrics.MessageRouted(string(msg.MessageType()))
	return nil
}

func (r *Router) dispatch(msg models.InboundMessage) (*logstore.Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch m := msg.(type) {
	case models.DeviceUpdate:
		return r.handleDeviceUpdate(m), true
	case models.ConnectDisconnectUpdate:
		r.devices.ApplyConnectivity(m)
	case models.BlockModeUpdate:
		r.blocks.Apply(m)
	case models.ScheduleAck:
		res := r.schedules.ApplyAck(m)
		r.metrics.ScheduleAck(string(res.Outcome))
		r.metrics.SetPendingSchedules(r.schedules.Pending())
	case models.ThresholdUpdate:
		n := r.devices.ApplyThresholds(m)
		r.Logger.Debug().Int("devices", n).Msg("Thresholds applied")
	case models.UnknownMessage:
		r.Logger.Debug().Str("type", string(m.Tag)).Msg("Ignoring unknown message type")
		return nil, false
	}
	return nil, true
}

// handleDeviceUpdate projects u and returns the log entry to record for it.
func (r *Router) handleDeviceUpdate(u models.DeviceUpdate) *logstore.Entry {
	if u.DeviceID == "" {
		r.Logger.Warn().Msg("Device update without device id, ignoring")
		return nil
	}
	r.devices.ApplyDeviceUpdate(u)

	if r.logStore == nil {
		return nil
	}
	ts := u.Timestamp
	if ts == 0 {
		ts = r.now().UnixMilli()
	}
	return &logstore.Entry{
		DeviceID:   u.DeviceID,
		DeviceType: string(u.DeviceType),
		Timestamp:  ts,
		Status:     u.Status,
		Level:      u.CurrentLevel,
		Raw:        string(u.Raw),
	}
}

func (r *Router) appendLog(ctx context.Context, entry logstore.Entry) {
	if err := r.logStore.Append(ctx, entry); err != nil {
		level := r.Logger.Error()
		if errors.Is(err, logstore.ErrStoreClosed) {
			level = r.Logger.Debug()
		}
		level.Err(err).Str("device_id", entry.DeviceID).Msg("Failed to append device log entry")
		r.metrics.LogStoreError()
	}
}
