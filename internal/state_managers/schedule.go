package state_managers

import (
	"sort"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/benmeehan/iot-sync/internal/constants"
	"github.com/benmeehan/iot-sync/internal/models"
)

// AckOutcome describes what an acknowledgment did to the schedule collection.
type AckOutcome string

const (
	AckIgnored   AckOutcome = "ignored"   // unknown delete target or unusable ack
	AckUnchanged AckOutcome = "unchanged" // duplicate or replayed ack
	AckPending   AckOutcome = "pending"   // recorded, quorum not reached
	AckCompleted AckOutcome = "completed" // both legs acknowledged
	AckRemoved   AckOutcome = "removed"   // delete reached quorum, record removed
)

// AckResult is returned by ApplyAck.
type AckResult struct {
	Outcome  AckOutcome
	Schedule models.Schedule
}

const tombstoneTTL = time.Hour

// ScheduleStateManager reconciles per-leg acknowledgments into schedule
// lifecycle transitions. An operation is durable only when both the pump and
// the valve leg have acknowledged it.
type ScheduleStateManager struct {
	schedules  cmap.ConcurrentMap[string, models.Schedule]
	tombstones map[string]time.Time
	snapshot   ScheduleSnapshotStore
	logger     zerolog.Logger
	now        func() time.Time

	mu sync.Mutex
}

// NewScheduleStateManager creates an empty manager. snapshot may be nil.
func NewScheduleStateManager(snapshot ScheduleSnapshotStore, logger zerolog.Logger) *ScheduleStateManager {
	return &ScheduleStateManager{
		schedules:  cmap.New[models.Schedule](),
		tombstones: make(map[string]time.Time),
		snapshot:   snapshot,
		logger:     logger,
		now:        time.Now,
	}
}

// Restore loads the last saved snapshot, if any.
func (m *ScheduleStateManager) Restore() error {
	if m.snapshot == nil {
		return nil
	}
	states, err := m.snapshot.LoadState()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range states {
		s.ScheduleID = id
		m.schedules.Set(id, normalize(s))
	}
	m.logger.Info().Int("schedules", len(states)).Msg("Restored schedule snapshot")
	return nil
}

// Put records an authoritative schedule from a REST response. Acks collected
// for the same pending operation are kept. A completed record, or one holding
// a different window, starts a new generation with both legs unconfirmed.
func (m *ScheduleStateManager) Put(s models.Schedule) models.Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ScheduleStatus.Operation() == "" {
		s.ScheduleStatus = constants.ScheduleCreating
	}
	op := s.ScheduleStatus.Operation()

	if _, deleted := m.tombstones[s.ScheduleID]; deleted {
		if op == constants.OperationDelete {
			m.logger.Debug().Str("schedule_id", s.ScheduleID).Msg("Delete already completed, ignoring late response")
			return s
		}
		delete(m.tombstones, s.ScheduleID)
	}

	if existing, ok := m.schedules.Get(s.ScheduleID); ok && continuesGeneration(existing, s) {
		s.PumpAck = s.PumpAck || existing.PumpAck
		s.ValveAck = s.ValveAck || existing.ValveAck
	}

	s = normalize(s)
	if op == constants.OperationDelete && s.Acknowledged() {
		m.removeLocked(s.ScheduleID)
		return s
	}
	m.schedules.Set(s.ScheduleID, s)
	m.persistLocked()
	return s
}

// ApplyAck applies one leg acknowledgment. Unknown ids create a stub for create
// and update acks and are ignored for delete acks. Replays are no-ops.
func (m *ScheduleStateManager) ApplyAck(ack models.ScheduleAck) AckResult {
	log := m.logger.With().
		Str("schedule_id", ack.ScheduleID).
		Str("device_type", string(ack.DeviceType)).
		Str("type", string(ack.Kind)).
		Logger()

	if ack.ScheduleID == "" {
		log.Warn().Msg("Schedule ack without schedule id, ignoring")
		return AckResult{Outcome: AckIgnored}
	}
	if !ack.DeviceType.IsLeg() {
		log.Warn().Msg("Schedule ack from a device that is not a pump or valve leg, ignoring")
		return AckResult{Outcome: AckIgnored}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	op := ack.Operation()
	current, exists := m.schedules.Get(ack.ScheduleID)
	if !exists {
		if op == constants.OperationDelete {
			log.Debug().Msg("Delete ack for unknown schedule, ignoring")
			return AckResult{Outcome: AckIgnored}
		}
		current = stubFromAck(ack)
		log.Info().Msg("Ack arrived before schedule was known, created stub")
	}
	before := current

	// A different operation kind or a different window starts a new generation.
	newGeneration := exists && (current.ScheduleStatus.Operation() != op ||
		(op != constants.OperationDelete && windowDiffers(current, ack.StartTime, ack.EndTime)))
	if newGeneration {
		current.PumpAck = false
		current.ValveAck = false
	}

	if op == constants.OperationUpdate || (newGeneration && op == constants.OperationCreate) {
		if ack.StartTime != "" {
			current.StartTime = ack.StartTime
		}
		if ack.EndTime != "" {
			current.EndTime = ack.EndTime
		}
	}

	if ack.Acknowledged() {
		switch ack.DeviceType {
		case constants.DevicePump:
			current.PumpAck = true
		case constants.DeviceValve:
			current.ValveAck = true
		}
	}

	status := ack.ScheduleStatus
	if status.Operation() != op {
		status = op.Pending()
	}
	current.ScheduleStatus = status
	current = normalize(current)

	if op == constants.OperationDelete && current.Acknowledged() {
		m.removeLocked(current.ScheduleID)
		log.Info().Msg("Schedule delete acknowledged by both legs, removed")
		return AckResult{Outcome: AckRemoved, Schedule: current}
	}

	if exists && current == before {
		log.Debug().Msg("Duplicate schedule ack")
		return AckResult{Outcome: outcomeOf(current, true), Schedule: current}
	}

	m.schedules.Set(current.ScheduleID, current)
	m.persistLocked()

	outcome := outcomeOf(current, false)
	log.Info().
		Bool("pump_ack", current.PumpAck).
		Bool("valve_ack", current.ValveAck).
		Str("schedule_status", string(current.ScheduleStatus)).
		Msg("Schedule ack applied")
	return AckResult{Outcome: outcome, Schedule: current}
}

// Get returns the schedule with the given id.
func (m *ScheduleStateManager) Get(id string) (models.Schedule, bool) {
	return m.schedules.Get(id)
}

// List returns all schedules ordered by id.
func (m *ScheduleStateManager) List() []models.Schedule {
	items := m.schedules.Items()
	out := make([]models.Schedule, 0, len(items))
	for _, s := range items {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduleID < out[j].ScheduleID })
	return out
}

// Len returns the number of schedules.
func (m *ScheduleStateManager) Len() int {
	return m.schedules.Count()
}

// Pending returns the number of schedules still waiting on a leg.
func (m *ScheduleStateManager) Pending() int {
	n := 0
	for _, s := range m.schedules.Items() {
		if !s.ScheduleStatus.IsCompleted() {
			n++
		}
	}
	return n
}

func (m *ScheduleStateManager) removeLocked(id string) {
	m.schedules.Remove(id)

	now := m.now()
	for k, at := range m.tombstones {
		if now.Sub(at) > tombstoneTTL {
			delete(m.tombstones, k)
		}
	}
	m.tombstones[id] = now
	m.persistLocked()
}

func (m *ScheduleStateManager) persistLocked() {
	if m.snapshot == nil {
		return
	}
	if err := m.snapshot.SaveState(m.schedules.Items()); err != nil {
		m.logger.Error().Err(err).Msg("Failed to persist schedule snapshot")
	}
}

func stubFromAck(ack models.ScheduleAck) models.Schedule {
	return models.Schedule{
		ScheduleID: ack.ScheduleID,
		OrgID:      ack.OrgID,
		DeviceID:   ack.DeviceID,
		BlockID:    ack.BlockID,
		DeviceType: ack.DeviceType,
		StartTime:  ack.StartTime,
		EndTime:    ack.EndTime,
	}
}

// continuesGeneration reports whether next belongs to the operation round the
// stored record is already collecting acks for.
func continuesGeneration(stored, next models.Schedule) bool {
	op := next.ScheduleStatus.Operation()
	if stored.ScheduleStatus.Operation() != op {
		return false
	}
	if stored.ScheduleStatus.IsCompleted() && !next.ScheduleStatus.IsCompleted() {
		return false
	}
	return op == constants.OperationDelete || !windowDiffers(stored, next.StartTime, next.EndTime)
}

// windowDiffers reports whether a known start or end time conflicts with the
// stored window. Unset values on either side never conflict.
func windowDiffers(stored models.Schedule, start, end string) bool {
	return (start != "" && stored.StartTime != "" && start != stored.StartTime) ||
		(end != "" && stored.EndTime != "" && end != stored.EndTime)
}

// normalize enforces that a completed status implies both acks.
func normalize(s models.Schedule) models.Schedule {
	if s.Acknowledged() {
		s.ScheduleStatus = s.ScheduleStatus.Completed()
	} else {
		s.ScheduleStatus = s.ScheduleStatus.InFlight()
	}
	return s
}

func outcomeOf(s models.Schedule, duplicate bool) AckOutcome {
	switch {
	case duplicate:
		return AckUnchanged
	case s.ScheduleStatus.IsCompleted():
		return AckCompleted
	default:
		return AckPending
	}
}
