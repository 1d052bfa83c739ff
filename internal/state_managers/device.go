package state_managers

import (
	"sort"
	"strings"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/benmeehan/iot-sync/internal/constants"
	"github.com/benmeehan/iot-sync/internal/models"
)

// DeviceStateManager projects partial device updates onto the provisioned
// device collection. It never creates devices.
type DeviceStateManager struct {
	devices cmap.ConcurrentMap[string, models.Device]
	logger  zerolog.Logger
	now     func() time.Time
	mu      sync.Mutex
}

// NewDeviceStateManager creates an empty device collection.
func NewDeviceStateManager(logger zerolog.Logger) *DeviceStateManager {
	return &DeviceStateManager{
		devices: cmap.New[models.Device](),
		logger:  logger,
		now:     time.Now,
	}
}

// Load seeds or replaces provisioned devices and returns how many were kept.
// Entries without an id or with an unknown type are skipped.
func (m *DeviceStateManager) Load(devices []models.Device) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, d := range devices {
		if d.DeviceID == "" {
			continue
		}
		if !d.DeviceType.Valid() {
			m.logger.Warn().Str("device_id", d.DeviceID).Str("device_type", string(d.DeviceType)).Msg("Unknown device type, skipping")
			continue
		}
		m.devices.Set(d.DeviceID, d)
		n++
	}
	return n
}

// Get returns the device with the given id.
func (m *DeviceStateManager) Get(id string) (models.Device, bool) {
	return m.devices.Get(id)
}

// List returns all devices ordered by id.
func (m *DeviceStateManager) List() []models.Device {
	items := m.devices.Items()
	out := make([]models.Device, 0, len(items))
	for _, d := range items {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Len returns the number of devices.
func (m *DeviceStateManager) Len() int {
	return m.devices.Count()
}

// ApplyDeviceUpdate applies a status or level change and reports whether the
// stored device changed.
func (m *DeviceStateManager) ApplyDeviceUpdate(u models.DeviceUpdate) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.logger.With().Str("device_id", u.DeviceID).Str("device_type", string(u.DeviceType)).Logger()

	d, ok := m.devices.Get(u.DeviceID)
	if !ok {
		log.Debug().Msg("Update for unknown device, ignoring")
		return false
	}
	if u.DeviceType != "" && u.DeviceType != d.DeviceType {
		log.Warn().Str("stored_type", string(d.DeviceType)).Msg("Device type mismatch, ignoring update")
		return false
	}

	switch {
	case d.DeviceType.IsLeg():
		status := strings.ToUpper(strings.TrimSpace(u.Status))
		if status == "" || status == d.Status {
			return false
		}
		if !validStatus(d.DeviceType, status) {
			log.Warn().Str("status", u.Status).Msg("Unsupported status for device, ignoring")
			return false
		}
		d.Status = status
	case d.DeviceType.HasLevel():
		if u.CurrentLevel == nil {
			return false
		}
		level := *u.CurrentLevel
		if level < constants.MinLevel || level > constants.MaxLevel {
			log.Warn().Float64("level", level).Msg("Level out of range, ignoring")
			return false
		}
		if d.Level != nil && *d.Level == level {
			return false
		}
		d.Level = &level
	default:
		return false
	}

	d.UpdatedAt = m.now()
	m.devices.Set(d.DeviceID, d)
	return true
}

// ApplyConnectivity records the hardware connectivity flag of a device.
func (m *DeviceStateManager) ApplyConnectivity(u models.ConnectDisconnectUpdate) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices.Get(u.DeviceID)
	if !ok {
		m.logger.Debug().Str("device_id", u.DeviceID).Msg("Connectivity update for unknown device, ignoring")
		return false
	}
	if d.HardwareConnected == u.IsConnected {
		return false
	}
	d.HardwareConnected = u.IsConnected
	d.UpdatedAt = m.now()
	m.devices.Set(d.DeviceID, d)
	return true
}

// ApplyThresholds applies partial threshold changes and returns the number of
// devices updated. Nil values keep the stored threshold.
func (m *DeviceStateManager) ApplyThresholds(u models.ThresholdUpdate) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	updated := 0
	for _, change := range u.Devices {
		d, ok := m.devices.Get(change.DeviceID)
		if !ok {
			m.logger.Debug().Str("device_id", change.DeviceID).Msg("Threshold update for unknown device, ignoring")
			continue
		}
		if change.MinThreshold == nil && change.MaxThreshold == nil {
			continue
		}
		if change.MinThreshold != nil {
			v := *change.MinThreshold
			d.MinThreshold = &v
		}
		if change.MaxThreshold != nil {
			v := *change.MaxThreshold
			d.MaxThreshold = &v
		}
		d.UpdatedAt = m.now()
		m.devices.Set(d.DeviceID, d)
		updated++
	}
	return updated
}

func validStatus(t constants.DeviceType, status string) bool {
	switch t {
	case constants.DevicePump:
		return status == constants.StatusOn || status == constants.StatusOff
	case constants.DeviceValve:
		return status == constants.StatusOpen || status == constants.StatusClose
	}
	return false
}
