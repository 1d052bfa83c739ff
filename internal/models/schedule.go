package models

import "github.com/benmeehan/iot-sync/internal/constants"

// Schedule is a time-windowed actuator schedule whose operations complete only
// after both the pump and the valve leg acknowledge them.
type Schedule struct {
	ScheduleID     string                   `json:"schedule_id"`
	OrgID          string                   `json:"org_id,omitempty"`
	DeviceID       string                   `json:"device_id,omitempty"`
	BlockID        string                   `json:"block_id,omitempty"`
	DeviceType     constants.DeviceType     `json:"device_type,omitempty"`
	StartTime      string                   `json:"start_time,omitempty"`
	EndTime        string                   `json:"end_time,omitempty"`
	PumpAck        bool                     `json:"pump_ack"`
	ValveAck       bool                     `json:"valve_ack"`
	ScheduleStatus constants.ScheduleStatus `json:"schedule_status"`
}

// Acknowledged reports whether both legs have acknowledged the current operation.
func (s Schedule) Acknowledged() bool {
	return s.PumpAck && s.ValveAck
}
