package models

import (
	"time"

	"github.com/benmeehan/iot-sync/internal/constants"
)

// StatusReport is published periodically by the status service.
type StatusReport struct {
	ClientID          string          `json:"client_id"`
	Timestamp         time.Time       `json:"timestamp"`
	Phase             constants.Phase `json:"phase"`
	ReconnectAttempts int             `json:"reconnect_attempts"`
	PendingSchedules  int             `json:"pending_schedules"`
	Devices           int             `json:"devices"`
	Metrics           map[string]any  `json:"metrics,omitempty"`
}
