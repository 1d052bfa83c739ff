package models

import (
	"time"

	"github.com/benmeehan/iot-sync/internal/constants"
)

// Device is the projected state of a provisioned field device.
type Device struct {
	DeviceID          string               `json:"device_id"`
	DeviceType        constants.DeviceType `json:"device_type"`
	BlockID           string               `json:"block_id,omitempty"`
	Status            string               `json:"status,omitempty"`        // pump ON/OFF, valve OPEN/CLOSE
	Level             *float64             `json:"current_level,omitempty"` // tank and sump only, 0-100
	MinThreshold      *float64             `json:"min_threshold,omitempty"`
	MaxThreshold      *float64             `json:"max_threshold,omitempty"`
	HardwareConnected bool                 `json:"hardware_connected"`
	UpdatedAt         time.Time            `json:"updated_at,omitempty"`
}
