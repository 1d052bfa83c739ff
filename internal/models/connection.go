package models

import (
	"time"

	"github.com/benmeehan/iot-sync/internal/constants"
)

// ConnectionState is the observable state of the broker session.
type ConnectionState struct {
	Phase                   constants.Phase `json:"phase"`
	ReconnectAttempts       int             `json:"reconnect_attempts"`
	LastCredentialRefreshAt time.Time       `json:"last_credential_refresh_at,omitempty"`
	ForcedClose             bool            `json:"forced_close"`
	DisconnectedSince       *time.Time      `json:"disconnected_since,omitempty"`
	Online                  bool            `json:"online"`
	Topics                  []string        `json:"topics"`
}

// PublishOptions controls delivery of an outbound message.
type PublishOptions struct {
	QOS      byte
	Retained bool
}
