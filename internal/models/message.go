package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/benmeehan/iot-sync/internal/constants"
)

// ErrMalformedMessage is returned when an inbound frame cannot be decoded.
var ErrMalformedMessage = errors.New("malformed inbound message")

// Envelope is the wire shape of every inbound broker frame.
type Envelope struct {
	Type constants.MessageType `json:"type"`
	Data json.RawMessage       `json:"data"`
}

// InboundMessage is one decoded inbound event. The concrete types below are the
// only implementations.
type InboundMessage interface {
	MessageType() constants.MessageType
}

// DeviceUpdate carries a partial device state change.
type DeviceUpdate struct {
	DeviceID     string               `json:"device_id"`
	DeviceType   constants.DeviceType `json:"device_type,omitempty"`
	Status       string               `json:"status,omitempty"`
	CurrentLevel *float64             `json:"current_level,omitempty"`
	Timestamp    int64                `json:"timestamp,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ConnectDisconnectUpdate reports the hardware connectivity of a device.
type ConnectDisconnectUpdate struct {
	DeviceID    string `json:"device_id"`
	IsConnected bool   `json:"is_connected"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// BlockModeUpdate switches a block between automatic and manual operation.
type BlockModeUpdate struct {
	BlockID string `json:"block_id"`
	Mode    string `json:"mode"`
}

// ScheduleAck is a per-leg acknowledgment of a schedule operation. Kind tells
// which of the three ack tags it was received under.
type ScheduleAck struct {
	Kind           constants.MessageType    `json:"-"`
	ScheduleID     string                   `json:"schedule_id"`
	OrgID          string                   `json:"org_id,omitempty"`
	DeviceID       string                   `json:"device_id,omitempty"`
	BlockID        string                   `json:"block_id,omitempty"`
	DeviceType     constants.DeviceType     `json:"device_type"`
	StartTime      string                   `json:"start_time,omitempty"`
	EndTime        string                   `json:"end_time,omitempty"`
	Ack            *bool                    `json:"ack,omitempty"`
	ScheduleStatus constants.ScheduleStatus `json:"schedule_status,omitempty"`
}

// Operation returns the schedule operation this ack confirms.
func (a ScheduleAck) Operation() constants.Operation {
	switch a.Kind {
	case constants.MessageScheduleAckUpdate:
		return constants.OperationUpdate
	case constants.MessageScheduleAckDelete:
		return constants.OperationDelete
	default:
		return constants.OperationCreate
	}
}

// Acknowledged reports whether the leg confirmed. A missing ack field counts
// as a confirmation.
func (a ScheduleAck) Acknowledged() bool {
	return a.Ack == nil || *a.Ack
}

// ThresholdChange is a partial threshold update for one device. Nil fields
// leave the stored value unchanged.
type ThresholdChange struct {
	DeviceID     string   `json:"device_id"`
	MinThreshold *float64 `json:"min_threshold,omitempty"`
	MaxThreshold *float64 `json:"max_threshold,omitempty"`
}

// ThresholdUpdate applies threshold changes to the named devices.
type ThresholdUpdate struct {
	Devices []ThresholdChange `json:"devices"`
}

// UnknownMessage is returned for tags this client does not handle.
type UnknownMessage struct {
	Tag constants.MessageType
}

func (DeviceUpdate) MessageType() constants.MessageType { return constants.MessageDeviceUpdate }
func (ConnectDisconnectUpdate) MessageType() constants.MessageType {
	return constants.MessageConnectDisconnectUpdate
}
func (BlockModeUpdate) MessageType() constants.MessageType  { return constants.MessageBlockModeUpdate }
func (a ScheduleAck) MessageType() constants.MessageType    { return a.Kind }
func (ThresholdUpdate) MessageType() constants.MessageType  { return constants.MessageUpdateThreshold }
func (u UnknownMessage) MessageType() constants.MessageType { return u.Tag }

// DecodeMessage parses a raw frame into its typed message.
func DecodeMessage(payload []byte) (InboundMessage, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	switch env.Type {
	case constants.MessageDeviceUpdate:
		var m DeviceUpdate
		if err := decodeData(env, &m); err != nil {
			return nil, err
		}
		m.Raw = env.Data
		return m, nil
	case constants.MessageConnectDisconnectUpdate:
		var m ConnectDisconnectUpdate
		if err := decodeData(env, &m); err != nil {
			return nil, err
		}
		return m, nil
	case constants.MessageBlockModeUpdate:
		var m BlockModeUpdate
		if err := decodeData(env, &m); err != nil {
			return nil, err
		}
		return m, nil
	case constants.MessageScheduleAck, constants.MessageScheduleAckUpdate, constants.MessageScheduleAckDelete:
		var m ScheduleAck
		if err := decodeData(env, &m); err != nil {
			return nil, err
		}
		m.Kind = env.Type
		return m, nil
	case constants.MessageUpdateThreshold:
		return decodeThresholds(env)
	default:
		return UnknownMessage{Tag: env.Type}, nil
	}
}

func decodeData(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s without data", ErrMalformedMessage, env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedMessage, env.Type, err)
	}
	return nil
}

// decodeThresholds accepts either {"devices":[...]} or a single change object.
func decodeThresholds(env Envelope) (InboundMessage, error) {
	var shape struct {
		Devices []ThresholdChange `json:"devices"`
		ThresholdChange
	}
	if err := decodeData(env, &shape); err != nil {
		return nil, err
	}

	update := ThresholdUpdate{Devices: shape.Devices}
	if len(update.Devices) == 0 && shape.DeviceID != "" {
		update.Devices = []ThresholdChange{shape.ThresholdChange}
	}
	return update, nil
}
