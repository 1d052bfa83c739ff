package models

import (
	"testing"

	"github.com/benmeehan/iot-sync/internal/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage_ScheduleAckKinds(t *testing.T) {
	cases := map[string]constants.Operation{
		"SCHEDULE_ACK":        constants.OperationCreate,
		"SCHEDULE_ACK_UPDATE": constants.OperationUpdate,
		"SCHEDULE_ACK_DELETE": constants.OperationDelete,
	}
	for tag, op := range cases {
		t.Run(tag, func(t *testing.T) {
			msg, err := DecodeMessage([]byte(`{"type":"` + tag + `","data":{"schedule_id":"S1","device_type":"pump","ack":true,"schedule_status":"CREATING"}}`))
			require.NoError(t, err)

			ack, ok := msg.(ScheduleAck)
			require.True(t, ok)
			assert.Equal(t, constants.MessageType(tag), ack.MessageType())
			assert.Equal(t, op, ack.Operation())
			assert.Equal(t, "S1", ack.ScheduleID)
			assert.Equal(t, constants.DevicePump, ack.DeviceType)
			assert.True(t, ack.Acknowledged())
		})
	}
}

func TestDecodeMessage_DeviceUpdateKeepsRaw(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"type":"DEVICE_UPDATE","data":{"device_id":"t1","device_type":"tank","current_level":42}}`))
	require.NoError(t, err)

	update, ok := msg.(DeviceUpdate)
	require.True(t, ok)
	require.NotNil(t, update.CurrentLevel)
	assert.Equal(t, 42.0, *update.CurrentLevel)
	assert.JSONEq(t, `{"device_id":"t1","device_type":"tank","current_level":42}`, string(update.Raw))
}

func TestDecodeMessage_ThresholdShapes(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"type":"UPDATE_THRESHOLD","data":{"devices":[{"device_id":"t1","max_threshold":90},{"device_id":"t2","min_threshold":null}]}}`))
	require.NoError(t, err)
	update := msg.(ThresholdUpdate)
	require.Len(t, update.Devices, 2)
	assert.Nil(t, update.Devices[0].MinThreshold)
	assert.Equal(t, 90.0, *update.Devices[0].MaxThreshold)
	assert.Nil(t, update.Devices[1].MinThreshold)

	msg, err = DecodeMessage([]byte(`{"type":"UPDATE_THRESHOLD","data":{"device_id":"t3","min_threshold":10}}`))
	require.NoError(t, err)
	update = msg.(ThresholdUpdate)
	require.Len(t, update.Devices, 1)
	assert.Equal(t, "t3", update.Devices[0].DeviceID)
	assert.Equal(t, 10.0, *update.Devices[0].MinThreshold)
}

func TestDecodeMessage_UnknownTag(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"type":"FIRMWARE_PROGRESS","data":{"percent":10}}`))
	require.NoError(t, err)
	assert.Equal(t, UnknownMessage{Tag: "FIRMWARE_PROGRESS"}, msg)
}

func TestDecodeMessage_Malformed(t *testing.T) {
	for name, payload := range map[string]string{
		"not json":     `{"type":`,
		"missing type": `{"data":{}}`,
		"missing data": `{"type":"DEVICE_UPDATE"}`,
		"wrong shape":  `{"type":"BLOCK_MODE_UPDATE","data":[1,2]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeMessage([]byte(payload))
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestScheduleAck_NegativeAck(t *testing.T) {
	no := false
	assert.False(t, ScheduleAck{Ack: &no}.Acknowledged())
}
