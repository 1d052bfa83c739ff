package constants

// MessageType is the `type` tag of an inbound broker envelope.
type MessageType string

const (
	MessageDeviceUpdate            MessageType = "DEVICE_UPDATE"
	MessageConnectDisconnectUpdate MessageType = "CONNECT_DISCONNECT_UPDATE"
	MessageBlockModeUpdate         MessageType = "BLOCK_MODE_UPDATE"
	MessageScheduleAck             MessageType = "SCHEDULE_ACK"
	MessageScheduleAckUpdate       MessageType = "SCHEDULE_ACK_UPDATE"
	MessageScheduleAckDelete       MessageType = "SCHEDULE_ACK_DELETE"
	MessageUpdateThreshold         MessageType = "UPDATE_THRESHOLD"
)

// Block operating modes
const (
	BlockModeAuto   = "AUTO"
	BlockModeManual = "MANUAL"
)
