package constants

// DeviceType is the kind of field device.
type DeviceType string

const (
	DevicePump  DeviceType = "pump"
	DeviceValve DeviceType = "valve"
	DeviceTank  DeviceType = "tank"
	DeviceSump  DeviceType = "sump"
)

// Device status values
const (
	StatusOn    = "ON"
	StatusOff   = "OFF"
	StatusOpen  = "OPEN"
	StatusClose = "CLOSE"
)

const (
	MinLevel = 0
	MaxLevel = 100
)

// IsLeg reports whether t is one of the two actuator roles that acknowledge
// schedule operations.
func (t DeviceType) IsLeg() bool {
	return t == DevicePump || t == DeviceValve
}

// HasLevel reports whether t reports a fill level.
func (t DeviceType) HasLevel() bool {
	return t == DeviceTank || t == DeviceSump
}

// Valid reports whether t is a known device type.
func (t DeviceType) Valid() bool {
	return t.IsLeg() || t.HasLevel()
}
