package wire

// SensorType identifies one of the sensor readings the SENSOR channel can
// carry. The upstream protocol defines a larger generated enum; per
// spec.md §9 Open Questions this engine treats it as an open, enumerable
// set and only assigns stable values for the types spec.md actually names.
type SensorType uint8

const (
	SensorDrivingStatus SensorType = 1
	SensorLocation      SensorType = 2
	SensorNight         SensorType = 5
)

func (t SensorType) String() string {
	switch t {
	case SensorDrivingStatus:
		return "DRIVING_STATUS"
	case SensorLocation:
		return "LOCATION"
	case SensorNight:
		return "NIGHT"
	default:
		return "SENSOR_UNKNOWN"
	}
}
