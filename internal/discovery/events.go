package discovery

// EventType is the closed set of typed events this subsystem emits to the
// broadcast fabric (C9), replacing the source's dynamic string-named
// emitter per the redesign note in spec §9.
type EventType int

const (
	EventCameraDiscovered EventType = iota
	EventCameraConnected
	EventCameraOffline
	EventCameraIPChanged
	EventPrimaryCameraChanged
	EventPrimaryCameraDisconnected
	EventCameraError
)

func (e EventType) String() string {
	switch e {
	case EventCameraDiscovered:
		return "camera_discovered"
	case EventCameraConnected:
		return "camera_connected"
	case EventCameraOffline:
		return "camera_offline"
	case EventCameraIPChanged:
		return "camera_ip_changed"
	case EventPrimaryCameraChanged:
		return "primary_camera_changed"
	case EventPrimaryCameraDisconnected:
		return "primary_camera_disconnected"
	case EventCameraError:
		return "camera_error"
	default:
		return "unknown"
	}
}

// Event carries a snapshot of the affected record alongside the type.
type Event struct {
	Type   EventType
	Record CameraRecord
	// OldIP is set only for EventCameraIPChanged.
	OldIP string
}
