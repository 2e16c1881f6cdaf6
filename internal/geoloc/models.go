package geoloc

import "time"

// Fix is one location reading reported by a rider device. Speed arrives in
// m/s, the unit the device sensors report.
type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	SpeedMps  float64   `json:"speed_mps"`
	Heading   float64   `json:"heading"`
	Altitude  float64   `json:"altitude"`
	Timestamp time.Time `json:"timestamp"`
}

// WatchOptions tune the device-side watch. MaximumAge bounds how stale a
// cached fix may be; HighAccuracy off keeps the watch battery-efficient.
type WatchOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

type watchCommand struct {
	Command      string `json:"command"`
	HighAccuracy bool   `json:"high_accuracy"`
	TimeoutMs    int64  `json:"timeout_ms"`
	MaximumAgeMs int64  `json:"maximum_age_ms"`
}

type permissionStatus struct {
	Location string `json:"location"`
}
