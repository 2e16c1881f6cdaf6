package tracking

import "time"

// Session is one continuous start-to-stop interval of location collection.
// SessionEnd stays zero while the session is open.
type Session struct {
	ID           string    `json:"id"`
	RiderID      string    `json:"rider_id"`
	SessionStart time.Time `json:"session_start"`
	SessionEnd   time.Time `json:"session_end,omitempty"`
}

// Sample is one reported fix, append-only once written.
type Sample struct {
	ID        int64     `json:"id"`
	RiderID   string    `json:"rider_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	SpeedKmh  float64   `json:"speed_kmh"`
	Heading   float64   `json:"heading"`
	Altitude  float64   `json:"altitude"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

// ActiveRider is the latest position of a rider seen within the activity window.
type ActiveRider struct {
	RiderID   string    `json:"rider_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	SpeedKmh  float64   `json:"speed_kmh"`
	LastSeen  time.Time `json:"last_seen"`
}
