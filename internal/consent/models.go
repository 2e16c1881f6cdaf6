package consent

import "time"

// Record mirrors one row of rider_gps_settings. A row is created the first
// time a rider accepts the tracking terms and is never hard-deleted here.
type Record struct {
	RiderID                string    `json:"rider_id"`
	ConsentGiven           bool      `json:"consent_given"`
	ConsentDate            time.Time `json:"consent_date"`
	TrackingEnabled        bool      `json:"tracking_enabled"`
	AutoStartOnLogin       bool      `json:"auto_start_on_login"`
	LocationUpdateInterval int       `json:"location_update_interval"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// SettingsPatch is a partial settings update; nil fields are left untouched.
type SettingsPatch struct {
	TrackingEnabled        *bool `json:"tracking_enabled"`
	AutoStartOnLogin       *bool `json:"auto_start_on_login"`
	LocationUpdateInterval *int  `json:"location_update_interval"`
}
