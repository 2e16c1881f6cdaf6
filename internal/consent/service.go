package consent

import (
	"context"
	"time"

	"backend-ridertrack/internal/db"
)

const defaultUpdateIntervalSec = 60

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

func (s *Service) Get(ctx context.Context, riderID string) (Record, error) {
	row := s.db.QueryRow(ctx, `
		SELECT rider_id, consent_given, consent_date, tracking_enabled,
		       auto_start_on_login, COALESCE(location_update_interval, 60), updated_at
		FROM rider_gps_settings WHERE rider_id=$1
	`, riderID)

	var rec Record
	if err := row.Scan(&rec.RiderID, &rec.ConsentGiven, &rec.ConsentDate, &rec.TrackingEnabled,
		&rec.AutoStartOnLogin, &rec.LocationUpdateInterval, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Grant upserts the consent row after the rider accepts the tracking terms.
// It also switches tracking and auto-start on, matching the consent dialog
// semantics: accepting terms opts the rider fully in.
func (s *Service) Grant(ctx context.Context, riderID string) (Record, error) {
	now := time.Now()
	rec := Record{
		RiderID:                riderID,
		ConsentGiven:           true,
		ConsentDate:            now,
		TrackingEnabled:        true,
		AutoStartOnLogin:       true,
		LocationUpdateInterval: defaultUpdateIntervalSec,
		UpdatedAt:              now,
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO rider_gps_settings
			(rider_id, consent_given, consent_date, tracking_enabled, auto_start_on_login, location_update_interval, updated_at)
		VALUES ($1, TRUE, $2, TRUE, TRUE, $3, $2)
		ON CONFLICT (rider_id) DO UPDATE
		SET consent_given=TRUE, consent_date=EXCLUDED.consent_date,
		    tracking_enabled=TRUE, auto_start_on_login=TRUE, updated_at=EXCLUDED.updated_at
		RETURNING location_update_interval
	`, rec.RiderID, now, defaultUpdateIntervalSec)
	if err := row.Scan(&rec.LocationUpdateInterval); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// SetTrackingEnabled flips the rider's manual tracking switch. Updating a
// rider with no settings row is a no-op, not an error; the consent gate
// rejects such riders later anyway.
func (s *Service) SetTrackingEnabled(ctx context.Context, riderID string, enabled bool) error {
	_, err := s.db.Exec(ctx, `
		UPDATE rider_gps_settings
		SET tracking_enabled=$2, updated_at=$3
		WHERE rider_id=$1
	`, riderID, enabled, time.Now())
	return err
}

// Update applies a partial settings patch in one statement. Nil patch
// fields become SQL NULLs that COALESCE back to the stored value, so two
// concurrent patches touching different fields cannot overwrite each other.
func (s *Service) Update(ctx context.Context, riderID string, patch SettingsPatch) (Record, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE rider_gps_settings
		SET tracking_enabled=COALESCE($2, tracking_enabled),
		    auto_start_on_login=COALESCE($3, auto_start_on_login),
		    location_update_interval=COALESCE($4, location_update_interval),
		    updated_at=$5
		WHERE rider_id=$1
		RETURNING rider_id, consent_given, consent_date, tracking_enabled,
		          auto_start_on_login, COALESCE(location_update_interval, 60), updated_at
	`, riderID, patch.TrackingEnabled, patch.AutoStartOnLogin, patch.LocationUpdateInterval, time.Now())

	var rec Record
	if err := row.Scan(&rec.RiderID, &rec.ConsentGiven, &rec.ConsentDate, &rec.TrackingEnabled,
		&rec.AutoStartOnLogin, &rec.LocationUpdateInterval, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}
