package tracking

import (
	"context"
	"encoding/json"
	"time"

	"backend-ridertrack/internal/db"
	"backend-ridertrack/internal/stream"

	"github.com/google/uuid"
)

const sampleStatusActive = "active"

// activeWindow bounds how old a rider's newest sample may be before the
// rider drops out of the active set.
const activeWindow = 5 * time.Minute

type Service struct {
	db  db.Querier
	hub *stream.Hub
}

func NewService(db db.Querier, hub *stream.Hub) *Service {
	return &Service{db: db, hub: hub}
}

// OpenSession creates a fresh session row. Any session left open for the
// rider (a process that died before closing it) is closed first, keeping at
// most one open session per rider.
func (s *Service) OpenSession(ctx context.Context, riderID string, start time.Time) (string, error) {
	if start.IsZero() {
		start = time.Now()
	}

	_, err := s.db.Exec(ctx, `
		UPDATE rider_tracking_sessions
		SET session_end=$2
		WHERE rider_id=$1 AND session_end IS NULL
	`, riderID, start)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	row := s.db.QueryRow(ctx, `
		INSERT INTO rider_tracking_sessions (id, rider_id, session_start)
		VALUES ($1,$2,$3)
		RETURNING session_start
	`, id, riderID, start)
	if err := row.Scan(&start); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Service) CloseSession(ctx context.Context, sessionID string, end time.Time) error {
	if end.IsZero() {
		end = time.Now()
	}
	_, err := s.db.Exec(ctx, `
		UPDATE rider_tracking_sessions
		SET session_end=$2
		WHERE id=$1 AND session_end IS NULL
	`, sessionID, end)
	return err
}

func (s *Service) AddSample(ctx context.Context, input Sample) (Sample, error) {
	if input.Timestamp.IsZero() {
		input.Timestamp = time.Now()
	}
	if input.Status == "" {
		input.Status = sampleStatusActive
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO rider_locations (rider_id, latitude, longitude, accuracy, speed, heading, altitude, timestamp, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id
	`, input.RiderID, input.Latitude, input.Longitude, input.Accuracy, input.SpeedKmh, input.Heading, input.Altitude, input.Timestamp, input.Status)
	if err := row.Scan(&input.ID); err != nil {
		return Sample{}, err
	}

	if s.hub != nil {
		payload, _ := json.Marshal(input)
		s.hub.Broadcast(input.RiderID, payload)
	}

	return input, nil
}

func (s *Service) LatestLocation(ctx context.Context, riderID string) (Sample, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, rider_id, latitude, longitude, COALESCE(accuracy,0), COALESCE(speed,0),
		       COALESCE(heading,0), COALESCE(altitude,0), timestamp, status
		FROM rider_locations
		WHERE rider_id=$1
		ORDER BY timestamp DESC
		LIMIT 1
	`, riderID)

	var sample Sample
	if err := row.Scan(&sample.ID, &sample.RiderID, &sample.Latitude, &sample.Longitude,
		&sample.Accuracy, &sample.SpeedKmh, &sample.Heading, &sample.Altitude, &sample.Timestamp, &sample.Status); err != nil {
		return Sample{}, err
	}
	return sample, nil
}

func (s *Service) ActiveRiders(ctx context.Context) ([]ActiveRider, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT ON (rider_id) rider_id, latitude, longitude, COALESCE(speed,0), timestamp
		FROM rider_locations
		WHERE timestamp > $1
		ORDER BY rider_id, timestamp DESC
	`, time.Now().Add(-activeWindow))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var riders []ActiveRider
	for rows.Next() {
		var r ActiveRider
		if err := rows.Scan(&r.RiderID, &r.Latitude, &r.Longitude, &r.SpeedKmh, &r.LastSeen); err != nil {
			return nil, err
		}
		riders = append(riders, r)
	}
	return riders, nil
}

func (s *Service) Sessions(ctx context.Context, riderID string) ([]Session, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, rider_id, session_start, session_end
		FROM rider_tracking_sessions
		WHERE rider_id=$1
		ORDER BY session_start DESC
	`, riderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var end *time.Time
		if err := rows.Scan(&sess.ID, &sess.RiderID, &sess.SessionStart, &end); err != nil {
			return nil, err
		}
		if end != nil {
			sess.SessionEnd = *end
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}
