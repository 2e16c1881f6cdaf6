package tracker

import (
	"context"
	"log"
	"sync"
	"time"

	"backend-ridertrack/internal/consent"
	"backend-ridertrack/internal/geoloc"
	"backend-ridertrack/internal/tracking"
)

// State keys mirrored into the durable store so a killed-and-relaunched
// process can tell whether tracking should be running without consulting
// the remote tables.
const (
	stateKeyActive  = "gps_tracking_active"
	stateKeyWatch   = "gps_watch_id"
	stateKeySession = "gps_session_id"
)

const (
	defaultIntervalSec = 60
	watchFixTimeout    = 10 * time.Second
)

type ConsentStore interface {
	Get(ctx context.Context, riderID string) (consent.Record, error)
	Grant(ctx context.Context, riderID string) (consent.Record, error)
	SetTrackingEnabled(ctx context.Context, riderID string, enabled bool) error
}

type SessionStore interface {
	OpenSession(ctx context.Context, riderID string, start time.Time) (string, error)
	CloseSession(ctx context.Context, sessionID string, end time.Time) error
}

type SampleStore interface {
	AddSample(ctx context.Context, sample tracking.Sample) (tracking.Sample, error)
}

type PermissionGate interface {
	Check(ctx context.Context, riderID string) (bool, error)
	Request(ctx context.Context, riderID string) (bool, error)
}

type PositionWatcher interface {
	Watch(riderID string, opts geoloc.WatchOptions, onFix func(geoloc.Fix), onErr func(error)) (string, error)
	Clear(watchID string) error
}

type StateStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

type Status struct {
	IsTracking bool   `json:"is_tracking"`
	WatchID    string `json:"watch_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

// Tracker owns the single tracking session of this process. The in-memory
// fields are authoritative while the process runs; the mirrored state keys
// are authoritative only across restarts; the session rows are authoritative
// only for historical reporting. The duplication is deliberate.
//
// Every public operation reports success as a boolean (or returns nothing)
// rather than an error, so UI-style callers can fire and forget.
type Tracker struct {
	consent     ConsentStore
	sessions    SessionStore
	samples     SampleStore
	permissions PermissionGate
	watcher     PositionWatcher
	state       StateStore

	// mu guards the in-memory state and is only held for quick mutations.
	// The starting flag keeps a second Start out while the guards run
	// without the lock, so Stop and Status never wait on a permission
	// prompt the rider has yet to answer.
	mu         sync.Mutex
	starting   bool
	isTracking bool
	watchID    string
	sessionID  string
}

func New(consentStore ConsentStore, sessions SessionStore, samples SampleStore,
	permissions PermissionGate, watcher PositionWatcher, state StateStore) *Tracker {
	return &Tracker{
		consent:     consentStore,
		sessions:    sessions,
		samples:     samples,
		permissions: permissions,
		watcher:     watcher,
		state:       state,
	}
}

// Start begins location collection for the rider. Calling it while already
// tracking is a successful no-op; a second call while a start is still
// running its guards fails rather than stacking a second prompt. It fails
// (false) when the rider never consented, the device denies permission, or
// the manual tracking switch is off; a failed session-row insert is NOT
// fatal, collection proceeds without session linkage.
func (t *Tracker) Start(ctx context.Context, riderID string) bool {
	t.mu.Lock()
	if t.isTracking {
		t.mu.Unlock()
		return true
	}
	if t.starting {
		t.mu.Unlock()
		log.Printf("gps tracking start already in progress for rider %s", riderID)
		return false
	}
	t.starting = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.starting = false
		t.mu.Unlock()
	}()

	// guards run without the lock; the permission prompt can wait on the
	// rider for minutes and must not block Stop or Status
	rec, err := t.consent.Get(ctx, riderID)
	if err != nil || !rec.ConsentGiven {
		log.Printf("no gps consent for rider %s", riderID)
		return false
	}

	granted, err := t.permissions.Check(ctx, riderID)
	if err != nil {
		log.Printf("permission check failed: %v", err)
	}
	if !granted {
		granted, err = t.permissions.Request(ctx, riderID)
		if err != nil {
			log.Printf("permission request failed: %v", err)
		}
		if !granted {
			log.Printf("location permission not granted for rider %s", riderID)
			return false
		}
	}

	if !rec.TrackingEnabled {
		log.Printf("tracking disabled in settings for rider %s", riderID)
		return false
	}

	interval := rec.LocationUpdateInterval
	if interval <= 0 {
		interval = defaultIntervalSec
	}

	sessionID, err := t.sessions.OpenSession(ctx, riderID, time.Now())
	if err != nil {
		// session linkage is best-effort; samples still flow without it
		log.Printf("open tracking session failed: %v", err)
		sessionID = ""
	}

	opts := geoloc.WatchOptions{
		HighAccuracy: false,
		Timeout:      watchFixTimeout,
		MaximumAge:   time.Duration(interval) * time.Second,
	}
	watchID, err := t.watcher.Watch(riderID, opts, t.handleFix(riderID), func(watchErr error) {
		// transient fix errors never tear the session down
		log.Printf("geolocation error: %v", watchErr)
	})
	if err != nil {
		log.Printf("watch registration failed for rider %s: %v", riderID, err)
		if sessionID != "" {
			if cerr := t.sessions.CloseSession(ctx, sessionID, time.Now()); cerr != nil {
				log.Printf("close tracking session failed: %v", cerr)
			}
		}
		return false
	}

	t.mu.Lock()
	t.isTracking = true
	t.watchID = watchID
	t.sessionID = sessionID
	t.mirrorState(ctx)
	t.mu.Unlock()

	log.Printf("gps tracking started for rider %s (watch=%s session=%s)", riderID, watchID, sessionID)
	return true
}

// handleFix runs on the watcher's delivery goroutine. Each fix is written
// independently; a failed write drops that one sample and the next fix tries
// again.
func (t *Tracker) handleFix(riderID string) func(geoloc.Fix) {
	return func(fix geoloc.Fix) {
		sample := tracking.Sample{
			RiderID:   riderID,
			Latitude:  fix.Latitude,
			Longitude: fix.Longitude,
			Accuracy:  fix.Accuracy,
			SpeedKmh:  fix.SpeedMps * 3.6,
			Heading:   fix.Heading,
			Altitude:  fix.Altitude,
			Timestamp: fix.Timestamp,
			Status:    "active",
		}
		if _, err := t.samples.AddSample(context.Background(), sample); err != nil {
			log.Printf("location write failed for rider %s: %v", riderID, err)
		}
	}
}

// Stop tears tracking down unconditionally: it checks neither consent nor
// permission, only local state, and always leaves the tracker stopped. It
// never reports failure; remote close errors are logged and local state is
// cleared regardless.
func (t *Tracker) Stop(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.watchID != "" {
		if err := t.watcher.Clear(t.watchID); err != nil {
			log.Printf("clear watch failed: %v", err)
		}
		t.watchID = ""
	}

	if t.sessionID != "" {
		if err := t.sessions.CloseSession(ctx, t.sessionID, time.Now()); err != nil {
			log.Printf("close tracking session failed: %v", err)
		}
		t.sessionID = ""
	}

	t.isTracking = false

	for _, key := range []string{stateKeyActive, stateKeyWatch, stateKeySession} {
		if err := t.state.Remove(ctx, key); err != nil {
			log.Printf("clear tracking state failed: %v", err)
		}
	}
}

// Toggle persists the manual switch first; the watch only starts or stops
// when that write succeeds, so the stored switch and the actual watch state
// cannot diverge.
func (t *Tracker) Toggle(ctx context.Context, riderID string, enable bool) bool {
	if err := t.consent.SetTrackingEnabled(ctx, riderID, enable); err != nil {
		log.Printf("persist tracking switch failed for rider %s: %v", riderID, err)
		return false
	}

	if enable {
		return t.Start(ctx, riderID)
	}
	t.Stop(ctx)
	return true
}

// Resume restarts tracking after a process relaunch if the durable flag says
// a session was active. It re-runs every Start guard and always opens a
// fresh session; it never revives the previous session id.
func (t *Tracker) Resume(ctx context.Context, riderID string) {
	value, ok, err := t.state.Get(ctx, stateKeyActive)
	if err != nil {
		log.Printf("read tracking state failed: %v", err)
		return
	}
	if !ok || value != "true" {
		return
	}

	log.Printf("resuming gps tracking for rider %s", riderID)
	t.Start(ctx, riderID)
}

// Status is a pure in-memory read; it can be stale after a crash until
// Resume has run.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		IsTracking: t.isTracking,
		WatchID:    t.watchID,
		SessionID:  t.sessionID,
	}
}

// HasConsent is fail-closed: a read error or missing record reads as no
// consent.
func (t *Tracker) HasConsent(ctx context.Context, riderID string) bool {
	rec, err := t.consent.Get(ctx, riderID)
	if err != nil {
		return false
	}
	return rec.ConsentGiven
}

// GrantConsent upserts the consent record after the rider accepts the terms.
// Success here does not mean tracking is running; callers still go through
// Start.
func (t *Tracker) GrantConsent(ctx context.Context, riderID string) bool {
	if _, err := t.consent.Grant(ctx, riderID); err != nil {
		log.Printf("save gps consent failed for rider %s: %v", riderID, err)
		return false
	}
	return true
}

func (t *Tracker) mirrorState(ctx context.Context) {
	if err := t.state.Set(ctx, stateKeyActive, "true"); err != nil {
		log.Printf("persist tracking state failed: %v", err)
	}
	if err := t.state.Set(ctx, stateKeyWatch, t.watchID); err != nil {
		log.Printf("persist watch id failed: %v", err)
	}
	if t.sessionID != "" {
		if err := t.state.Set(ctx, stateKeySession, t.sessionID); err != nil {
			log.Printf("persist session id failed: %v", err)
		}
	}
}
