package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"backend-ridertrack/internal/consent"
	"backend-ridertrack/internal/geoloc"
	"backend-ridertrack/internal/tracking"
)

var errStore = errors.New("store error")

type fakeConsent struct {
	rec      consent.Record
	getErr   error
	grantErr error
	setErr   error
	setCalls int
}

func (f *fakeConsent) Get(_ context.Context, riderID string) (consent.Record, error) {
	if f.getErr != nil {
		return consent.Record{}, f.getErr
	}
	return f.rec, nil
}

func (f *fakeConsent) Grant(_ context.Context, riderID string) (consent.Record, error) {
	if f.grantErr != nil {
		return consent.Record{}, f.grantErr
	}
	f.rec = consent.Record{RiderID: riderID, ConsentGiven: true, TrackingEnabled: true, AutoStartOnLogin: true, LocationUpdateInterval: 60}
	return f.rec, nil
}

func (f *fakeConsent) SetTrackingEnabled(_ context.Context, _ string, enabled bool) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.setCalls++
	f.rec.TrackingEnabled = enabled
	return nil
}

type fakeSessions struct {
	nextID   string
	openErr  error
	closeErr error
	opened   []string
	closed   []string
}

func (f *fakeSessions) OpenSession(_ context.Context, riderID string, _ time.Time) (string, error) {
	if f.openErr != nil {
		return "", f.openErr
	}
	f.opened = append(f.opened, riderID)
	return f.nextID, nil
}

func (f *fakeSessions) CloseSession(_ context.Context, sessionID string, _ time.Time) error {
	if f.closeErr != nil {
		return f.closeErr
	}
	f.closed = append(f.closed, sessionID)
	return nil
}

type fakeSamples struct {
	mu      sync.Mutex
	added   []tracking.Sample
	addErrs []error // consumed one per call, nil means success
}

func (f *fakeSamples) AddSample(_ context.Context, sample tracking.Sample) (tracking.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if len(f.addErrs) > 0 {
		err = f.addErrs[0]
		f.addErrs = f.addErrs[1:]
	}
	if err != nil {
		return tracking.Sample{}, err
	}
	f.added = append(f.added, sample)
	return sample, nil
}

func (f *fakeSamples) samples() []tracking.Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tracking.Sample(nil), f.added...)
}

type fakePermissions struct {
	checkResult   bool
	requestResult bool
	checkCalls    int
	requestCalls  int
}

func (f *fakePermissions) Check(context.Context, string) (bool, error) {
	f.checkCalls++
	return f.checkResult, nil
}

func (f *fakePermissions) Request(context.Context, string) (bool, error) {
	f.requestCalls++
	return f.requestResult, nil
}

// blockingPerms parks Request until release is closed, standing in for a
// rider who has not answered the OS permission dialog yet. requested is
// signalled when the prompt begins.
type blockingPerms struct {
	requested chan struct{}
	release   chan struct{}
	result    bool
}

func (b *blockingPerms) Check(context.Context, string) (bool, error) { return false, nil }

func (b *blockingPerms) Request(context.Context, string) (bool, error) {
	select {
	case b.requested <- struct{}{}:
	default:
	}
	<-b.release
	return b.result, nil
}

type fakeWatcher struct {
	watchErr   error
	watchCalls int
	cleared    []string
	onFix      func(geoloc.Fix)
	onErr      func(error)
	lastOpts   geoloc.WatchOptions
}

func (f *fakeWatcher) Watch(_ string, opts geoloc.WatchOptions, onFix func(geoloc.Fix), onErr func(error)) (string, error) {
	f.watchCalls++
	if f.watchErr != nil {
		return "", f.watchErr
	}
	f.onFix = onFix
	f.onErr = onErr
	f.lastOpts = opts
	return "watch-1", nil
}

func (f *fakeWatcher) Clear(watchID string) error {
	f.cleared = append(f.cleared, watchID)
	return nil
}

type fakeState struct {
	mu     sync.Mutex
	values map[string]string
	getErr error
}

func newFakeState() *fakeState {
	return &fakeState{values: map[string]string{}}
}

func (f *fakeState) Get(_ context.Context, key string) (string, bool, error) {
	if f.getErr != nil {
		return "", false, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.values[key]
	return value, ok, nil
}

func (f *fakeState) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

func (f *fakeState) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	return nil
}

type fixture struct {
	consent     *fakeConsent
	sessions    *fakeSessions
	samples     *fakeSamples
	permissions *fakePermissions
	watcher     *fakeWatcher
	state       *fakeState
	tracker     *Tracker
}

func newFixture() *fixture {
	f := &fixture{
		consent: &fakeConsent{rec: consent.Record{
			RiderID:                "rider-1",
			ConsentGiven:           true,
			TrackingEnabled:        true,
			LocationUpdateInterval: 60,
		}},
		sessions:    &fakeSessions{nextID: "session-1"},
		samples:     &fakeSamples{},
		permissions: &fakePermissions{checkResult: true},
		watcher:     &fakeWatcher{},
		state:       newFakeState(),
	}
	f.tracker = New(f.consent, f.sessions, f.samples, f.permissions, f.watcher, f.state)
	return f
}

func TestStartIdempotent(t *testing.T) {
	f := newFixture()

	if !f.tracker.Start(context.Background(), "rider-1") {
		t.Fatalf("first start failed")
	}
	if !f.tracker.Start(context.Background(), "rider-1") {
		t.Fatalf("second start failed")
	}

	if f.watcher.watchCalls != 1 {
		t.Fatalf("expected a single watch registration, got %d", f.watcher.watchCalls)
	}
	if len(f.sessions.opened) != 1 {
		t.Fatalf("expected a single session, got %d", len(f.sessions.opened))
	}
	if !f.tracker.Status().IsTracking {
		t.Fatalf("expected tracking status true")
	}
}

func TestConsentGatesAllStarts(t *testing.T) {
	f := newFixture()
	f.consent.rec.ConsentGiven = false

	if f.tracker.Start(context.Background(), "rider-1") {
		t.Fatalf("start must fail without consent")
	}
	if f.watcher.watchCalls != 0 {
		t.Fatalf("watch must not be registered without consent")
	}
	if f.permissions.checkCalls != 0 {
		t.Fatalf("permission must not be queried without consent")
	}
}

func TestConsentReadErrorFailsClosed(t *testing.T) {
	f := newFixture()
	f.consent.getErr = errStore

	if f.tracker.Start(context.Background(), "rider-1") {
		t.Fatalf("start must fail on consent read error")
	}
	if f.tracker.HasConsent(context.Background(), "rider-1") {
		t.Fatalf("HasConsent must fail closed")
	}
}

func TestSettingsGateIndependentOfConsent(t *testing.T) {
	f := newFixture()
	f.consent.rec.TrackingEnabled = false

	if f.tracker.Start(context.Background(), "rider-1") {
		t.Fatalf("start must fail with tracking switched off")
	}
	if f.watcher.watchCalls != 0 {
		t.Fatalf("watch must not be registered with tracking switched off")
	}

	if !f.tracker.Toggle(context.Background(), "rider-1", true) {
		t.Fatalf("toggle on failed")
	}
	if !f.tracker.Status().IsTracking {
		t.Fatalf("expected tracking after toggle on")
	}
}

func TestToggleWriteFailureBlocksStart(t *testing.T) {
	f := newFixture()
	f.consent.setErr = errStore

	if f.tracker.Toggle(context.Background(), "rider-1", true) {
		t.Fatalf("toggle must fail when the switch write fails")
	}
	if f.watcher.watchCalls != 0 {
		t.Fatalf("no start may be attempted after a failed switch write")
	}
	if f.tracker.Status().IsTracking {
		t.Fatalf("switch and watch state diverged")
	}
}

func TestToggleOffStops(t *testing.T) {
	f := newFixture()

	if !f.tracker.Start(context.Background(), "rider-1") {
		t.Fatalf("start failed")
	}
	if !f.tracker.Toggle(context.Background(), "rider-1", false) {
		t.Fatalf("toggle off failed")
	}
	if f.tracker.Status().IsTracking {
		t.Fatalf("expected tracking stopped")
	}
	if len(f.watcher.cleared) != 1 {
		t.Fatalf("expected watch cleared")
	}
}

func TestStopAlwaysSafe(t *testing.T) {
	f := newFixture()

	f.tracker.Stop(context.Background())
	if f.tracker.Status().IsTracking {
		t.Fatalf("expected not tracking")
	}

	f.tracker.Start(context.Background(), "rider-1")
	f.tracker.Stop(context.Background())
	f.tracker.Stop(context.Background())
	if f.tracker.Status().IsTracking {
		t.Fatalf("expected not tracking after double stop")
	}
}

func TestStopClosesSessionAndClearsState(t *testing.T) {
	f := newFixture()

	f.tracker.Start(context.Background(), "rider-1")
	if _, ok, _ := f.state.Get(context.Background(), "gps_tracking_active"); !ok {
		t.Fatalf("expected durable flag set after start")
	}

	f.tracker.Stop(context.Background())
	if len(f.sessions.closed) != 1 || f.sessions.closed[0] != "session-1" {
		t.Fatalf("expected session closed, got %v", f.sessions.closed)
	}
	for _, key := range []string{"gps_tracking_active", "gps_watch_id", "gps_session_id"} {
		if _, ok, _ := f.state.Get(context.Background(), key); ok {
			t.Fatalf("expected %s cleared", key)
		}
	}
}

func TestStopSessionCloseFailureStillClearsState(t *testing.T) {
	f := newFixture()

	f.tracker.Start(context.Background(), "rider-1")
	f.sessions.closeErr = errStore
	f.tracker.Stop(context.Background())

	status := f.tracker.Status()
	if status.IsTracking || status.SessionID != "" || status.WatchID != "" {
		t.Fatalf("expected local state cleared despite close failure: %+v", status)
	}
}

func TestPermissionRequestedOnceOnMiss(t *testing.T) {
	f := newFixture()
	f.permissions.checkResult = false
	f.permissions.requestResult = true

	if !f.tracker.Start(context.Background(), "rider-1") {
		t.Fatalf("start failed after granted prompt")
	}
	if f.permissions.requestCalls != 1 {
		t.Fatalf("expected one prompt, got %d", f.permissions.requestCalls)
	}
}

func TestPermissionDenialTerminal(t *testing.T) {
	f := newFixture()
	f.permissions.checkResult = false
	f.permissions.requestResult = false

	if f.tracker.Start(context.Background(), "rider-1") {
		t.Fatalf("start must fail on denial")
	}
	if f.permissions.requestCalls != 1 {
		t.Fatalf("a single denial must not re-prompt")
	}
	if f.watcher.watchCalls != 0 {
		t.Fatalf("watch must not be registered on denial")
	}
}

func TestPendingPromptDoesNotBlockStopOrStatus(t *testing.T) {
	f := newFixture()
	perms := &blockingPerms{requested: make(chan struct{}, 1), release: make(chan struct{}), result: true}
	f.tracker = New(f.consent, f.sessions, f.samples, perms, f.watcher, f.state)

	started := make(chan bool, 1)
	go func() {
		started <- f.tracker.Start(context.Background(), "rider-1")
	}()
	<-perms.requested

	// the prompt is pending; Status and Stop must return immediately
	statusDone := make(chan struct{})
	go func() {
		_ = f.tracker.Status()
		f.tracker.Stop(context.Background())
		close(statusDone)
	}()
	select {
	case <-statusDone:
	case <-time.After(time.Second):
		t.Fatalf("Status/Stop blocked behind a pending permission prompt")
	}

	// a second start while the prompt is pending fails fast, no second prompt
	if f.tracker.Start(context.Background(), "rider-1") {
		t.Fatalf("second start must not succeed while a start is in flight")
	}

	close(perms.release)
	if !<-started {
		t.Fatalf("first start failed after granted prompt")
	}
	if f.watcher.watchCalls != 1 {
		t.Fatalf("expected a single watch, got %d", f.watcher.watchCalls)
	}
}

func TestSessionOpenFailureNonFatal(t *testing.T) {
	f := newFixture()
	f.sessions.openErr = errStore

	if !f.tracker.Start(context.Background(), "rider-1") {
		t.Fatalf("start must succeed without session linkage")
	}
	status := f.tracker.Status()
	if !status.IsTracking || status.SessionID != "" {
		t.Fatalf("expected tracking without session id: %+v", status)
	}
}

func TestWatchFailureClosesFreshSession(t *testing.T) {
	f := newFixture()
	f.watcher.watchErr = errStore

	if f.tracker.Start(context.Background(), "rider-1") {
		t.Fatalf("start must fail when the watch cannot register")
	}
	if len(f.sessions.closed) != 1 || f.sessions.closed[0] != "session-1" {
		t.Fatalf("expected the just-opened session closed, got %v", f.sessions.closed)
	}
	if f.tracker.Status().IsTracking {
		t.Fatalf("expected not tracking")
	}
}

func TestResumeMirrorsDurableFlag(t *testing.T) {
	f := newFixture()

	// flag absent: resume leaves tracking untouched
	f.tracker.Resume(context.Background(), "rider-1")
	if f.tracker.Status().IsTracking {
		t.Fatalf("resume must not start without the flag")
	}

	_ = f.state.Set(context.Background(), "gps_tracking_active", "true")
	f.tracker.Resume(context.Background(), "rider-1")
	if !f.tracker.Status().IsTracking {
		t.Fatalf("resume must restart tracking when the flag is set")
	}
}

func TestResumeRunsAllGuards(t *testing.T) {
	f := newFixture()
	f.consent.rec.ConsentGiven = false
	_ = f.state.Set(context.Background(), "gps_tracking_active", "true")

	f.tracker.Resume(context.Background(), "rider-1")
	if f.tracker.Status().IsTracking {
		t.Fatalf("resume must re-run the consent gate")
	}
}

func TestResumeOpensFreshSession(t *testing.T) {
	f := newFixture()
	_ = f.state.Set(context.Background(), "gps_tracking_active", "true")
	_ = f.state.Set(context.Background(), "gps_session_id", "session-stale")

	f.tracker.Resume(context.Background(), "rider-1")
	if got := f.tracker.Status().SessionID; got != "session-1" {
		t.Fatalf("resume must open a fresh session, got %q", got)
	}
}

func TestResumeStateReadError(t *testing.T) {
	f := newFixture()
	f.state.getErr = errStore

	f.tracker.Resume(context.Background(), "rider-1")
	if f.tracker.Status().IsTracking {
		t.Fatalf("resume must stay stopped on state read error")
	}
}

func TestSampleWriteFailureDoesNotAbortSession(t *testing.T) {
	f := newFixture()
	f.samples.addErrs = []error{nil, errStore, nil}

	if !f.tracker.Start(context.Background(), "rider-1") {
		t.Fatalf("start failed")
	}

	for i := 0; i < 3; i++ {
		f.watcher.onFix(geoloc.Fix{Latitude: -6.2, Longitude: 106.8})
	}

	if got := len(f.samples.samples()); got != 2 {
		t.Fatalf("expected 2 stored samples around one failure, got %d", got)
	}
	if !f.tracker.Status().IsTracking {
		t.Fatalf("a dropped sample must not stop tracking")
	}
}

func TestWatchErrorsSwallowed(t *testing.T) {
	f := newFixture()

	if !f.tracker.Start(context.Background(), "rider-1") {
		t.Fatalf("start failed")
	}

	f.watcher.onErr(errStore)
	if !f.tracker.Status().IsTracking {
		t.Fatalf("a transient fix error must not stop tracking")
	}
	if len(f.samples.samples()) != 0 {
		t.Fatalf("no sample may be written for an errored fix")
	}
}

func TestStartStopScenario(t *testing.T) {
	f := newFixture()

	if !f.tracker.Start(context.Background(), "rider-1") {
		t.Fatalf("start failed")
	}
	status := f.tracker.Status()
	if !status.IsTracking || status.SessionID != "session-1" || status.WatchID != "watch-1" {
		t.Fatalf("unexpected status: %+v", status)
	}
	if f.watcher.lastOpts.HighAccuracy {
		t.Fatalf("watch must use low-power settings")
	}
	if f.watcher.lastOpts.MaximumAge != time.Minute {
		t.Fatalf("max fix age must follow the configured interval, got %v", f.watcher.lastOpts.MaximumAge)
	}

	f.watcher.onFix(geoloc.Fix{Latitude: -6.2, Longitude: 106.8, SpeedMps: 5})
	samples := f.samples.samples()
	if len(samples) != 1 {
		t.Fatalf("expected one sample, got %d", len(samples))
	}
	if samples[0].Status != "active" || samples[0].RiderID != "rider-1" {
		t.Fatalf("unexpected sample: %+v", samples[0])
	}
	if samples[0].SpeedKmh != 18 {
		t.Fatalf("expected m/s converted to km/h, got %v", samples[0].SpeedKmh)
	}

	f.tracker.Stop(context.Background())
	if f.tracker.Status().IsTracking {
		t.Fatalf("expected stopped")
	}
	if len(f.sessions.closed) != 1 {
		t.Fatalf("expected session end recorded")
	}
}

func TestGrantConsent(t *testing.T) {
	f := newFixture()
	f.consent.rec = consent.Record{}

	if !f.tracker.GrantConsent(context.Background(), "rider-1") {
		t.Fatalf("grant failed")
	}
	if !f.tracker.HasConsent(context.Background(), "rider-1") {
		t.Fatalf("expected consent after grant")
	}

	f.consent.grantErr = errStore
	if f.tracker.GrantConsent(context.Background(), "rider-1") {
		t.Fatalf("grant must report persistence failure")
	}
}

func TestCustomIntervalFlowsToWatchOptions(t *testing.T) {
	f := newFixture()
	f.consent.rec.LocationUpdateInterval = 120

	if !f.tracker.Start(context.Background(), "rider-1") {
		t.Fatalf("start failed")
	}
	if f.watcher.lastOpts.MaximumAge != 2*time.Minute {
		t.Fatalf("expected 2m max age, got %v", f.watcher.lastOpts.MaximumAge)
	}
}
