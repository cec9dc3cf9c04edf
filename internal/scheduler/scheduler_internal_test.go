package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"robolike/internal/domain"
	"robolike/internal/feed"
	"robolike/internal/ledger"
)

type memoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memoryStore) GetValue(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.values[key]

	return v, ok, nil
}

func (m *memoryStore) SetValue(_ context.Context, key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[key] = value

	return nil
}

type fakeSource struct {
	mu         sync.Mutex
	calls      int
	hashtags   []string
	candidates []domain.Candidate
	err        error
}

func (f *fakeSource) FetchRecent(_ context.Context, hashtag string) ([]domain.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.hashtags = append(f.hashtags, hashtag)

	return f.candidates, f.err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

type fakeBrowser struct {
	mu       sync.Mutex
	paths    []string
	err      error
	onAction func()
}

func (f *fakeBrowser) DispatchLikeAction(_ context.Context, path string) error {
	f.mu.Lock()
	f.paths = append(f.paths, path)
	hook := f.onAction
	f.mu.Unlock()

	if hook != nil {
		hook()
	}

	return f.err
}

type trackedEvent struct {
	name   string
	fields []any
}

type fakeTracker struct {
	mu     sync.Mutex
	events []trackedEvent
}

func (f *fakeTracker) add(name string, fields ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = append(f.events, trackedEvent{name: name, fields: fields})
}

func (f *fakeTracker) TrackLikesStarted(_ context.Context, hashtag string, maxLikes int) {
	f.add(domain.EventLikesStarted, hashtag, maxLikes)
}

func (f *fakeTracker) TrackLikesStopped(_ context.Context, reason string, totalLikes int, _ time.Duration) {
	f.add(domain.EventLikesStopped, reason, totalLikes)
}

func (f *fakeTracker) TrackPostLiked(_ context.Context, postID string, hashtag string, _ *int) {
	f.add(domain.EventPostLiked, postID, hashtag)
}

func (f *fakeTracker) TrackAppError(_ context.Context, errorType string, _ string, errorCode string) {
	f.add(domain.EventAppError, errorType, errorCode)
}

func (f *fakeTracker) named(name string) []trackedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []trackedEvent
	for _, e := range f.events {
		if e.name == name {
			out = append(out, e)
		}
	}

	return out
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (f *fakeAlerter) Alert(_ context.Context, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.alerts = append(f.alerts, text)
}

func (f *fakeAlerter) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.alerts...)
}

type fakeSettings struct {
	mu    sync.Mutex
	saved []domain.ScheduleConfig
}

func (f *fakeSettings) SaveScheduleConfig(_ context.Context, cfg domain.ScheduleConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.saved = append(f.saved, cfg)

	return nil
}

type fakeCaptions struct {
	caption string
}

func (f *fakeCaptions) ResolveCaption(context.Context, domain.Candidate) (string, error) {
	return f.caption, nil
}

type harness struct {
	s        *Scheduler
	source   *fakeSource
	browser  *fakeBrowser
	ledger   *ledger.Ledger
	tracker  *fakeTracker
	alerter  *fakeAlerter
	settings *fakeSettings
	now      time.Time
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()

	ctx := context.Background()
	log := slog.Default()

	h := &harness{
		source:   &fakeSource{},
		browser:  &fakeBrowser{},
		ledger:   ledger.Load(ctx, &memoryStore{}, 100, log),
		tracker:  &fakeTracker{},
		alerter:  &fakeAlerter{},
		settings: &fakeSettings{},
		now:      now,
	}

	h.s = New(ctx, Deps{
		Source:   h.source,
		Browser:  h.browser,
		Ledger:   h.ledger,
		Tracker:  h.tracker,
		Alerter:  h.alerter,
		Settings: h.settings,
	}, log)
	h.s.now = func() time.Time { return h.now }
	h.s.period = time.Hour

	return h
}

func (h *harness) newRun(t *testing.T, cfg domain.ScheduleConfig) *run {
	t.Helper()

	r, err := h.s.newRun(cfg.Normalize())
	if err != nil {
		t.Fatalf("new run: %v", err)
	}
	t.Cleanup(r.cancel)

	return r
}

func (h *harness) seed(t *testing.T, id string, at time.Time) {
	t.Helper()

	rec := domain.LikeRecord{ID: id, Permalink: "https://www.instagram.com/p/" + id + "/", CreatedAt: at}
	if err := h.ledger.Append(context.Background(), rec); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition is not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

var noon = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func TestTickLikesFirstCandidate(t *testing.T) {
	h := newHarness(t, noon)
	likes := 7
	h.source.candidates = []domain.Candidate{
		{ID: "p1", Permalink: "https://www.instagram.com/p/p1/", Caption: "hello", LikeCount: &likes},
	}

	r := h.newRun(t, domain.ScheduleConfig{Hashtag: "#golang"})
	h.s.tick(r)

	if h.source.hashtags[0] != "golang" {
		t.Fatalf("unexpected hashtag: %q", h.source.hashtags[0])
	}

	if len(h.browser.paths) != 1 || h.browser.paths[0] != "/p/p1/" {
		t.Fatalf("unexpected dispatched paths: %v", h.browser.paths)
	}

	records := h.ledger.All()
	if len(records) != 1 || records[0].ID != "p1" || records[0].Caption != "hello" {
		t.Fatalf("unexpected ledger: %+v", records)
	}

	if !records[0].CreatedAt.Equal(noon) {
		t.Fatalf("unexpected created at: %v", records[0].CreatedAt)
	}

	if liked := h.tracker.named(domain.EventPostLiked); len(liked) != 1 || liked[0].fields[0] != "p1" {
		t.Fatalf("unexpected postLiked events: %+v", liked)
	}

	if r.likes != 1 {
		t.Fatalf("expected run likes to be 1, got %d", r.likes)
	}
}

func TestTickSkipsAlreadyLikedCandidates(t *testing.T) {
	h := newHarness(t, noon)
	h.seed(t, "A", noon.Add(-48*time.Hour))
	h.source.candidates = []domain.Candidate{
		{ID: "A", Permalink: "https://www.instagram.com/p/A/"},
		{ID: "B", Permalink: "https://www.instagram.com/p/B/"},
	}

	h.s.tick(h.newRun(t, domain.ScheduleConfig{Hashtag: "golang"}))

	if len(h.browser.paths) != 1 || h.browser.paths[0] != "/p/B/" {
		t.Fatalf("expected B to be dispatched, got %v", h.browser.paths)
	}

	if h.ledger.Len() != 2 || !h.ledger.Contains("B") {
		t.Fatalf("expected B to be recorded once, got %+v", h.ledger.All())
	}
}

func TestTickAllCandidatesLiked(t *testing.T) {
	h := newHarness(t, noon)
	h.seed(t, "A", noon.Add(-time.Hour))
	h.source.candidates = []domain.Candidate{{ID: "A", Permalink: "https://www.instagram.com/p/A/"}}

	h.s.tick(h.newRun(t, domain.ScheduleConfig{Hashtag: "golang"}))

	if len(h.browser.paths) != 0 || h.ledger.Len() != 1 {
		t.Fatalf("expected no action, got paths %v and %d records", h.browser.paths, h.ledger.Len())
	}
}

func TestTickOutsideWindowDoesNotFetch(t *testing.T) {
	h := newHarness(t, time.Date(2026, time.March, 10, 8, 0, 0, 0, time.UTC))
	h.source.candidates = []domain.Candidate{{ID: "p1", Permalink: "https://www.instagram.com/p/p1/"}}

	h.s.tick(h.newRun(t, domain.ScheduleConfig{Hashtag: "golang", WindowStart: "09:00", WindowEnd: "17:00"}))

	if calls := h.source.callCount(); calls != 0 {
		t.Fatalf("expected no fetches, got %d", calls)
	}

	if h.ledger.Len() != 0 {
		t.Fatalf("expected empty ledger, got %d records", h.ledger.Len())
	}
}

func TestTickQuotaReachedDoesNotFetch(t *testing.T) {
	h := newHarness(t, noon)
	h.seed(t, "x1", noon.Add(-2*time.Hour))
	h.seed(t, "x2", noon.Add(-time.Hour))
	h.source.candidates = []domain.Candidate{{ID: "p1", Permalink: "https://www.instagram.com/p/p1/"}}

	h.s.tick(h.newRun(t, domain.ScheduleConfig{Hashtag: "golang", DailyQuota: 2}))

	if calls := h.source.callCount(); calls != 0 {
		t.Fatalf("expected no fetches, got %d", calls)
	}
}

func TestTickQuotaCountsOnlyToday(t *testing.T) {
	h := newHarness(t, noon)
	h.seed(t, "x1", noon.Add(-24*time.Hour))
	h.seed(t, "x2", noon.Add(-25*time.Hour))
	h.source.candidates = []domain.Candidate{{ID: "p1", Permalink: "https://www.instagram.com/p/p1/"}}

	h.s.tick(h.newRun(t, domain.ScheduleConfig{Hashtag: "golang", DailyQuota: 2}))

	if !h.ledger.Contains("p1") {
		t.Fatalf("expected p1 to be liked, yesterday's likes do not count")
	}
}

func TestTickFetchErrors(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		errorType string
		errorCode string
		alert     string
	}{
		{"unauthorized", fmt.Errorf("fetch: %w", feed.ErrUnauthorized), domain.ErrorTypeAuthFailed, "401", alertUnauthorized},
		{"payment required", feed.ErrPaymentRequired, domain.ErrorTypePaymentRequired, "402", alertPaymentRequired},
		{"bad status", &feed.StatusError{StatusCode: 503}, domain.ErrorTypeNetworkError, "503", alertFetchFailed},
		{"network", errors.New("connection refused"), domain.ErrorTypeNetworkError, "", alertFetchFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, noon)
			h.source.err = tc.err

			h.s.tick(h.newRun(t, domain.ScheduleConfig{Hashtag: "golang"}))

			if h.ledger.Len() != 0 || len(h.browser.paths) != 0 {
				t.Fatalf("expected no mutations")
			}

			events := h.tracker.named(domain.EventAppError)
			if len(events) != 1 || events[0].fields[0] != tc.errorType || events[0].fields[1] != tc.errorCode {
				t.Fatalf("unexpected appError events: %+v", events)
			}

			if alerts := h.alerter.sent(); len(alerts) != 1 || alerts[0] != tc.alert {
				t.Fatalf("unexpected alerts: %v", alerts)
			}
		})
	}
}

func TestTickNoCandidates(t *testing.T) {
	h := newHarness(t, noon)

	h.s.tick(h.newRun(t, domain.ScheduleConfig{Hashtag: "golang"}))

	if h.source.callCount() != 1 || len(h.browser.paths) != 0 || len(h.alerter.sent()) != 0 {
		t.Fatalf("expected a quiet tick")
	}
}

func TestTickInvalidPermalinkAbortsTick(t *testing.T) {
	h := newHarness(t, noon)
	h.source.candidates = []domain.Candidate{{ID: "p1", Permalink: "://broken"}}

	h.s.tick(h.newRun(t, domain.ScheduleConfig{Hashtag: "golang"}))

	if len(h.browser.paths) != 0 || h.ledger.Len() != 0 {
		t.Fatalf("expected tick to be aborted")
	}
}

func TestTickRecordsLikeWhenDispatchFails(t *testing.T) {
	h := newHarness(t, noon)
	h.browser.err = errors.New("no page target")
	h.source.candidates = []domain.Candidate{{ID: "p1", Permalink: "https://www.instagram.com/p/p1/"}}

	h.s.tick(h.newRun(t, domain.ScheduleConfig{Hashtag: "golang"}))

	if !h.ledger.Contains("p1") {
		t.Fatalf("expected like to be recorded")
	}
}

func TestTickResolvesMissingCaption(t *testing.T) {
	h := newHarness(t, noon)
	h.s.deps.Captions = &fakeCaptions{caption: "from page"}
	h.source.candidates = []domain.Candidate{{ID: "p1", Permalink: "https://www.instagram.com/p/p1/"}}

	h.s.tick(h.newRun(t, domain.ScheduleConfig{Hashtag: "golang"}))

	if records := h.ledger.All(); len(records) != 1 || records[0].Caption != "from page" {
		t.Fatalf("unexpected ledger: %+v", records)
	}
}

func TestStopDuringTickDropsResult(t *testing.T) {
	h := newHarness(t, noon)
	h.source.candidates = []domain.Candidate{{ID: "p1", Permalink: "https://www.instagram.com/p/p1/"}}

	r := h.newRun(t, domain.ScheduleConfig{Hashtag: "golang"})
	h.s.run = r
	h.browser.onAction = func() { h.s.Stop(domain.StopReasonManual) }

	h.s.tick(r)

	if h.ledger.Len() != 0 {
		t.Fatalf("expected no like after stop, got %+v", h.ledger.All())
	}

	if liked := h.tracker.named(domain.EventPostLiked); len(liked) != 0 {
		t.Fatalf("expected no postLiked events, got %+v", liked)
	}

	stopped := h.tracker.named(domain.EventLikesStopped)
	if len(stopped) != 1 || stopped[0].fields[0] != domain.StopReasonManual || stopped[0].fields[1] != 0 {
		t.Fatalf("unexpected likesStopped events: %+v", stopped)
	}
}

func TestTickAfterStopDoesNothing(t *testing.T) {
	h := newHarness(t, noon)
	r := h.newRun(t, domain.ScheduleConfig{Hashtag: "golang"})
	r.cancel()

	h.s.tick(r)

	if calls := h.source.callCount(); calls != 0 {
		t.Fatalf("expected no fetches, got %d", calls)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	// Outside of the window, so the immediate tick is a no-op.
	h := newHarness(t, time.Date(2026, time.March, 10, 3, 0, 0, 0, time.UTC))
	cfg := domain.ScheduleConfig{Hashtag: "golang", WindowStart: "09:00", WindowEnd: "17:00"}

	if err := h.s.Start(cfg); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { h.s.Stop(domain.StopReasonShutdown) })

	if err := h.s.Start(domain.ScheduleConfig{Hashtag: "other"}); err != nil {
		t.Fatalf("second start: %v", err)
	}

	h.s.mu.Lock()
	entries := len(h.s.run.cron.Entries())
	hashtag := h.s.run.cfg.Hashtag
	h.s.mu.Unlock()

	if entries != 1 {
		t.Fatalf("expected one timer, got %d", entries)
	}

	if hashtag != "golang" {
		t.Fatalf("expected first config to be kept, got %q", hashtag)
	}

	if started := h.tracker.named(domain.EventLikesStarted); len(started) != 1 {
		t.Fatalf("expected one likesStarted event, got %d", len(started))
	}

	if len(h.settings.saved) != 1 || h.settings.saved[0].WindowStart != "09:00" {
		t.Fatalf("unexpected saved configs: %+v", h.settings.saved)
	}

	st := h.s.Status()
	if !st.Running || st.Config.Hashtag != "golang" || st.NextTick.IsZero() {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	h := newHarness(t, noon)

	err := h.s.Start(domain.ScheduleConfig{Hashtag: "  ", WindowStart: "25:00"})
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected invalid config error, got %v", err)
	}

	if h.s.Status().Running || len(h.settings.saved) != 0 {
		t.Fatalf("expected scheduler to stay idle")
	}
}

func TestStartTicksImmediatelyAndKeepsTimerAfterError(t *testing.T) {
	h := newHarness(t, noon)
	h.source.err = feed.ErrUnauthorized

	if err := h.s.Start(domain.ScheduleConfig{Hashtag: "golang"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { h.s.Stop(domain.StopReasonShutdown) })

	waitFor(t, func() bool { return len(h.alerter.sent()) == 1 })

	if h.source.callCount() != 1 {
		t.Fatalf("expected one fetch, got %d", h.source.callCount())
	}

	if st := h.s.Status(); !st.Running || st.NextTick.IsZero() {
		t.Fatalf("expected timer to stay armed, got %+v", st)
	}
}

func TestStopReportsRun(t *testing.T) {
	h := newHarness(t, noon)
	h.source.candidates = []domain.Candidate{{ID: "p1", Permalink: "https://www.instagram.com/p/p1/"}}

	if err := h.s.Start(domain.ScheduleConfig{Hashtag: "golang"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, func() bool { return h.s.Status().Likes == 1 })

	h.s.Stop(domain.StopReasonManual)
	h.s.Stop(domain.StopReasonManual)

	stopped := h.tracker.named(domain.EventLikesStopped)
	if len(stopped) != 1 || stopped[0].fields[0] != domain.StopReasonManual || stopped[0].fields[1] != 1 {
		t.Fatalf("unexpected likesStopped events: %+v", stopped)
	}

	if h.s.Status().Running {
		t.Fatalf("expected scheduler to be idle")
	}
}

func TestStopWhenIdle(t *testing.T) {
	h := newHarness(t, noon)

	h.s.Stop(domain.StopReasonManual)

	if stopped := h.tracker.named(domain.EventLikesStopped); len(stopped) != 0 {
		t.Fatalf("expected no events, got %+v", stopped)
	}
}

// slowSource returns one fresh candidate per call after delay, or fails early
// when ctx is done.
type slowSource struct {
	delay time.Duration

	mu          sync.Mutex
	calls       int
	inFlight    int
	maxInFlight int
}

func (f *slowSource) FetchRecent(ctx context.Context, _ string) ([]domain.Candidate, error) {
	f.mu.Lock()
	f.calls++
	id := fmt.Sprintf("p%d", f.calls)
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	timer := time.NewTimer(f.delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return []domain.Candidate{{ID: id, Permalink: "https://www.instagram.com/p/" + id + "/"}}, nil
}

func (f *slowSource) snapshot() (calls int, inFlight int, maxInFlight int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls, f.inFlight, f.maxInFlight
}

func TestTicksDoNotOverlap(t *testing.T) {
	h := newHarness(t, noon)
	source := &slowSource{delay: 1500 * time.Millisecond}
	h.s.deps.Source = source
	h.s.period = time.Second

	if err := h.s.Start(domain.ScheduleConfig{Hashtag: "golang"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { h.s.Stop(domain.StopReasonShutdown) })

	// Only one tick runs at a time, so while the second fetch is in flight
	// the first tick has fully finished.
	var calls int
	waitFor(t, func() bool {
		var inFlight int
		calls, inFlight, _ = source.snapshot()
		return calls >= 2 && inFlight == 1
	})

	recorded := h.ledger.Len()
	if recorded != calls-1 {
		t.Fatalf("expected every finished tick to record a like, got %d records for %d fetches", recorded, calls)
	}

	h.s.Stop(domain.StopReasonManual)

	waitFor(t, func() bool {
		_, inFlight, _ := source.snapshot()
		return inFlight == 0
	})

	_, _, maxInFlight := source.snapshot()
	if maxInFlight != 1 {
		t.Fatalf("expected ticks to never overlap, got %d fetches in flight", maxInFlight)
	}

	if got := h.ledger.Len(); got != recorded {
		t.Fatalf("expected the stopped tick to record nothing, got %d records", got)
	}

	if alerts := h.alerter.sent(); len(alerts) != 0 {
		t.Fatalf("expected no alerts after stop, got %v", alerts)
	}

	stopped := h.tracker.named(domain.EventLikesStopped)
	if len(stopped) != 1 || stopped[0].fields[1] != recorded {
		t.Fatalf("unexpected likesStopped events: %+v", stopped)
	}
}
