package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"robolike/internal/domain"

	"github.com/robfig/cron/v3"
)

const (
	// TickPeriod is the delay between two scheduling ticks.
	TickPeriod = time.Minute

	// tickTimeout bounds one tick: the fetch plus the browser settle delay.
	tickTimeout = 2 * time.Minute
)

type CandidateSource interface {
	FetchRecent(ctx context.Context, hashtag string) ([]domain.Candidate, error)
}

type CaptionResolver interface {
	ResolveCaption(ctx context.Context, c domain.Candidate) (string, error)
}

// BrowserSurface performs the like action in the page. Its outcome is not
// trusted either way.
type BrowserSurface interface {
	DispatchLikeAction(ctx context.Context, path string) error
}

type Ledger interface {
	Contains(id string) bool
	RecordsForDay(day time.Time) []domain.LikeRecord
	Append(ctx context.Context, record domain.LikeRecord) error
}

type Tracker interface {
	TrackLikesStarted(ctx context.Context, hashtag string, maxLikes int)
	TrackLikesStopped(ctx context.Context, reason string, totalLikes int, duration time.Duration)
	TrackPostLiked(ctx context.Context, postID string, hashtag string, likesCount *int)
	TrackAppError(ctx context.Context, errorType string, errorMessage string, errorCode string)
}

// Alerter shows a message to the operator.
type Alerter interface {
	Alert(ctx context.Context, text string)
}

type SettingsStore interface {
	SaveScheduleConfig(ctx context.Context, cfg domain.ScheduleConfig) error
}

type Deps struct {
	Source   CandidateSource
	Captions CaptionResolver // Optional.
	Browser  BrowserSurface
	Ledger   Ledger
	Tracker  Tracker
	Alerter  Alerter
	Settings SettingsStore
}

// Status is a snapshot of the scheduler state.
type Status struct {
	Running   bool
	Config    domain.ScheduleConfig
	StartedAt time.Time
	Likes     int
	NextTick  time.Time
}

// Scheduler runs the like loop. It is either idle or running exactly one
// timer; each running span owns a context that is cancelled on Stop.
type Scheduler struct {
	ctx     context.Context
	deps    Deps
	now     func() time.Time
	period  time.Duration
	cronLog cron.Logger
	log     *slog.Logger

	mu  sync.Mutex
	run *run
}

type run struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       domain.ScheduleConfig
	window    domain.Window
	startedAt time.Time
	cron      *cron.Cron
	job       cron.Job

	// mu serializes the final ledger write of a tick with Stop, so that no
	// like is recorded after Stop has returned.
	mu    sync.Mutex
	likes int
}

func New(ctx context.Context, deps Deps, log *slog.Logger) *Scheduler {
	return &Scheduler{
		ctx:     ctx,
		deps:    deps,
		now:     time.Now,
		period:  TickPeriod,
		cronLog: cronLogger{log: log},
		log:     log,
	}
}

// Start persists cfg, reports the start and begins ticking: once right away,
// then every TickPeriod. Starting a running scheduler does nothing.
func (s *Scheduler) Start(cfg domain.ScheduleConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil {
		s.log.InfoContext(s.ctx, "Scheduler is already running",
			"hashtag", s.run.cfg.Hashtag,
			"requestedHashtag", cfg.Hashtag)

		return nil
	}

	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := s.deps.Settings.SaveScheduleConfig(s.ctx, cfg); err != nil {
		return err
	}

	r, err := s.newRun(cfg)
	if err != nil {
		return err
	}

	r.cron.Schedule(cron.Every(s.period), r.job)
	s.run = r

	s.deps.Tracker.TrackLikesStarted(r.ctx, cfg.Hashtag, cfg.DailyQuota)

	go r.job.Run()
	r.cron.Start()

	s.log.InfoContext(r.ctx, "Scheduler is started",
		"hashtag", cfg.Hashtag,
		"window", r.window.String(),
		"dailyQuota", cfg.DailyQuota,
		"period", s.period)

	return nil
}

// Stop reports the run and cancels it. An in-flight tick drops its result.
// Stopping an idle scheduler does nothing.
func (s *Scheduler) Stop(reason string) {
	s.mu.Lock()
	r := s.run
	s.run = nil
	s.mu.Unlock()

	if r == nil {
		return
	}

	elapsed := s.now().Sub(r.startedAt)

	r.mu.Lock()
	r.cancel()
	likes := r.likes
	r.mu.Unlock()

	s.deps.Tracker.TrackLikesStopped(s.ctx, reason, likes, elapsed)

	r.cron.Stop()

	s.log.InfoContext(s.ctx, "Scheduler is stopped",
		"reason", reason,
		"hashtag", r.cfg.Hashtag,
		"totalLikes", likes,
		"durationSeconds", int64(elapsed.Seconds()))
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.run
	if r == nil {
		return Status{}
	}

	r.mu.Lock()
	likes := r.likes
	r.mu.Unlock()

	st := Status{
		Running:   true,
		Config:    r.cfg,
		StartedAt: r.startedAt,
		Likes:     likes,
	}

	if entries := r.cron.Entries(); len(entries) != 0 {
		st.NextTick = entries[0].Next
	}

	return st
}

func (s *Scheduler) newRun(cfg domain.ScheduleConfig) (*run, error) {
	window, err := cfg.Window()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(s.ctx)

	r := &run{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		window:    window,
		startedAt: s.now(),
		cron:      cron.New(cron.WithLocation(time.Local), cron.WithLogger(s.cronLog)),
	}

	// The immediate tick and the timer share one wrapped job, so they skip
	// each other as well.
	r.job = cron.NewChain(
		cron.Recover(s.cronLog),
		cron.SkipIfStillRunning(s.cronLog),
	).Then(cron.FuncJob(func() { s.tick(r) }))

	return r, nil
}

type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("Cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("Cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
