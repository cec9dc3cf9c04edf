package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"robolike/internal/analytics"
	"robolike/internal/bot"
	"robolike/internal/browser"
	"robolike/internal/config"
	"robolike/internal/database"
	"robolike/internal/domain"
	"robolike/internal/feed"
	"robolike/internal/ledger"
	"robolike/internal/scheduler"
)

const (
	authCheckTimeout = 15 * time.Second
	drainTimeout     = 10 * time.Second
	loginMethod      = "accessToken"
)

func main() {
	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).ErrorContext(ctx, "Failed to load config",
			"error", err)

		os.Exit(1)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	if err = run(ctx, cancel, cfg, log); err != nil {
		log.ErrorContext(ctx, "Exiting with error",
			"error", err,
			"uptimeSeconds", time.Since(start).Seconds())

		os.Exit(1)
	}

	log.InfoContext(ctx, "Exiting...",
		"uptimeSeconds", time.Since(start).Seconds())
}

func run(ctx context.Context, cancel context.CancelFunc, cfg config.Config, log *slog.Logger) error {
	db, err := database.New(ctx, cfg.DBPath, log)
	if err != nil {
		return err
	}
	defer func() {
		if err = db.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close db",
				"error", err,
				"dbPath", cfg.DBPath)
		}
	}()
	log.InfoContext(ctx, "DB is initialized",
		"dbPath", cfg.DBPath)

	likes := ledger.Load(ctx, db, cfg.MaxStoredLikes, log)
	log.InfoContext(ctx, "Ledger is loaded",
		"records", likes.Len(),
		"maxStored", likes.MaxStored())

	fetcher := feed.NewFetcher(cfg.BaseURL, cfg.AccessToken, log)
	surface := browser.New(cfg.BrowserDebugURL, cfg.BrowserTargetHost, log)

	tracker := analytics.New(cfg.BaseURL, cfg.AccessToken, cfg.AppVersion, log)
	defer func() {
		drainCtx, drainCancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
		defer drainCancel()

		if err = tracker.Close(drainCtx); err != nil {
			log.ErrorContext(ctx, "Failed to drain analytics queue",
				"error", err)
		}
	}()

	tracker.TrackAppSessionStart(ctx)
	defer tracker.TrackAppSessionEnd(ctx)

	checkAuth(ctx, fetcher, tracker, log)

	if len(cfg.AllowedUsers) == 0 {
		log.WarnContext(ctx, "ALLOWED_USERS is empty so every Telegram user can control the bot",
			"envVar", "ALLOWED_USERS")
	}

	botInst, err := bot.New(cfg.Token, likes, db, cfg.DailyQuota, cfg.AllowedUsers, log)
	if err != nil {
		return err
	}
	log.InfoContext(ctx, "Bot is initialized",
		"allowedUsersCount", len(cfg.AllowedUsers))

	deps := scheduler.Deps{
		Source:   fetcher,
		Browser:  surface,
		Ledger:   likes,
		Tracker:  tracker,
		Alerter:  botInst,
		Settings: db,
	}
	if cfg.ResolveCaptions {
		deps.Captions = fetcher
	}

	sched := scheduler.New(ctx, deps, log)
	defer sched.Stop(domain.StopReasonShutdown)

	if cfg.AutoStart {
		resume(ctx, sched, db, cfg.DailyQuota, log)
	}

	go func() {
		botInst.Start(ctx, sched)
	}()
	log.InfoContext(ctx, "Bot is started",
		"updateTimeoutSeconds", bot.BotUpdateTimeout)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	log.InfoContext(ctx, "Shutdown signal is received",
		"signal", sig.String())

	sched.Stop(domain.StopReasonShutdown)
	cancel()

	return nil
}

func checkAuth(ctx context.Context, fetcher *feed.Fetcher, tracker *analytics.Tracker, log *slog.Logger) {
	authCtx, cancel := context.WithTimeout(ctx, authCheckTimeout)
	defer cancel()

	ok, err := fetcher.CheckAuth(authCtx)

	switch {
	case err != nil:
		log.WarnContext(ctx, "Failed to check auth status",
			"error", err)
	case !ok:
		log.WarnContext(ctx, "Access token is not accepted, likes will fail until it is replaced",
			"envVar", "ACCESS_TOKEN")
	default:
		tracker.TrackAppLogin(ctx, loginMethod)
		log.InfoContext(ctx, "Access token is accepted")
	}
}

func resume(ctx context.Context, sched *scheduler.Scheduler, db *database.Database, dailyQuota int, log *slog.Logger) {
	saved, err := db.LoadScheduleConfig(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load schedule config",
			"error", err)

		return
	}

	if saved.Hashtag == "" {
		log.InfoContext(ctx, "Nothing to resume, no hashtag is saved")
		return
	}

	saved.DailyQuota = dailyQuota

	if err = sched.Start(saved); err != nil {
		log.ErrorContext(ctx, "Failed to resume scheduler",
			"error", err,
			"hashtag", saved.Hashtag)
	}
}
