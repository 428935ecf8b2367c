package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"matchd/internal/auth"
	"matchd/internal/config"
	"matchd/internal/db"
	"matchd/internal/engine"
	"matchd/internal/httpapi"
	"matchd/internal/market"
	"matchd/internal/notify"
	"matchd/internal/schedule"
)

func main() {
	cfg, _ := config.Load()

	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		log.Fatal(err)
	}

	jobs := &engine.Repo{
		DB:          gdb,
		Alerter:     engine.LogAlerter{},
		BackoffBase: cfg.BackoffBase,
		BackoffMax:  cfg.BackoffMax,
	}

	var pusher notify.Pusher = notify.NopPusher{}
	if cfg.PushURL != "" {
		pusher = &notify.HTTPPusher{URL: cfg.PushURL}
	}

	scheduler := &schedule.Scheduler{
		DB:           gdb,
		Jobs:         jobs,
		StatsHourUTC: cfg.StatsHourUTC,
		ResetHourUTC: cfg.ResetHourUTC,
	}

	matcher := &notify.Matcher{
		DB:         gdb,
		Jobs:       jobs,
		Pusher:     pusher,
		MinScore:   cfg.MatchMinScore,
		RateWindow: cfg.RateWindow,
		RateMax:    cfg.RateMax,
	}
	digest := &notify.Digest{DB: gdb, Pusher: pusher, TopN: cfg.DigestTopN}
	stats := &schedule.StatsRecompute{Scheduler: scheduler}
	reset := &schedule.AIReset{Scheduler: scheduler}

	registry := engine.NewRegistry()
	registry.Register(engine.TypeJobMatchNotify, matcher.Handle)
	registry.Register(engine.TypeJobMatchDigest, digest.Handle)
	registry.Register(engine.TypeProviderStatsRecompute, stats.Handle)
	registry.Register(engine.TypeAIMonthlyReset, reset.Handle)

	ctx, cancel := context.WithCancel(context.Background())

	// Seed the recurring chain before the loop starts draining.
	if err := scheduler.EnsureAll(ctx); err != nil {
		log.Printf("recurring seed failed (worker will retry via handlers): %v", err)
	}

	worker := engine.NewWorker(jobs, registry)
	worker.PollInterval = cfg.PollInterval
	worker.BatchSize = cfg.BatchSize
	worker.LeaseTimeout = cfg.LeaseTimeout
	worker.SchemaRetry = cfg.SchemaRetryInterval
	go worker.Run(ctx)

	jwtSvc := auth.NewJWT(cfg.JWTSecret)
	marketSvc := &market.Service{DB: gdb, Jobs: jobs}
	r := httpapi.NewRouter(cfg, jobs, marketSvc, jwtSvc)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("listening on %s\n", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
