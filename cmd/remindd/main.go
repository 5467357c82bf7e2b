package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"remindd/internal/api"
	"remindd/internal/broker"
	"remindd/internal/config"
	"remindd/internal/dispatch"
	"remindd/internal/journal"
	"remindd/internal/planner"
	"remindd/internal/pushauth"
	"remindd/internal/scheduler"
	"remindd/internal/task"
	"remindd/internal/taskmanager"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "path to YAML config file")
		addr    = flag.String("addr", "", "HTTP bind address (overrides config)")
		dbPath  = flag.String("journal", "", "SQLite reminder journal path (empty = in-memory only)")
		level   = flag.String("log-level", "", "log level (overrides config)")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.JournalPath = *dbPath
	}
	if *level != "" {
		cfg.LogLevel = *level
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	// Optional durability: journal pending reminders and replay them on boot.
	var jrnl scheduler.Journal
	var replay []scheduler.JobRecord
	if cfg.JournalPath != "" {
		dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.JournalPath)
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			log.Fatal().Err(err).Msg("open journal db")
		}
		defer db.Close()
		db.SetMaxOpenConns(1) // SQLite single writer

		if err := journal.EnsureSchema(db); err != nil {
			log.Fatal().Err(err).Msg("ensure journal schema")
		}
		j := journal.New(db)
		jrnl = j
		replay, err = j.Pending(context.Background())
		if err != nil {
			log.Fatal().Err(err).Msg("load journaled reminders")
		}
	}

	webhook := dispatch.NewWebhook(dispatch.Options{
		Timeout:    cfg.DeliverTimeout.Std(),
		RatePerSec: cfg.DeliverRatePerSec,
		Log:        log.With().Str("component", "dispatch").Logger(),
	})
	sched := scheduler.New(webhook, scheduler.Options{
		Journal:     jrnl,
		MaxInFlight: cfg.MaxInFlight,
		Log:         log.With().Str("component", "scheduler").Logger(),
	})
	for _, rec := range replay {
		if _, err := sched.Schedule(rec); err != nil {
			log.Warn().Err(err).Str("id", rec.ID).Msg("skipping journaled reminder")
		}
	}
	sched.Start()
	defer sched.Stop()
	if n := len(replay); n > 0 {
		log.Info().Int("replayed", n).Msg("restored journaled reminders")
	}

	auth, err := pushauth.New(pushauth.Options{
		VerifyTimeout: cfg.VerifyTimeout.Std(),
		SendTimeout:   cfg.DeliverTimeout.Std(),
		Log:           log.With().Str("component", "pushauth").Logger(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init push authenticator")
	}

	store := task.NewStore()
	events := broker.New()
	plan := planner.NewReminderPlanner(sched, cfg.DefaultWebhookURL)
	mgr := taskmanager.New(store, events, plan, auth, log.With().Str("component", "taskmanager").Logger())

	srv := &http.Server{Addr: cfg.Addr, Handler: api.NewServer(sched, mgr, auth)}
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}
