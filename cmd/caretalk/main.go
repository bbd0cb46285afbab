package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caretalk/caretalk/pkg/caretalk"
	"github.com/caretalk/caretalk/pkg/configutil"
	"github.com/caretalk/caretalk/pkg/convo"
	"github.com/caretalk/caretalk/pkg/gateway"
	"github.com/caretalk/caretalk/pkg/location"
	"github.com/caretalk/caretalk/pkg/logging"
	"github.com/caretalk/caretalk/pkg/metrics"
	"github.com/caretalk/caretalk/pkg/observers"
	"github.com/caretalk/caretalk/pkg/resilience"
	"github.com/caretalk/caretalk/pkg/runner"
	"github.com/caretalk/caretalk/pkg/speech"
	"github.com/caretalk/caretalk/pkg/vision"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := caretalk.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	slog.SetDefault(log)

	backendTimeout := configutil.DurationMS(cfg.Backend.TimeoutMS, 0)
	chat := convo.NewClient(cfg.Backend.BaseURL, cfg.Backend.UserID, backendTimeout, log)
	visionClient := vision.NewClient(cfg.Backend.BaseURL, cfg.Backend.UserID, backendTimeout, log)

	fallback, err := caretalk.BuildRecognizerFactory(cfg.Capture)
	if err != nil {
		log.Error("capture provider setup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	observer := observers.NewMultiObserver(
		metrics.NewMemoryObserver(),
		observers.NewLoggerObserver(log),
	)

	fixes := location.NewPushSource()
	var reporter *location.Reporter
	if cfg.Location.Enabled {
		sender := location.NewClient(cfg.Backend.BaseURL, cfg.Backend.UserID, backendTimeout)
		reporter = location.NewReporter(
			fixes,
			sender,
			configutil.DurationMS(cfg.Location.IntervalMS, time.Minute),
			resilience.NewRetryPolicy(cfg.Location.MaxRetries, configutil.DurationMS(cfg.Location.RetryBackoffMS, 2*time.Second)),
			log,
		)
	}

	gw := gateway.New(
		gateway.Config{
			Addr:           cfg.Gateway.Addr,
			Path:           cfg.Gateway.Path,
			AllowAnyOrigin: cfg.Gateway.AllowAnyOrigin,
			AllowedOrigins: cfg.Gateway.AllowedOrigins,
		},
		gateway.Deps{
			Exchange:  chat,
			Vision:    visionClient,
			Locations: fixes,
			Fallback:  fallback,
			Preference: speech.Preference{
				Locale:   cfg.Voice.Locale,
				NameHint: cfg.Voice.NameHint,
				Rate:     cfg.Voice.Rate,
				Pitch:    cfg.Voice.Pitch,
			},
			Observer: observer,
			Logger:   log,
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lr := runner.NewLifecycleRunner(drainFunc(gw.Stop), runner.Hooks{
		OnStart: func() {
			if err := gw.Start(ctx); err != nil {
				log.Error("gateway start failed", slog.String("error", err.Error()))
				stop()
				return
			}
			if reporter != nil {
				reporter.Start(ctx)
			}
			log.Info("caretalk started",
				slog.String("environment", cfg.Environment),
				slog.String("backend", cfg.Backend.BaseURL))
		},
		OnStop: func() {
			if reporter != nil {
				reporter.Stop()
			}
			log.Info("caretalk stopped")
		},
	}, 10*time.Second)

	if err := lr.Run(ctx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

type drainFunc func() error

func (f drainFunc) Drain() error { return f() }
