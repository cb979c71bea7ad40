package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/timmy/catalogsync/internal/app"
	"github.com/timmy/catalogsync/internal/config"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/service"
	"gopkg.in/yaml.v3"
)

func main() {
	envCfg := logger.LoadFromEnv()
	envCfg.ServiceName = "catalogsync-ingest"
	appLogger := logger.NewFromEnv(envCfg)
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	job := flag.String("job", service.JobFetch, "Job to run: "+strings.Join(service.Jobs, ", ")+"; process runs as its own invocation")
	limit := flag.Int("limit", 0, "Maximum number of items per stage (0 uses the configured batch size)")
	preview := flag.Bool("preview", false, "Print what the next refresh run would do and exit")
	dryRun := flag.Bool("dry-run", false, "Report the selection only: no claims, fetches or records")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize components")
	}
	defer a.Close()

	if *preview {
		report, err := a.Tracker.Preview(ctx, a.Tracker.Now())
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to build refresh preview")
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			appLogger.WithError(err).Fatal("Failed to print refresh preview")
		}
		return
	}

	appLogger.WithFields(logger.Fields{
		"job":     *job,
		"limit":   *limit,
		"dry_run": *dryRun,
	}).Info("Starting job")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	res, err := a.Runner.Run(ctx, *job, service.JobOptions{Limit: *limit, DryRun: *dryRun})
	if res != nil {
		if out, mErr := yaml.Marshal(res); mErr == nil {
			os.Stdout.Write(out)
		}
	}
	if err != nil {
		entry := appLogger.WithError(err)
		if errors.Is(err, domain.ErrFatalAuth) {
			entry.Fatal("Job aborted: remote service rejected credentials")
		}
		entry.Fatal("Job failed")
	}
	appLogger.WithField("job", *job).Info("Job completed")
}
