// Package app wires the application components together and owns their
// startup and shutdown order.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/mixforge/mixforge/internal/common"
	"github.com/mixforge/mixforge/internal/engine"
	"github.com/mixforge/mixforge/internal/fetcher"
	"github.com/mixforge/mixforge/internal/importer"
	"github.com/mixforge/mixforge/internal/interfaces"
	"github.com/mixforge/mixforge/internal/models"
	"github.com/mixforge/mixforge/internal/notify"
	"github.com/mixforge/mixforge/internal/queue"
	"github.com/mixforge/mixforge/internal/schedules"
	badgerstore "github.com/mixforge/mixforge/internal/storage/badger"
	"github.com/mixforge/mixforge/internal/storage/local"
	"github.com/mixforge/mixforge/internal/waveform"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	DB          *badgerstore.BadgerDB
	JobStore    interfaces.JobStore
	LockStore   interfaces.LockStore
	LedgerStore *badgerstore.LedgerStorage
	ObjectStore *local.ObjectStore

	// Queue
	QueueManager *queue.Manager
	WorkerPool   *queue.WorkerPool

	// Domain services
	Fetcher      *fetcher.Fetcher
	Analyzer     interfaces.Analyzer
	Engine       *engine.Engine
	Notifier     interfaces.Notifier
	Orchestrator *importer.Orchestrator
	Scheduler    *schedules.Scheduler
}

// New builds the full component graph from configuration. Nothing starts
// running until Start.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	// Storage layer
	db, err := badgerstore.NewBadgerDB(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.DB = db
	a.JobStore = badgerstore.NewJobStorage(db, logger)
	a.LockStore = badgerstore.NewLockStorage(db, logger)
	a.LedgerStore = badgerstore.NewLedgerStorage(db, logger)

	a.ObjectStore, err = local.NewObjectStore(&cfg.Storage.Filesystem, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize object store: %w", err)
	}

	// Queue layer
	a.QueueManager, err = queue.NewManager(
		db.Store().Badger(),
		cfg.Queue.QueueName,
		common.Duration(cfg.Queue.VisibilityTimeout, 5*time.Minute),
		cfg.Queue.MaxReceive,
		logger,
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}
	a.WorkerPool = queue.NewWorkerPool(
		a.QueueManager,
		cfg.Queue.Concurrency,
		common.Duration(cfg.Queue.PollInterval, time.Second),
		logger,
	)

	// Domain services
	a.Fetcher, err = fetcher.New(
		fetcher.WithLogger(logger),
		fetcher.WithSizeThreshold(cfg.Fetcher.SizeThresholdBytes),
		fetcher.WithMaxBodyBytes(cfg.Fetcher.MaxBodyBytes),
		fetcher.WithRateLimit(cfg.Fetcher.RateLimit),
		fetcher.WithTempDir(cfg.Storage.Filesystem.TempDir),
		fetcher.WithUserAgent(cfg.Fetcher.UserAgent),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize fetcher: %w", err)
	}

	var serviceClient *waveform.ServiceClient
	if cfg.Waveform.ServiceURL != "" {
		serviceClient = waveform.NewServiceClient(
			cfg.Waveform.ServiceURL,
			waveform.WithHTTPClient(&http.Client{
				Timeout: common.Duration(cfg.Waveform.RequestTimeout, waveform.DefaultTimeout),
			}),
			waveform.WithClientLogger(logger),
		)
	}
	a.Analyzer = waveform.NewAnalyzer(
		serviceClient,
		waveform.WithPeakCount(cfg.Waveform.PeakCount),
		waveform.WithLogger(logger),
	)

	a.Engine = engine.New(a.LockStore, logger)
	a.Notifier = notify.NewLogNotifier(logger)

	a.Orchestrator = importer.New(
		a.JobStore,
		a.ObjectStore,
		a.Fetcher,
		a.Analyzer,
		a.Engine,
		a.QueueManager,
		a.Notifier,
		importer.Config{
			MaxBatchBytes:  cfg.Fetcher.MaxBatchBytes,
			MaxAttempts:    cfg.Import.MaxAttempts,
			Backoff:        cfg.Import.BackoffSchedule(),
			AttemptTimeout: common.Duration(cfg.Import.AttemptTimeout, 15*time.Minute),
			LockTTL:        common.Duration(cfg.Import.LockTTL, 16*time.Minute),
		},
		logger,
	)

	a.WorkerPool.RegisterHandler(models.JobKindLinkImport, a.Orchestrator.HandleMessage)
	a.WorkerPool.RegisterHandler(models.JobKindAudioProcess, a.Orchestrator.HandleMessage)

	if err := a.registerSchedules(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) registerSchedules() error {
	a.Scheduler = schedules.NewScheduler(a.Logger)
	cfg := a.Config.Schedules

	// Disbursement is a stub until a payment gateway is wired in; the ledger
	// state machine is exercised either way.
	disburser := schedules.DisburserFunc(func(ctx context.Context, payout *models.Payout) error {
		a.Logger.Info().
			Str("payout_id", payout.ID).
			Int64("amount_cents", payout.AmountCents).
			Msg("Disbursement executed")
		return nil
	})

	registrations := []struct {
		processor schedules.Processor
		schedule  string
	}{
		{schedules.NewPayoutProcessor(a.LedgerStore, disburser, a.Notifier, a.Logger), cfg.Payouts},
		{schedules.NewDeadlineProcessor(a.LedgerStore, a.Notifier, a.Logger), cfg.Deadlines},
		{schedules.NewStaleJobProcessor(a.JobStore, common.Duration(cfg.StaleAfter, time.Hour), a.Logger), cfg.StaleJobs},
		{schedules.NewCleanupProcessor(a.ObjectStore, common.Duration(a.Config.Storage.Filesystem.ArtifactTTL, 24*time.Hour), a.Logger), cfg.Cleanup},
	}
	for _, r := range registrations {
		if r.schedule == "" {
			continue
		}
		if err := a.Scheduler.Register(r.processor, r.schedule); err != nil {
			return fmt.Errorf("failed to register %s processor: %w", r.processor.Name(), err)
		}
	}
	return nil
}

// Start brings up the workers and the schedule runner
func (a *App) Start() error {
	if err := a.WorkerPool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	if err := a.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	a.Logger.Info().
		Str("environment", a.Config.Environment).
		Msg("Application started")
	return nil
}

// Stop shuts components down in reverse order: no new schedule ticks, no
// new queue work, then the database.
func (a *App) Stop() error {
	a.Logger.Info().Msg("Shutting down")

	if err := a.Scheduler.Stop(); err != nil {
		a.Logger.Warn().Err(err).Msg("Scheduler stop failed")
	}
	if err := a.WorkerPool.Stop(); err != nil {
		a.Logger.Warn().Err(err).Msg("Worker pool stop failed")
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Database close failed")
		return err
	}
	a.Logger.Info().Msg("Shutdown complete")
	return nil
}
