// Package app assembles the bot: config, logging, storage, the tracker
// client, the job dispatcher, and the poller that drives it all.
package app

import (
	"context"
	"fmt"
	"sync"

	"govbot/internal/config"
	"govbot/internal/decision"
	"govbot/internal/jobs"
	"govbot/internal/poller"
	"govbot/internal/storage"
	"govbot/internal/tracker"
	logx "govbot/pkg/logx"
)

type App struct {
	cfgMgr *config.ConfigManager
	logSvc *logx.Service
	log    logx.Logger

	store      *storage.Store
	tracker    tracker.Client
	dispatcher *jobs.Dispatcher
	workflow   *decision.Workflow
	poller     *poller.Service

	wg       sync.WaitGroup
	stopOnce sync.Once
	cancel   context.CancelFunc
}

// New builds the whole application from the config file at cfgPath.
func New(cfgPath string) (*App, error) {
	mgr := config.NewConfigManager(cfgPath)
	mgr.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log)

	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	tc := tracker.NewHTTPClient(tracker.HTTPConfig{
		BaseURL:     cfg.Tracker.BaseURL,
		TeamBaseURL: cfg.Tracker.TeamBaseURL,
		Token:       cfg.Tracker.Token,
		RatePerSec:  cfg.Tracker.RatePerSec,
	}, log)

	workflow := decision.NewWorkflow(store, store, tc, log)
	dispatcher := jobs.NewDispatcher(log,
		decision.NewResolutionHandler(store, tc, log),
	)

	pollerCfg, err := pollerConfig(cfg)
	if err != nil {
		return nil, err
	}
	p := poller.New(pollerCfg, store, dispatcher, log)

	return &App{
		cfgMgr:     mgr,
		logSvc:     logSvc,
		log:        log,
		store:      store,
		tracker:    tc,
		dispatcher: dispatcher,
		workflow:   workflow,
		poller:     p,
	}, nil
}

func pollerConfig(cfg *config.Config) (poller.Config, error) {
	interval, err := config.ParseDurationOrDefault("poller.interval", cfg.Poller.Interval, 0)
	if err != nil {
		return poller.Config{}, err
	}
	timeout, err := config.ParseDurationField("poller.job_timeout", cfg.Poller.JobTimeout)
	if err != nil {
		return poller.Config{}, err
	}
	return poller.Config{
		Enabled:    cfg.Poller.Enabled,
		Interval:   interval,
		JobTimeout: timeout,
	}, nil
}

// Workflow is the command surface: the upstream command parser hands parsed
// vote commands here.
func (a *App) Workflow() *decision.Workflow { return a.workflow }

// Dispatcher is the job surface, mainly useful for ad-hoc invocation in
// tooling and tests; the poller uses it directly.
func (a *App) Dispatcher() *jobs.Dispatcher { return a.dispatcher }

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.poller.Start(runCtx)

	// Hot reload: logging + poller settings follow the config file.
	sub := a.cfgMgr.Subscribe(1)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		_ = a.cfgMgr.Watch(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(runCtx, cfg)
			}
		}
	}()

	a.log.Info("govbot started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	pcfg, err := pollerConfig(cfg)
	if err != nil {
		a.log.Warn("ignoring poller config update", logx.Err(err))
		return
	}
	a.poller.Apply(ctx, pcfg)
	a.log.Info("config applied")
}

func (a *App) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		a.poller.Stop(ctx)
		a.wg.Wait()
		if err := a.store.Close(); err != nil {
			a.log.Warn("closing storage", logx.Err(err))
		}
		a.log.Info("govbot stopped")
		_ = a.logSvc.Close()
	})
	return nil
}
