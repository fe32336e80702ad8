// Package app wires the process together: config, logging, storage, the
// intent adapter, the scheduling pipeline, and retention.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"momentra/internal/config"
	"momentra/internal/intent"
	"momentra/internal/pipeline"
	"momentra/internal/retention"
	"momentra/internal/storage"
	logx "momentra/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config

	logs *logx.Service
	log  logx.Logger

	store   storage.Store
	adapter intent.Adapter
	pipe    *pipeline.Service
	ret     *retention.Service

	cfgCh chan *config.Config
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(func(ctx context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	adapter, temperature, err := buildAdapter(context.Background(), cfg, log)
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}

	pipe := pipeline.New(store, adapter, cfg.Defaults, temperature, log)

	var ret *retention.Service
	if cfg.Retention != nil && cfg.Retention.Enabled {
		ret = retention.New(store, retention.Config{
			Schedule: cfg.Retention.Schedule,
			MaxAge:   cfg.RetentionMaxAge(),
		}, log)
	}

	return &App{
		cfgm:    cfgm,
		cfg:     cfg,
		logs:    logSvc,
		log:     log,
		store:   store,
		adapter: adapter,
		pipe:    pipe,
		ret:     ret,
	}, nil
}

// buildAdapter picks the intent adapter from config. Without a provider or
// an API key the offline mock keeps the pipeline usable.
func buildAdapter(ctx context.Context, cfg *config.Config, log logx.Logger) (intent.Adapter, float64, error) {
	ac := cfg.Adapter
	if ac == nil || ac.Provider == "" || ac.Provider == "mock" {
		return intent.NewMock(log), 0, nil
	}
	if ac.Provider != "gemini" {
		return nil, 0, fmt.Errorf("adapter.provider %q is not supported", ac.Provider)
	}

	keyEnv := ac.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "GEMINI_API_KEY"
	}
	apiKey := strings.TrimSpace(os.Getenv(keyEnv))
	if apiKey == "" {
		log.Warn("no api key in environment, using offline mock",
			logx.String("env", keyEnv))
		return intent.NewMock(log), 0, nil
	}

	timeout, err := config.ParseDurationOrDefault("adapter.timeout", ac.Timeout, 30*time.Second)
	if err != nil {
		return nil, 0, err
	}
	gem, err := intent.NewGemini(ctx, intent.GeminiConfig{
		Model:      ac.Model,
		APIKey:     apiKey,
		RatePerMin: ac.RatePerMin,
		Timeout:    timeout,
	}, log)
	if err != nil {
		return nil, 0, err
	}
	return gem, ac.Temperature, nil
}

// Start begins the config watch and the retention schedule. It returns
// immediately; long-lived work runs until Stop.
func (a *App) Start(ctx context.Context) error {
	a.cfgCh = a.cfgm.Subscribe(1)
	go a.watchConfig(ctx)
	go func() {
		if err := a.cfgm.Watch(ctx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	if a.ret != nil {
		if err := a.ret.Start(ctx); err != nil {
			return err
		}
	}
	a.log.Info("started", logx.String("storage", a.cfg.Storage.Path))
	return nil
}

// watchConfig applies hot-reloadable settings; everything else requires a
// restart and is only logged.
func (a *App) watchConfig(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.cfgCh:
			if !ok {
				return
			}
			changed, attrs := config.SummarizeConfigChange(a.cfg, cfg)
			if len(changed) == 0 {
				continue
			}
			a.log.Info("config changed", append(attrs, logx.Any("sections", changed))...)
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.cfg = cfg
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.ret != nil {
		a.ret.Stop()
	}
	if a.cfgCh != nil {
		a.cfgm.Unsubscribe(a.cfgCh)
	}
	err := a.store.Close()
	a.logs.Close()
	return err
}

// Pipeline exposes the user-facing operation set.
func (a *App) Pipeline() *pipeline.Service { return a.pipe }

// Retention exposes the purge service when enabled.
func (a *App) Retention() *retention.Service { return a.ret }

// Store exposes the persistence layer for maintenance commands.
func (a *App) Store() storage.Store { return a.store }

// Log returns the application logger.
func (a *App) Log() logx.Logger { return a.log }
