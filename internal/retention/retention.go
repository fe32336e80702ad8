// Package retention purges tasks whose end lies past the configured age,
// on a cron cadence.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"momentra/internal/storage"
	logx "momentra/pkg/logx"
)

// Config controls the purge service.
type Config struct {
	Schedule string        // cron spec, 5 fields or @descriptor
	MaxAge   time.Duration // tasks ending earlier than now-MaxAge are removed
}

const (
	// Off-peak default so the purge never races user activity.
	DefaultSchedule = "17 3 * * *"
	DefaultMaxAge   = 90 * 24 * time.Hour
)

// Service runs the retention purge.
type Service struct {
	store  storage.Store
	cfg    Config
	log    logx.Logger
	cron   *cron.Cron
	parser cron.Parser
}

func New(st storage.Store, cfg Config, log logx.Logger) *Service {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store:  st,
		cfg:    cfg,
		log:    log.With(logx.String("component", "retention")),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start validates the schedule and begins running purges until Stop.
func (s *Service) Start(ctx context.Context) error {
	if _, err := s.parser.Parse(s.cfg.Schedule); err != nil {
		return fmt.Errorf("retention: bad schedule %q: %w", s.cfg.Schedule, err)
	}
	s.cron = cron.New(cron.WithParser(s.parser))
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Error("purge failed", logx.Err(err))
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("retention started",
		logx.String("schedule", s.cfg.Schedule),
		logx.Duration("max_age", s.cfg.MaxAge))
	return nil
}

// Stop halts scheduling; a purge in flight finishes.
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// RunOnce purges immediately and reports the number of removed tasks.
func (s *Service) RunOnce(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.MaxAge)
	n, err := s.store.PurgeTasksBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("purged expired tasks",
			logx.Int64("count", n),
			logx.Time("cutoff", cutoff))
	}
	return n, nil
}
