package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const sweepTimeout = 2 * time.Minute

// DuplicateSweeper is the store operation the sweeper runs.
type DuplicateSweeper interface {
	SweepDuplicates(ctx context.Context) (int64, error)
}

// Sweeper periodically removes duplicate messages that slipped past the
// ingestion check, for example through backfill imports.
type Sweeper struct {
	store  DuplicateSweeper
	logger *slog.Logger
	cron   *cron.Cron
}

// NewSweeper creates an idle sweeper.
func NewSweeper(log *slog.Logger, store DuplicateSweeper) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Sweeper{
		store:  store,
		logger: log.With(slog.String("service", "sweeper")),
		cron:   cron.New(cron.WithParser(parser)),
	}
}

// Start schedules the sweep with a cron pattern (descriptors like
// "@every 1h" are accepted) and begins running.
func (s *Sweeper) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.Info("duplicate sweeper started", slog.String("schedule", schedule))
	return nil
}

func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("scheduled sweep failed", slog.Any("error", err))
	}
}

// Sweep runs one pass immediately. The maintenance endpoint calls this.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	removed, err := s.store.SweepDuplicates(ctx)
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
