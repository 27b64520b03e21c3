package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Relay is a long-running consumer of committed engine events.
type Relay interface {
	Run(ctx context.Context) error
}

// Orchestrator supervises the event relay and the archive schedule.
type Orchestrator struct {
	relay       Relay
	archiver    *Archiver
	archiveCron string
	logger      *slog.Logger
}

// NewOrchestrator wires the background jobs. relay or archiver may be nil
// when the mode does not run them.
func NewOrchestrator(relay Relay, archiver *Archiver, archiveCron string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		relay:       relay,
		archiver:    archiver,
		archiveCron: archiveCron,
		logger:      logger.With(slog.String("component", "pipeline")),
	}
}

// Run blocks until ctx is cancelled or one of the jobs fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Bool("relay", o.relay != nil),
		slog.String("archive_cron", o.archiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.relay != nil {
		g.Go(func() error {
			err := o.relay.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("event relay: %w", err)
		})
	}

	if o.archiver != nil && o.archiveCron != "" {
		g.Go(func() error {
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
