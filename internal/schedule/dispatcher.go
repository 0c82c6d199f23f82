package schedule

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/vantage-io/vantage/internal/events"
)

// TriggerSink receives re-delivered triggers. The pipeline implements this.
type TriggerSink interface {
	HandleTrigger(ctx context.Context, trigger events.RunDecision) error
}

// Dispatcher sweeps the schedule store on a cron cadence and re-delivers due
// triggers to the sink.
type Dispatcher struct {
	cron  *cron.Cron
	store *Store
	sink  TriggerSink
}

// NewDispatcher creates a dispatcher over the store and sink.
func NewDispatcher(store *Store, sink TriggerSink) *Dispatcher {
	return &Dispatcher{
		cron:  cron.New(),
		store: store,
		sink:  sink,
	}
}

// Start registers the sweep (every minute, standard 5-field cron) and begins
// dispatching.
func (d *Dispatcher) Start() error {
	if _, err := d.cron.AddFunc("* * * * *", d.Sweep); err != nil {
		return err
	}
	d.cron.Start()
	return nil
}

// Stop halts the cron scheduler and waits for a running sweep to complete.
func (d *Dispatcher) Stop() {
	ctx := d.cron.Stop()
	<-ctx.Done()
}

// Sweep claims and dispatches all due entries once. Exported so tests and the
// serve command can run a sweep without waiting for the cron tick.
func (d *Dispatcher) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	due, err := d.store.Due(ctx, time.Now().UTC().Unix())
	if err != nil {
		log.Error().Err(err).Msg("deferred_sweep_failed")
		return
	}

	for _, entry := range due {
		claimed, err := d.store.Claim(ctx, entry.ID)
		if err != nil {
			log.Error().Err(err).Str("deferred_id", entry.ID).Msg("deferred_claim_failed")
			continue
		}
		if !claimed {
			continue
		}

		log.Info().
			Str("deferred_id", entry.ID).
			Str("account_id", entry.Trigger.AccountID).
			Str("trigger_type", entry.Trigger.TriggerType).
			Msg("deferred_trigger_fired")

		if err := d.sink.HandleTrigger(ctx, entry.Trigger); err != nil {
			log.Error().Err(err).
				Str("deferred_id", entry.ID).
				Str("account_id", entry.Trigger.AccountID).
				Msg("deferred_trigger_failed")
		}
	}
}
