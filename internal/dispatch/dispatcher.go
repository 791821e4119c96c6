// Package dispatch runs the generation job state machine: it drains the
// admission queue, submits jobs to the backend, polls them to a terminal
// state, and settles the record store and credit ledger on the outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pixelbot/internal/backend"
	"pixelbot/internal/domain"
	"pixelbot/internal/queue"
	"pixelbot/internal/telegram"
)

// settleTimeout bounds the settlement writes made after the worker context
// is already cancelled.
const settleTimeout = 10 * time.Second

// Backend submits jobs and reports their status.
type Backend interface {
	Submit(ctx context.Context, prompt string) (string, error)
	Poll(ctx context.Context, handle string) (backend.PollResult, error)
}

// Notifier delivers results back to the user.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text, parseMode string) error
	SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string) error
}

// Settler is the slice of the credit ledger the dispatcher needs.
type Settler interface {
	Refund(ctx context.Context, userID, generationID int64, kind domain.DebitKind) error
	NoteGenerated(ctx context.Context, userID int64) error
}

// Config wires a Dispatcher.
type Config struct {
	Queue        *queue.Queue
	Gate         *queue.Gate
	Backend      Backend
	Notifier     Notifier
	Generations  domain.GenerationRepository
	Ledger       Settler
	Logger       zerolog.Logger
	Workers      int
	PollInterval time.Duration
	MaxPollTime  time.Duration
}

// Dispatcher owns the in-memory representation of every active job. Workers
// share nothing mutable except the ledger and the record store, which provide
// their own atomicity.
type Dispatcher struct {
	queue        *queue.Queue
	gate         *queue.Gate
	backend      Backend
	notifier     Notifier
	generations  domain.GenerationRepository
	ledger       Settler
	logger       zerolog.Logger
	workers      int
	pollInterval time.Duration
	maxPollTime  time.Duration
	wg           sync.WaitGroup
}

// New constructs a Dispatcher from the config.
func New(cfg Config) *Dispatcher {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		queue:        cfg.Queue,
		gate:         cfg.Gate,
		backend:      cfg.Backend,
		notifier:     cfg.Notifier,
		generations:  cfg.Generations,
		ledger:       cfg.Ledger,
		logger:       cfg.Logger,
		workers:      workers,
		pollInterval: cfg.PollInterval,
		maxPollTime:  cfg.MaxPollTime,
	}
}

// Start launches the worker pool. Workers stop when ctx is cancelled; jobs
// already dequeued run to their terminal state first.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.run(ctx, id)
		}(i + 1)
	}
}

// Wait blocks until all workers and reconciliation goroutines have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, workerID int) {
	d.logger.Info().Int("worker", workerID).Msg("dispatch: worker started")
	for {
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			d.logger.Info().Int("worker", workerID).Msg("dispatch: worker stopped")
			return
		}
		d.process(ctx, item)
	}
}

// process drives one admitted job through its full state machine.
func (d *Dispatcher) process(ctx context.Context, item queue.Item) {
	defer d.gate.Release(item.UserID)

	lang := telegram.MatchLang(item.LangCode)
	d.logger.Info().Int64("generation_id", item.GenerationID).Int64("user_id", item.UserID).Msg("dispatch: picked job")
	d.notifyText(ctx, item.UserID, lang.Generating())

	handle, err := d.backend.Submit(ctx, item.Prompt)
	if err != nil {
		// queued -> submitted -> failed, polling skipped.
		d.logger.Error().Err(err).Int64("generation_id", item.GenerationID).Msg("dispatch: submit failed")
		d.settleFailure(ctx, item.GenerationID, item.UserID, item.DebitKind, domain.StatusFailed, err, lang.Failed(err.Error()))
		return
	}

	if err := d.generations.MarkSubmitted(ctx, item.GenerationID, handle); err != nil {
		d.logger.Error().Err(err).Int64("generation_id", item.GenerationID).Msg("dispatch: record submit failed")
	}
	if err := d.generations.MarkPolling(ctx, item.GenerationID); err != nil {
		d.logger.Error().Err(err).Int64("generation_id", item.GenerationID).Msg("dispatch: record polling failed")
	}

	d.pollToSettlement(ctx, item.GenerationID, item.UserID, item.Prompt, item.DebitKind, handle, lang)
}

// pollToSettlement polls the handle until the backend answers terminally or
// the poll budget runs out, then settles store, ledger and user notification.
// The budget is measured from now, i.e. from the submitted transition.
func (d *Dispatcher) pollToSettlement(ctx context.Context, genID, userID int64, prompt string, kind domain.DebitKind, handle string, lang telegram.Lang) {
	deadline := time.Now().Add(d.maxPollTime)

	for {
		res, err := d.backend.Poll(ctx, handle)
		if err != nil {
			// Transient poll failures keep the job alive until the budget runs out.
			d.logger.Warn().Err(err).Int64("generation_id", genID).Msg("dispatch: poll error")
			res = backend.PollResult{State: backend.StatePending}
		}

		switch res.State {
		case backend.StateCompleted:
			d.settleSuccess(ctx, genID, userID, prompt, res.Image, lang)
			return
		case backend.StateFailed:
			d.settleFailure(ctx, genID, userID, kind, domain.StatusFailed,
				fmt.Errorf("%w: %s", domain.ErrBackendFailure, res.Reason), lang.Failed(res.Reason))
			return
		}

		if time.Now().After(deadline) {
			d.settleFailure(ctx, genID, userID, kind, domain.StatusTimedOut,
				fmt.Errorf("%w: no terminal response within %s", domain.ErrTimedOut, d.maxPollTime), lang.TimedOut())
			return
		}

		select {
		case <-time.After(d.pollInterval):
		case <-ctx.Done():
			// Shutdown mid-poll: settle as timed out so the ledger is never
			// left holding an unsettled debit. The worker context is already
			// cancelled, so the settlement writes need a detached one.
			settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
			d.settleFailure(settleCtx, genID, userID, kind, domain.StatusTimedOut,
				fmt.Errorf("%w: shutdown during polling", domain.ErrTimedOut), lang.TimedOut())
			cancel()
			return
		}
	}
}

func (d *Dispatcher) settleSuccess(ctx context.Context, genID, userID int64, prompt string, image []byte, lang telegram.Lang) {
	if err := d.generations.Finish(ctx, genID, domain.StatusCompleted, ""); err != nil {
		d.logger.Error().Err(err).Int64("generation_id", genID).Msg("dispatch: record completion failed")
	}
	if err := d.ledger.NoteGenerated(ctx, userID); err != nil {
		d.logger.Error().Err(err).Int64("user_id", userID).Msg("dispatch: count generation failed")
	}
	if err := d.notifier.SendPhoto(ctx, userID, image, lang.Completed(prompt)); err != nil {
		d.logger.Error().Err(err).Int64("generation_id", genID).Msg("dispatch: deliver photo failed")
	}
	d.logger.Info().Int64("generation_id", genID).Msg("dispatch: completed")
}

func (d *Dispatcher) settleFailure(ctx context.Context, genID, userID int64, kind domain.DebitKind, status domain.GenerationStatus, cause error, userText string) {
	reason := cause.Error()
	if err := d.generations.Finish(ctx, genID, status, reason); err != nil {
		d.logger.Error().Err(err).Int64("generation_id", genID).Msg("dispatch: record failure failed")
	}
	if err := d.ledger.Refund(ctx, userID, genID, kind); err != nil {
		d.logger.Error().Err(err).Int64("generation_id", genID).Msg("dispatch: refund failed")
	}
	d.notifyText(ctx, userID, userText)
	d.logger.Info().Int64("generation_id", genID).Str("status", string(status)).Str("reason", reason).Msg("dispatch: settled failure")
}

func (d *Dispatcher) notifyText(ctx context.Context, userID int64, text string) {
	if err := d.notifier.SendMessage(ctx, userID, text, ""); err != nil {
		d.logger.Error().Err(err).Int64("user_id", userID).Msg("dispatch: deliver message failed")
	}
}

// Reconcile settles jobs stranded in a non-terminal state by a previous
// crash. Jobs with a stored handle re-enter polling with a fresh budget;
// jobs that never got a handle are failed and refunded. Run before Start
// accepts new work.
func (d *Dispatcher) Reconcile(ctx context.Context) error {
	stranded, err := d.generations.ListUnsettled(ctx)
	if err != nil {
		return fmt.Errorf("dispatch: list unsettled: %w", err)
	}
	if len(stranded) == 0 {
		return nil
	}
	d.logger.Info().Int("count", len(stranded)).Msg("dispatch: reconciling stranded jobs")

	for _, gen := range stranded {
		if gen.JobHandle == "" {
			d.settleFailure(ctx, gen.ID, gen.UserID, gen.DebitKind, domain.StatusFailed,
				errors.New("interrupted before submission completed"), telegram.LangEN.Failed("service restarted"))
			continue
		}
		if err := d.generations.MarkPolling(ctx, gen.ID); err != nil {
			d.logger.Error().Err(err).Int64("generation_id", gen.ID).Msg("dispatch: record polling failed")
		}
		g := gen
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.pollToSettlement(ctx, g.ID, g.UserID, g.Prompt, g.DebitKind, g.JobHandle, telegram.LangEN)
		}()
	}
	return nil
}

// QueueDepth reports admitted jobs waiting for a worker, for health output.
func (d *Dispatcher) QueueDepth() int {
	return d.queue.Len()
}

var _ Backend = (*backend.Client)(nil)
