package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/onemanvan/fsm/internal/shared"
)

// conflictRetries bounds re-runs of a unit that lost a race.
const conflictRetries = 3

// Engine dispatches status transitions to their side effects. Each trigger runs
// guard, build and back-reference writes inside one unit of work.
type Engine struct {
	repo      RepositoryPort
	guard     Guard
	balances  BalanceReconciler
	notifier  Notifier
	validator *validator.Validate
	logger    *slog.Logger
	clock     func() time.Time
}

// NewEngine builds an Engine. notifier and logger may be nil.
func NewEngine(repo RepositoryPort, notifier Notifier, logger *slog.Logger) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:      repo,
		notifier:  notifier,
		validator: validator.New(),
		logger:    logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (e *Engine) WithClock(clock func() time.Time) {
	if e != nil && clock != nil {
		e.clock = clock
	}
}

// unit carries the transaction, the instant captured for it and the
// notifications to publish after commit.
type unit struct {
	tx     TxRepository
	now    time.Time
	outbox []Notification
}

func (u *unit) notify(n Notification) {
	n.At = u.now
	u.outbox = append(u.outbox, n)
}

func (e *Engine) run(ctx context.Context, fn func(context.Context, *unit) error) error {
	var pending []Notification
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		u := &unit{tx: tx, now: e.clock()}
		if err := fn(ctx, u); err != nil {
			return err
		}
		pending = u.outbox
		return nil
	})
	if err != nil {
		return err
	}
	e.publish(ctx, pending)
	return nil
}

// runRetry re-runs units whose guards make re-application idempotent. A re-run
// either finds the derivative the winner committed or builds it against fresh
// state. A conflict that survives every attempt is returned.
func (e *Engine) runRetry(ctx context.Context, fn func(context.Context, *unit) error) error {
	var err error
	for attempt := 1; attempt <= conflictRetries; attempt++ {
		err = e.run(ctx, fn)
		if !errors.Is(err, shared.ErrConflict) {
			return err
		}
		e.logger.Warn("unit of work lost a race, retrying", slog.Int("attempt", attempt), slog.Any("error", err))
	}
	return err
}

func (e *Engine) publish(ctx context.Context, pending []Notification) {
	for _, n := range pending {
		if err := e.notifier.Notify(ctx, n); err != nil {
			e.logger.Warn("post-commit notification failed",
				slog.String("kind", string(n.Kind)),
				slog.Int64("entity_id", n.EntityID),
				slog.Any("error", err))
		}
	}
}

// OnEstimateStatusChanged runs the side effects of an estimate status the
// caller has already written.
func (e *Engine) OnEstimateStatusChanged(ctx context.Context, estimate *Estimate, previous, next EstimateStatus) error {
	if estimate == nil {
		return fmt.Errorf("%w: estimate required", shared.ErrValidation)
	}
	if !estimateTriggers(previous, next) {
		return nil
	}
	return e.runRetry(ctx, func(ctx context.Context, u *unit) error {
		current, err := u.tx.GetEstimate(ctx, estimate.ID)
		if err != nil {
			return fmt.Errorf("load estimate %d: %w", estimate.ID, err)
		}
		if current.Status != EstimateApproved {
			e.logger.Info("estimate no longer approved, skipping job build",
				slog.Int64("estimate_id", current.ID), slog.String("status", string(current.Status)))
			return nil
		}
		_, _, err = e.buildJobFromEstimate(ctx, u, current)
		return err
	})
}

// OnJobStatusChanged runs the side effects of a job status the caller has
// already written. Completion is recognised from a status that was not done.
func (e *Engine) OnJobStatusChanged(ctx context.Context, job *Job, previous, next JobStatus) error {
	if job == nil {
		return fmt.Errorf("%w: job required", shared.ErrValidation)
	}
	if !jobCompletes(previous, next) {
		return nil
	}
	return e.runRetry(ctx, func(ctx context.Context, u *unit) error {
		current, err := u.tx.GetJob(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("load job %d: %w", job.ID, err)
		}
		if !current.Status.IsDone() {
			e.logger.Info("job no longer done, skipping completion",
				slog.Int64("job_id", current.ID), slog.String("status", string(current.Status)))
			return nil
		}
		return e.completeJob(ctx, u, current)
	})
}

// OnInvoiceStatusChanged runs the side effects of an invoice status the caller
// has already written.
func (e *Engine) OnInvoiceStatusChanged(ctx context.Context, invoice *Invoice, previous, next InvoiceStatus) error {
	if invoice == nil {
		return fmt.Errorf("%w: invoice required", shared.ErrValidation)
	}
	if previous == next {
		return nil
	}
	return e.runRetry(ctx, func(ctx context.Context, u *unit) error {
		current, err := u.tx.GetInvoice(ctx, invoice.ID)
		if err != nil {
			return fmt.Errorf("load invoice %d: %w", invoice.ID, err)
		}
		return e.invoiceStatusChanged(ctx, u, current)
	})
}

// OnPaymentRecorded applies a created or completed payment to its invoice.
func (e *Engine) OnPaymentRecorded(ctx context.Context, payment Payment) error {
	if err := e.validator.Struct(payment); err != nil {
		return fmt.Errorf("%w: payment: %v", shared.ErrValidation, err)
	}
	if !payment.Amount.IsPositive() {
		return fmt.Errorf("%w: payment amount must be positive", shared.ErrValidation)
	}
	return e.runRetry(ctx, func(ctx context.Context, u *unit) error {
		return e.applyPayments(ctx, u, payment.InvoiceID)
	})
}

// RecomputeCustomerBalance refreshes a customer's balance in its own unit of
// work, for invoice writes that bypass the transition entry points.
func (e *Engine) RecomputeCustomerBalance(ctx context.Context, customerID int64) error {
	return e.runRetry(ctx, func(ctx context.Context, u *unit) error {
		_, err := e.balances.Recompute(ctx, u.tx, customerID)
		return err
	})
}

// TransitionEstimate writes a new estimate status and its side effects as one
// unit of work.
func (e *Engine) TransitionEstimate(ctx context.Context, id int64, next EstimateStatus) (*Estimate, error) {
	var out *Estimate
	err := e.run(ctx, func(ctx context.Context, u *unit) error {
		estimate, err := u.tx.GetEstimate(ctx, id)
		if err != nil {
			return fmt.Errorf("load estimate %d: %w", id, err)
		}
		previous := estimate.Status
		out = estimate
		if previous == next {
			return nil
		}
		if err := u.tx.UpdateEstimateStatus(ctx, id, next); err != nil {
			return fmt.Errorf("update estimate status: %w", err)
		}
		estimate.Status = next
		if estimateTriggers(previous, next) {
			jobID, _, err := e.buildJobFromEstimate(ctx, u, estimate)
			if err != nil {
				return err
			}
			estimate.JobID = &jobID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TransitionJob writes a new job status and its side effects as one unit of
// work. CompletedDate is stamped on entering a done status and cleared on
// leaving it.
func (e *Engine) TransitionJob(ctx context.Context, id int64, next JobStatus) (*Job, error) {
	var out *Job
	err := e.run(ctx, func(ctx context.Context, u *unit) error {
		job, err := u.tx.GetJob(ctx, id)
		if err != nil {
			return fmt.Errorf("load job %d: %w", id, err)
		}
		out = job
		if job.Status == next {
			return nil
		}
		wasDone := job.CompletedDate != nil
		completed := job.CompletedDate
		switch {
		case next.IsDone() && completed == nil:
			at := u.now
			completed = &at
		case !next.IsDone():
			completed = nil
		}
		if err := u.tx.UpdateJobStatus(ctx, id, next, completed); err != nil {
			return fmt.Errorf("update job status: %w", err)
		}
		job.Status = next
		job.CompletedDate = completed

		switch {
		case next == JobCompleted && !wasDone:
			return e.completeJob(ctx, u, job)
		case wasDone && !next.IsDone() && job.AgreementID != nil:
			return e.refreshAgreementVisits(ctx, u, *job.AgreementID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TransitionInvoice writes a new invoice status and its side effects as one
// unit of work. Paid is reached only through payments and Void is final.
func (e *Engine) TransitionInvoice(ctx context.Context, id int64, next InvoiceStatus) (*Invoice, error) {
	var out *Invoice
	err := e.run(ctx, func(ctx context.Context, u *unit) error {
		invoice, err := u.tx.GetInvoice(ctx, id)
		if err != nil {
			return fmt.Errorf("load invoice %d: %w", id, err)
		}
		out = invoice
		if invoice.Status == next {
			return nil
		}
		if invoice.Status == InvoiceVoid {
			return fmt.Errorf("%w: invoice %s is void", shared.ErrInvalidState, invoice.Number)
		}
		if next == InvoicePaid {
			return fmt.Errorf("%w: invoice %s is paid by recording payments", shared.ErrInvalidState, invoice.Number)
		}
		if err := u.tx.UpdateInvoiceStatus(ctx, id, next); err != nil {
			return fmt.Errorf("update invoice status: %w", err)
		}
		invoice.Status = next
		return e.invoiceStatusChanged(ctx, u, invoice)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func estimateTriggers(previous, next EstimateStatus) bool {
	return next == EstimateApproved && previous != EstimateApproved
}

func jobCompletes(previous, next JobStatus) bool {
	return next == JobCompleted && !previous.IsDone()
}

// completeJob runs, in order, service history per linked asset, the asset
// last-service stamp and the invoice build.
func (e *Engine) completeJob(ctx context.Context, u *unit, job *Job) error {
	if job.CompletedDate == nil {
		at := u.now
		if err := u.tx.UpdateJobStatus(ctx, job.ID, job.Status, &at); err != nil {
			return fmt.Errorf("stamp job completion: %w", err)
		}
		job.CompletedDate = &at
	}
	links, err := u.tx.ListJobAssets(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("list job assets: %w", err)
	}
	if _, err := e.buildServiceHistory(ctx, u, job, links); err != nil {
		return err
	}
	for _, link := range links {
		if err := u.tx.SetAssetLastServiceDate(ctx, link.AssetID, *job.CompletedDate); err != nil {
			return fmt.Errorf("stamp asset %d last service: %w", link.AssetID, err)
		}
	}
	if _, _, err := e.buildInvoiceFromJob(ctx, u, job); err != nil {
		return err
	}
	if job.AgreementID != nil {
		return e.refreshAgreementVisits(ctx, u, *job.AgreementID)
	}
	return nil
}

func (e *Engine) invoiceStatusChanged(ctx context.Context, u *unit, invoice *Invoice) error {
	if invoice.Status == InvoiceVoid && invoice.JobID != nil {
		if err := e.detachVoidInvoice(ctx, u, invoice); err != nil {
			return err
		}
	}
	_, err := e.balances.Recompute(ctx, u.tx, invoice.CustomerID)
	return err
}

// detachVoidInvoice clears the owning job's pointer so a replacement invoice
// can be built.
func (e *Engine) detachVoidInvoice(ctx context.Context, u *unit, invoice *Invoice) error {
	job, err := u.tx.GetJob(ctx, *invoice.JobID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			e.logger.Info("voided invoice references a missing job",
				slog.Int64("invoice_id", invoice.ID), slog.Int64("job_id", *invoice.JobID))
			return nil
		}
		return fmt.Errorf("load job %d: %w", *invoice.JobID, err)
	}
	if job.InvoiceID == nil || *job.InvoiceID != invoice.ID {
		return nil
	}
	if err := u.tx.SetJobInvoice(ctx, job.ID, nil); err != nil {
		return fmt.Errorf("clear job invoice: %w", err)
	}
	e.logger.Info("cleared job invoice after void",
		slog.Int64("job_id", job.ID), slog.Int64("invoice_id", invoice.ID))
	return nil
}
