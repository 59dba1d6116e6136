package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/onemanvan/fsm/internal/assets"
	jobmetrics "github.com/onemanvan/fsm/internal/jobs"
	"github.com/onemanvan/fsm/internal/shared"
	"github.com/onemanvan/fsm/internal/workflow"
)

const (
	// TaskWorkflowTransition moves an estimate, job or invoice to a new status.
	TaskWorkflowTransition = "workflow:transition"
	// TaskPaymentRecorded settles an invoice after a payment write.
	TaskPaymentRecorded = "workflow:payment"
	// TaskWarrantyRecalculate refreshes the warranty fields of one asset.
	TaskWarrantyRecalculate = "assets:warranty"
)

// TransitionPayload names the entity and its target status.
type TransitionPayload struct {
	Entity string `json:"entity" validate:"required,oneof=estimate job invoice"`
	ID     int64  `json:"id" validate:"gt=0"`
	Status string `json:"status" validate:"required"`
}

// PaymentPayload mirrors the payment row that was written.
type PaymentPayload struct {
	PaymentID int64  `json:"payment_id" validate:"gt=0"`
	InvoiceID int64  `json:"invoice_id" validate:"gt=0"`
	Amount    string `json:"amount" validate:"required,numeric"`
	Status    string `json:"status" validate:"required"`
}

// WarrantyPayload identifies the asset to recalculate.
type WarrantyPayload struct {
	AssetID int64 `json:"asset_id" validate:"gt=0"`
}

// Transitioner is the workflow surface driven by queued tasks.
type Transitioner interface {
	TransitionEstimate(ctx context.Context, id int64, next workflow.EstimateStatus) (*workflow.Estimate, error)
	TransitionJob(ctx context.Context, id int64, next workflow.JobStatus) (*workflow.Job, error)
	TransitionInvoice(ctx context.Context, id int64, next workflow.InvoiceStatus) (*workflow.Invoice, error)
	OnPaymentRecorded(ctx context.Context, payment workflow.Payment) error
}

// WarrantyRecalculator recomputes asset warranty expiries.
type WarrantyRecalculator interface {
	RecalculateWarranty(ctx context.Context, assetID int64) (*assets.Asset, error)
}

// WorkflowJob applies workflow tasks produced by the application after its own
// writes commit.
type WorkflowJob struct {
	Engine   Transitioner
	Warranty WarrantyRecalculator
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewWorkflowJob wires the workflow task handlers.
func NewWorkflowJob(engine Transitioner, warranty WarrantyRecalculator, logger *slog.Logger, metrics *jobmetrics.Metrics) *WorkflowJob {
	return &WorkflowJob{Engine: engine, Warranty: warranty, Logger: logger, Metrics: metrics}
}

// Handlers lists the task registrations served by the job.
func (j *WorkflowJob) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskWorkflowTransition, Handler: j.HandleTransition},
		{Type: TaskPaymentRecorded, Handler: j.HandlePayment},
		{Type: TaskWarrantyRecalculate, Handler: j.HandleWarranty},
	}
}

// NewTransitionTask builds a transition task.
func NewTransitionTask(entity string, id int64, status string) (*asynq.Task, error) {
	return newTask(TaskWorkflowTransition, TransitionPayload{Entity: entity, ID: id, Status: status})
}

// NewPaymentTask builds a payment-recorded task.
func NewPaymentTask(payment workflow.Payment) (*asynq.Task, error) {
	return newTask(TaskPaymentRecorded, PaymentPayload{
		PaymentID: payment.ID,
		InvoiceID: payment.InvoiceID,
		Amount:    payment.Amount.String(),
		Status:    string(payment.Status),
	})
}

// NewWarrantyTask builds a warranty recalculation task.
func NewWarrantyTask(assetID int64) (*asynq.Task, error) {
	return newTask(TaskWarrantyRecalculate, WarrantyPayload{AssetID: assetID})
}

func newTask(typ string, payload any) (*asynq.Task, error) {
	if err := payloadValidator.Struct(payload); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body, asynq.Queue(QueueDefault)), nil
}

// HandleTransition processes TaskWorkflowTransition tasks.
func (j *WorkflowJob) HandleTransition(ctx context.Context, t *asynq.Task) (resultErr error) {
	var payload TransitionPayload
	if err := j.decode(t, &payload); err != nil {
		return err
	}
	tracker := j.metrics().Track(TaskWorkflowTransition)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	logger := j.log().With(slog.String("entity", payload.Entity), slog.Int64("id", payload.ID), slog.String("status", payload.Status))

	var err error
	switch payload.Entity {
	case "estimate":
		var next workflow.EstimateStatus
		if next, err = workflow.ParseEstimateStatus(payload.Status); err == nil {
			_, err = j.Engine.TransitionEstimate(ctx, payload.ID, next)
		}
	case "job":
		var next workflow.JobStatus
		if next, err = workflow.ParseJobStatus(payload.Status); err == nil {
			_, err = j.Engine.TransitionJob(ctx, payload.ID, next)
		}
	case "invoice":
		var next workflow.InvoiceStatus
		if next, err = workflow.ParseInvoiceStatus(payload.Status); err == nil {
			_, err = j.Engine.TransitionInvoice(ctx, payload.ID, next)
		}
	}
	return j.outcome(logger, "transition", err)
}

// HandlePayment processes TaskPaymentRecorded tasks.
func (j *WorkflowJob) HandlePayment(ctx context.Context, t *asynq.Task) (resultErr error) {
	var payload PaymentPayload
	if err := j.decode(t, &payload); err != nil {
		return err
	}
	tracker := j.metrics().Track(TaskPaymentRecorded)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	logger := j.log().With(slog.Int64("payment_id", payload.PaymentID), slog.Int64("invoice_id", payload.InvoiceID))

	amount, err := decimal.NewFromString(payload.Amount)
	if err != nil {
		return j.outcome(logger, "payment", fmt.Errorf("%w: amount %q", shared.ErrValidation, payload.Amount))
	}
	status, err := workflow.ParsePaymentStatus(payload.Status)
	if err != nil {
		return j.outcome(logger, "payment", err)
	}
	err = j.Engine.OnPaymentRecorded(ctx, workflow.Payment{
		ID:        payload.PaymentID,
		InvoiceID: payload.InvoiceID,
		Amount:    amount,
		Status:    status,
	})
	return j.outcome(logger, "payment", err)
}

// HandleWarranty processes TaskWarrantyRecalculate tasks.
func (j *WorkflowJob) HandleWarranty(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j.Warranty == nil {
		return errors.New("warranty: handler not configured")
	}
	var payload WarrantyPayload
	if err := j.decode(t, &payload); err != nil {
		return err
	}
	tracker := j.metrics().Track(TaskWarrantyRecalculate)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	_, err := j.Warranty.RecalculateWarranty(ctx, payload.AssetID)
	return j.outcome(j.log().With(slog.Int64("asset_id", payload.AssetID)), "warranty", err)
}

func (j *WorkflowJob) decode(t *asynq.Task, target any) error {
	if err := json.Unmarshal(t.Payload(), target); err != nil {
		return asynq.SkipRetry
	}
	if err := payloadValidator.Struct(target); err != nil {
		j.log().Warn("drop invalid task", slog.String("type", t.Type()), slog.Any("error", err))
		return asynq.SkipRetry
	}
	return nil
}

// outcome maps domain errors to queue semantics. Lost races retry; bad input
// and missing rows never will succeed, so they are dropped.
func (j *WorkflowJob) outcome(logger *slog.Logger, op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, shared.ErrNotFound),
		errors.Is(err, shared.ErrValidation),
		errors.Is(err, shared.ErrInvalidState):
		logger.Warn("drop workflow task", slog.String("op", op), slog.Any("error", err))
		return fmt.Errorf("%s: %w: %w", op, err, asynq.SkipRetry)
	default:
		logger.Error("workflow task failed", slog.String("op", op), slog.Any("error", err))
		return err
	}
}

func (j *WorkflowJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *WorkflowJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
