package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/onemanvan/fsm/internal/assets"
	jobmetrics "github.com/onemanvan/fsm/internal/jobs"
	"github.com/onemanvan/fsm/internal/shared"
	"github.com/onemanvan/fsm/internal/workflow"
)

type fakeEngine struct {
	calls    []string
	payments []workflow.Payment
	err      error
}

func (f *fakeEngine) TransitionEstimate(_ context.Context, id int64, next workflow.EstimateStatus) (*workflow.Estimate, error) {
	f.calls = append(f.calls, fmt.Sprintf("estimate %d %s", id, next))
	return &workflow.Estimate{ID: id, Status: next}, f.err
}

func (f *fakeEngine) TransitionJob(_ context.Context, id int64, next workflow.JobStatus) (*workflow.Job, error) {
	f.calls = append(f.calls, fmt.Sprintf("job %d %s", id, next))
	return &workflow.Job{ID: id, Status: next}, f.err
}

func (f *fakeEngine) TransitionInvoice(_ context.Context, id int64, next workflow.InvoiceStatus) (*workflow.Invoice, error) {
	f.calls = append(f.calls, fmt.Sprintf("invoice %d %s", id, next))
	return &workflow.Invoice{ID: id, Status: next}, f.err
}

func (f *fakeEngine) OnPaymentRecorded(_ context.Context, payment workflow.Payment) error {
	f.payments = append(f.payments, payment)
	return f.err
}

type fakeWarranty struct {
	assets []int64
	err    error
}

func (f *fakeWarranty) RecalculateWarranty(_ context.Context, assetID int64) (*assets.Asset, error) {
	f.assets = append(f.assets, assetID)
	return &assets.Asset{ID: assetID}, f.err
}

func newTestWorkflowJob(engine *fakeEngine, warranty *fakeWarranty) *WorkflowJob {
	return NewWorkflowJob(engine, warranty, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
}

func TestHandleTransitionDispatchesByEntity(t *testing.T) {
	engine := &fakeEngine{}
	job := newTestWorkflowJob(engine, &fakeWarranty{})
	ctx := context.Background()

	for _, tc := range []struct {
		entity string
		status string
	}{
		{"estimate", "approved"},
		{"job", "COMPLETED"},
		{"invoice", "void"},
	} {
		task, err := NewTransitionTask(tc.entity, 7, tc.status)
		require.NoError(t, err)
		require.NoError(t, job.HandleTransition(ctx, task))
	}
	require.Equal(t, []string{"estimate 7 APPROVED", "job 7 COMPLETED", "invoice 7 VOID"}, engine.calls)
}

func TestHandleTransitionDropsPermanentFailures(t *testing.T) {
	ctx := context.Background()

	engine := &fakeEngine{}
	job := newTestWorkflowJob(engine, &fakeWarranty{})
	task, err := NewTransitionTask("job", 7, "FINISHED")
	require.NoError(t, err)
	require.ErrorIs(t, job.HandleTransition(ctx, task), asynq.SkipRetry)
	require.Empty(t, engine.calls)

	engine.err = fmt.Errorf("load job 7: %w", shared.ErrNotFound)
	task, err = NewTransitionTask("job", 7, "COMPLETED")
	require.NoError(t, err)
	require.ErrorIs(t, job.HandleTransition(ctx, task), asynq.SkipRetry)

	_, err = NewTransitionTask("customer", 7, "ACTIVE")
	require.Error(t, err)
}

func TestHandleTransitionRetriesConflicts(t *testing.T) {
	engine := &fakeEngine{err: shared.ErrConflict}
	job := newTestWorkflowJob(engine, &fakeWarranty{})

	task, err := NewTransitionTask("invoice", 9, "SENT")
	require.NoError(t, err)
	err = job.HandleTransition(context.Background(), task)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestHandlePayment(t *testing.T) {
	engine := &fakeEngine{}
	job := newTestWorkflowJob(engine, &fakeWarranty{})
	ctx := context.Background()

	task, err := NewPaymentTask(workflow.Payment{
		ID:        3,
		InvoiceID: 9,
		Amount:    decimal.RequireFromString("125.50"),
		Status:    workflow.PaymentCompleted,
	})
	require.NoError(t, err)
	require.NoError(t, job.HandlePayment(ctx, task))
	require.Len(t, engine.payments, 1)
	require.True(t, engine.payments[0].Amount.Equal(decimal.RequireFromString("125.5")))
	require.Equal(t, workflow.PaymentCompleted, engine.payments[0].Status)

	body, err := json.Marshal(PaymentPayload{PaymentID: 3, InvoiceID: 9, Amount: "10", Status: "SETTLED"})
	require.NoError(t, err)
	require.ErrorIs(t, job.HandlePayment(ctx, asynq.NewTask(TaskPaymentRecorded, body)), asynq.SkipRetry)

	body, err = json.Marshal(PaymentPayload{PaymentID: 3, InvoiceID: 9, Amount: "ten", Status: "COMPLETED"})
	require.NoError(t, err)
	require.ErrorIs(t, job.HandlePayment(ctx, asynq.NewTask(TaskPaymentRecorded, body)), asynq.SkipRetry)
	require.Len(t, engine.payments, 1)
}

func TestHandleWarranty(t *testing.T) {
	warranty := &fakeWarranty{}
	job := newTestWorkflowJob(&fakeEngine{}, warranty)
	ctx := context.Background()

	task, err := NewWarrantyTask(501)
	require.NoError(t, err)
	require.NoError(t, job.HandleWarranty(ctx, task))
	require.Equal(t, []int64{501}, warranty.assets)

	warranty.err = fmt.Errorf("get asset 502: %w", shared.ErrNotFound)
	task, err = NewWarrantyTask(502)
	require.NoError(t, err)
	require.ErrorIs(t, job.HandleWarranty(ctx, task), asynq.SkipRetry)

	_, err = NewWarrantyTask(0)
	require.Error(t, err)
}

func TestWorkflowJobHandlers(t *testing.T) {
	job := newTestWorkflowJob(&fakeEngine{}, &fakeWarranty{})
	types := make([]string, 0, 3)
	for _, h := range job.Handlers() {
		require.NotNil(t, h.Handler)
		types = append(types, h.Type)
	}
	require.Equal(t, []string{TaskWorkflowTransition, TaskPaymentRecorded, TaskWarrantyRecalculate}, types)
}
