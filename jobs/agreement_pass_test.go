package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/onemanvan/fsm/internal/agreements"
	jobmetrics "github.com/onemanvan/fsm/internal/jobs"
)

type fakeRunner struct {
	calls   []agreements.Pass
	touched int
	err     error
}

func (f *fakeRunner) Run(_ context.Context, pass agreements.Pass) (int, error) {
	f.calls = append(f.calls, pass)
	return f.touched, f.err
}

func newTestPassJob(t *testing.T, runner PassRunner, now *time.Time) *AgreementPassJob {
	t.Helper()
	wm, _ := newTestWatermark(t)
	job := NewAgreementPassJob(runner, wm, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.WithClock(func() time.Time { return *now })
	return job
}

func TestRunPassOncePerTick(t *testing.T) {
	now := time.Date(2024, 6, 15, 10, 5, 0, 0, time.UTC)
	runner := &fakeRunner{touched: 2}
	job := newTestPassJob(t, runner, &now)
	ctx := context.Background()

	touched, ran, err := job.RunPass(ctx, agreements.PassVisitGeneration, false)
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, 2, touched)

	now = now.Add(20 * time.Minute)
	touched, ran, err = job.RunPass(ctx, agreements.PassVisitGeneration, false)
	require.NoError(t, err)
	require.False(t, ran)
	require.Zero(t, touched)
	require.Len(t, runner.calls, 1)

	now = now.Add(time.Hour)
	_, ran, err = job.RunPass(ctx, agreements.PassVisitGeneration, false)
	require.NoError(t, err)
	require.True(t, ran)
	require.Len(t, runner.calls, 2)
}

func TestRunPassForceIgnoresWatermark(t *testing.T) {
	now := time.Date(2024, 6, 15, 10, 5, 0, 0, time.UTC)
	runner := &fakeRunner{}
	job := newTestPassJob(t, runner, &now)
	ctx := context.Background()

	_, _, err := job.RunPass(ctx, agreements.PassStatusAging, false)
	require.NoError(t, err)
	_, ran, err := job.RunPass(ctx, agreements.PassStatusAging, true)
	require.NoError(t, err)
	require.True(t, ran)
	require.Len(t, runner.calls, 2)
}

func TestRunPassFailureKeepsTickDue(t *testing.T) {
	now := time.Date(2024, 6, 15, 10, 5, 0, 0, time.UTC)
	runner := &fakeRunner{touched: 1, err: errors.New("agreement 7: boom")}
	job := newTestPassJob(t, runner, &now)
	ctx := context.Background()

	touched, ran, err := job.RunPass(ctx, agreements.PassAutoRenewal, false)
	require.Error(t, err)
	require.True(t, ran)
	require.Equal(t, 1, touched)

	runner.err = nil
	_, ran, err = job.RunPass(ctx, agreements.PassAutoRenewal, false)
	require.NoError(t, err)
	require.True(t, ran)
	require.Len(t, runner.calls, 2)
}

func TestAgreementPassHandle(t *testing.T) {
	now := time.Date(2024, 6, 15, 10, 5, 0, 0, time.UTC)
	runner := &fakeRunner{}
	job := newTestPassJob(t, runner, &now)
	ctx := context.Background()

	task, err := NewAgreementPassTask(agreements.PassVisitGeneration, false)
	require.NoError(t, err)
	require.Equal(t, TaskAgreementPass, task.Type())
	require.NoError(t, job.Handle(ctx, task))
	require.Equal(t, []agreements.Pass{agreements.PassVisitGeneration}, runner.calls)

	bad := asynq.NewTask(TaskAgreementPass, []byte("{"))
	require.ErrorIs(t, job.Handle(ctx, bad), asynq.SkipRetry)

	unknown, err := json.Marshal(AgreementPassPayload{Pass: "purge"})
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(ctx, asynq.NewTask(TaskAgreementPass, unknown)), asynq.SkipRetry)
	require.Len(t, runner.calls, 1)
}

func TestNewAgreementPassTaskRejectsUnknownPass(t *testing.T) {
	_, err := NewAgreementPassTask(agreements.Pass("purge"), false)
	require.Error(t, err)
}

func TestAgreementCronCoversEveryPass(t *testing.T) {
	regs, err := AgreementCron("@hourly")
	require.NoError(t, err)
	require.Len(t, regs, len(agreements.Passes))
	for i, reg := range regs {
		var payload AgreementPassPayload
		require.NoError(t, json.Unmarshal(reg.Task.Payload(), &payload))
		require.Equal(t, string(agreements.Passes[i]), payload.Pass)
		require.False(t, payload.Force)
		require.Equal(t, "@hourly", reg.Spec)
	}
}
