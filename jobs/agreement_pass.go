package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/onemanvan/fsm/internal/agreements"
	jobmetrics "github.com/onemanvan/fsm/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const (
	// TaskAgreementPass runs one agreement scheduler pass.
	TaskAgreementPass = "agreements:pass"
)

// AgreementPassPayload selects the pass. Force ignores the run watermark.
type AgreementPassPayload struct {
	Pass  string `json:"pass" validate:"required,oneof=aging visits renewal"`
	Force bool   `json:"force,omitempty"`
}

// PassRunner executes an agreement pass and reports the records it touched.
type PassRunner interface {
	Run(ctx context.Context, pass agreements.Pass) (int, error)
}

// AgreementPassJob runs agreement passes at most once per tick.
type AgreementPassJob struct {
	Runner    PassRunner
	Watermark *Watermark
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	// Tick is the cron granularity; deliveries inside one tick share a watermark.
	Tick  time.Duration
	clock func() time.Time
}

// NewAgreementPassJob constructs the job handler.
func NewAgreementPassJob(runner PassRunner, watermark *Watermark, logger *slog.Logger, metrics *jobmetrics.Metrics) *AgreementPassJob {
	return &AgreementPassJob{
		Runner:    runner,
		Watermark: watermark,
		Logger:    logger,
		Metrics:   metrics,
		Tick:      time.Hour,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// NewAgreementPassTask creates an Asynq task for one pass.
func NewAgreementPassTask(pass agreements.Pass, force bool) (*asynq.Task, error) {
	payload := AgreementPassPayload{Pass: string(pass), Force: force}
	if err := payloadValidator.Struct(payload); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAgreementPass, body, asynq.Queue(QueueDefault)), nil
}

// Handle executes the pass named in the task payload.
func (j *AgreementPassJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Runner == nil {
		return errors.New("agreement pass: handler not configured")
	}
	var payload AgreementPassPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if err := payloadValidator.Struct(payload); err != nil {
		j.log().Warn("drop invalid agreement pass task", slog.Any("error", err))
		return asynq.SkipRetry
	}
	_, _, err := j.RunPass(ctx, agreements.Pass(payload.Pass), payload.Force)
	return err
}

// RunPass runs the pass unless the current tick already completed. It reports
// the touched count and whether the pass ran. The watermark only advances after
// a clean run so that retries re-run a partially failed pass.
func (j *AgreementPassJob) RunPass(ctx context.Context, pass agreements.Pass, force bool) (int, bool, error) {
	name := metricName(pass)
	tick := j.now().Truncate(j.tick())
	logger := j.log().With(slog.String("pass", string(pass)), slog.Time("tick", tick), slog.Bool("force", force))

	if !force {
		due, err := j.Watermark.Due(ctx, string(pass), tick)
		if err != nil {
			logger.Warn("read run watermark", slog.Any("error", err))
			due = true
		}
		if !due {
			j.metrics().SkipRun(name)
			logger.Info("agreement pass already ran for tick")
			return 0, false, nil
		}
	}

	tracker := j.metrics().Track(name)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	touched, err := j.Runner.Run(ctx, pass)
	j.metrics().AddTouched(name, touched)
	if err != nil {
		resultErr = err
		logger.Error("agreement pass finished with failures", slog.Int("touched", touched), slog.Any("error", err))
		return touched, true, resultErr
	}
	if _, err := j.Watermark.Advance(ctx, string(pass), tick); err != nil {
		logger.Warn("advance run watermark", slog.Any("error", err))
	}
	logger.Info("agreement pass completed", slog.Int("touched", touched), slog.Duration("duration", j.now().Sub(start)))
	return touched, true, resultErr
}

func metricName(pass agreements.Pass) string {
	return "agreements:" + string(pass)
}

func (j *AgreementPassJob) tick() time.Duration {
	if j.Tick <= 0 {
		return time.Hour
	}
	return j.Tick
}

func (j *AgreementPassJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AgreementPassJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *AgreementPassJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *AgreementPassJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
