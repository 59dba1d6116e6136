package agreements

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onemanvan/fsm/internal/shared"
	"github.com/onemanvan/fsm/internal/workflow"
)

// Pass names one scheduler pass.
type Pass string

const (
	PassStatusAging     Pass = "aging"
	PassVisitGeneration Pass = "visits"
	PassAutoRenewal     Pass = "renewal"
)

// Passes lists every pass in the order a full run applies them.
var Passes = []Pass{PassStatusAging, PassAutoRenewal, PassVisitGeneration}

// ParsePass validates a pass name.
func ParsePass(s string) (Pass, error) {
	norm := Pass(strings.ToLower(strings.TrimSpace(s)))
	for _, p := range Passes {
		if p == norm {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: unknown agreement pass %q", shared.ErrValidation, s)
}

// Config tunes the passes.
type Config struct {
	LookaheadDays int
	ExpiringDays  int
	VisitWindow   time.Duration
}

// DefaultConfig returns the standard windows: 30 day lookahead, 30 day
// expiring notice and a 7 day duplicate-visit window.
func DefaultConfig() Config {
	return Config{
		LookaheadDays: 30,
		ExpiringDays:  30,
		VisitWindow:   7 * hoursPerDay * time.Hour,
	}
}

// VisitBuilder creates the scheduled job of an agreement visit.
type VisitBuilder interface {
	ScheduleAgreementVisit(ctx context.Context, tx workflow.TxRepository, agreement *workflow.ServiceAgreement, due, today time.Time, window time.Duration) (int64, bool, error)
}

// Scheduler runs the agreement passes. Each agreement is processed in its own
// unit of work; one failure does not stop the pass.
type Scheduler struct {
	repo    workflow.RepositoryPort
	builder VisitBuilder
	cfg     Config
	logger  *slog.Logger
	clock   func() time.Time
}

// NewScheduler builds a Scheduler. Zero config values take the defaults.
func NewScheduler(repo workflow.RepositoryPort, builder VisitBuilder, cfg Config, logger *slog.Logger) *Scheduler {
	defaults := DefaultConfig()
	if cfg.LookaheadDays <= 0 {
		cfg.LookaheadDays = defaults.LookaheadDays
	}
	if cfg.ExpiringDays <= 0 {
		cfg.ExpiringDays = defaults.ExpiringDays
	}
	if cfg.VisitWindow <= 0 {
		cfg.VisitWindow = defaults.VisitWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		repo:    repo,
		builder: builder,
		cfg:     cfg,
		logger:  logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *Scheduler) WithClock(clock func() time.Time) {
	if s != nil && clock != nil {
		s.clock = clock
	}
}

// Run executes the named pass.
func (s *Scheduler) Run(ctx context.Context, pass Pass) (int, error) {
	switch pass {
	case PassStatusAging:
		return s.RunAgreementStatusAging(ctx)
	case PassVisitGeneration:
		return s.RunAgreementVisitGeneration(ctx)
	case PassAutoRenewal:
		return s.RunAgreementAutoRenewal(ctx)
	default:
		return 0, fmt.Errorf("%w: unknown agreement pass %q", shared.ErrValidation, pass)
	}
}

// RunAgreementStatusAging expires agreements past their end date and flags
// active ones ending within the expiring window.
func (s *Scheduler) RunAgreementStatusAging(ctx context.Context) (int, error) {
	return s.each(ctx, PassStatusAging,
		[]workflow.AgreementStatus{workflow.AgreementActive, workflow.AgreementExpiring},
		func(ctx context.Context, tx workflow.TxRepository, a *workflow.ServiceAgreement, today time.Time) (bool, error) {
			if a.Status != workflow.AgreementActive && a.Status != workflow.AgreementExpiring {
				return false, nil
			}
			next := AgedStatus(a.Status, a.EndDate, today, s.cfg.ExpiringDays)
			if next == a.Status {
				return false, nil
			}
			a.Status = next
			a.UpdatedAt = s.clock()
			if err := tx.UpdateAgreement(ctx, a); err != nil {
				return false, fmt.Errorf("update status: %w", err)
			}
			return true, nil
		})
}

// RunAgreementVisitGeneration schedules the next visit of every agreement
// whose visit falls inside the lookahead window.
func (s *Scheduler) RunAgreementVisitGeneration(ctx context.Context) (int, error) {
	return s.each(ctx, PassVisitGeneration,
		[]workflow.AgreementStatus{workflow.AgreementActive, workflow.AgreementExpiring},
		func(ctx context.Context, tx workflow.TxRepository, a *workflow.ServiceAgreement, today time.Time) (bool, error) {
			if a.VisitsUsed >= a.VisitsIncluded || dateOf(a.EndDate).Before(today) {
				return false, nil
			}
			next, ok := NextVisitDate(a.StartDate, a.EndDate, a.VisitsIncluded, a.VisitsUsed)
			if !ok {
				s.logger.Info("agreement term is empty, skipping visits",
					slog.Int64("agreement_id", a.ID),
					slog.Time("start", a.StartDate), slog.Time("end", a.EndDate))
				return false, nil
			}
			if !VisitDue(next, today, s.cfg.LookaheadDays) {
				return false, nil
			}
			_, created, err := s.builder.ScheduleAgreementVisit(ctx, tx, a, next, today, s.cfg.VisitWindow)
			return created, err
		})
}

// RunAgreementAutoRenewal rolls expired auto-renew agreements into a new term
// and resets their visit count.
func (s *Scheduler) RunAgreementAutoRenewal(ctx context.Context) (int, error) {
	return s.each(ctx, PassAutoRenewal,
		[]workflow.AgreementStatus{workflow.AgreementExpired},
		func(ctx context.Context, tx workflow.TxRepository, a *workflow.ServiceAgreement, today time.Time) (bool, error) {
			if !a.AutoRenew || a.Status != workflow.AgreementExpired || !dateOf(a.EndDate).Before(today) {
				return false, nil
			}
			a.StartDate, a.EndDate = RenewedTerm(a.StartDate, a.EndDate)
			a.VisitsUsed = 0
			renewed := today
			a.RenewalDate = &renewed
			a.Status = workflow.AgreementActive
			a.UpdatedAt = s.clock()
			if err := tx.UpdateAgreement(ctx, a); err != nil {
				return false, fmt.Errorf("renew: %w", err)
			}
			s.logger.Info("agreement renewed",
				slog.Int64("agreement_id", a.ID),
				slog.String("start", a.StartDate.Format(time.DateOnly)),
				slog.String("end", a.EndDate.Format(time.DateOnly)))
			return true, nil
		})
}

type step func(ctx context.Context, tx workflow.TxRepository, a *workflow.ServiceAgreement, today time.Time) (bool, error)

// each applies fn to every agreement in the given statuses. "today" is read
// once per pass.
func (s *Scheduler) each(ctx context.Context, pass Pass, statuses []workflow.AgreementStatus, fn step) (int, error) {
	today := dateOf(s.clock())
	ids, err := s.repo.ListAgreementIDs(ctx, statuses...)
	if err != nil {
		return 0, fmt.Errorf("agreements %s: list: %w", pass, err)
	}

	logger := s.logger.With(slog.String("pass", string(pass)), slog.String("today", today.Format(time.DateOnly)))
	touched := 0
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		var changed bool
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx workflow.TxRepository) error {
			agreement, err := tx.GetAgreement(ctx, id)
			if err != nil {
				return fmt.Errorf("load: %w", err)
			}
			if agreement.IsArchived {
				return nil
			}
			changed, err = fn(ctx, tx, agreement, today)
			return err
		})
		if err != nil {
			logger.Error("agreement pass failed", slog.Int64("agreement_id", id), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("agreement %d: %w", id, err))
			continue
		}
		if changed {
			touched++
		}
	}
	logger.Info("agreement pass finished", slog.Int("agreements", len(ids)), slog.Int("touched", touched), slog.Int("failed", len(errs)))
	return touched, errors.Join(errs...)
}
