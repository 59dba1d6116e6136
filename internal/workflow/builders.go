package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/onemanvan/fsm/internal/money"
	"github.com/onemanvan/fsm/internal/shared"
)

// invoiceTermDays is the payment term of generated invoices.
const invoiceTermDays = 30

// buildJobFromEstimate creates the approved job for an estimate and links both
// sides. An existing job is reused and the estimate pointer repaired.
func (e *Engine) buildJobFromEstimate(ctx context.Context, u *unit, estimate *Estimate) (int64, bool, error) {
	src := SourceRef{Type: EntityEstimate, ID: estimate.ID}
	existing, found, err := e.guard.Find(ctx, u.tx, src, EntityJob)
	if err != nil {
		return 0, false, fmt.Errorf("guard estimate job: %w", err)
	}
	if found {
		if estimate.JobID == nil || *estimate.JobID != existing {
			if err := u.tx.SetEstimateJob(ctx, estimate.ID, existing); err != nil {
				return 0, false, fmt.Errorf("repair estimate job link: %w", err)
			}
		}
		e.logger.Info("job already exists for estimate",
			slog.Int64("estimate_id", estimate.ID), slog.Int64("job_id", existing))
		return existing, false, nil
	}

	number, err := u.tx.NextNumber(ctx, shared.SequenceJob)
	if err != nil {
		return 0, false, fmt.Errorf("next job number: %w", err)
	}
	title := estimate.Title
	if title == "" {
		title = "Work for " + estimate.Number
	}
	priority := estimate.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	estimateID := estimate.ID
	job := &Job{
		Number:         number,
		Title:          title,
		Description:    fmt.Sprintf("Created from estimate %s", estimate.Number),
		Status:         JobApproved,
		CustomerID:     estimate.CustomerID,
		SiteID:         estimate.SiteID,
		CompanyID:      estimate.CompanyID,
		EstimateID:     &estimateID,
		TradeType:      estimate.TradeType,
		SystemType:     estimate.SystemType,
		Priority:       priority,
		EstimatedTotal: decimal.NewNullDecimal(estimate.Total),
		CreatedAt:      u.now,
		UpdatedAt:      u.now,
	}
	id, err := u.tx.CreateJob(ctx, job)
	if err != nil {
		return 0, false, fmt.Errorf("create job: %w", err)
	}
	if err := u.tx.SetEstimateJob(ctx, estimate.ID, id); err != nil {
		return 0, false, fmt.Errorf("link estimate job: %w", err)
	}
	e.logger.Info("job created from estimate",
		slog.Int64("estimate_id", estimate.ID), slog.Int64("job_id", id), slog.String("number", number))
	u.notify(Notification{Kind: NotifyJobCreated, CustomerID: job.CustomerID, EntityID: id, Number: number, Amount: estimate.Total})
	return id, true, nil
}

// buildServiceHistory records one resolved entry per linked asset not yet
// covered for this job.
func (e *Engine) buildServiceHistory(ctx context.Context, u *unit, job *Job, links []JobAsset) (int, error) {
	cost := decimal.Zero
	if job.ActualTotal.Valid {
		cost = money.Round2(job.ActualTotal.Decimal)
	}
	created := 0
	for _, link := range links {
		src := SourceRef{Type: EntityJob, ID: job.ID, AssetID: link.AssetID}
		exists, err := e.guard.Exists(ctx, u.tx, src, EntityServiceHistory)
		if err != nil {
			return created, fmt.Errorf("guard service history: %w", err)
		}
		if exists {
			continue
		}
		record := &ServiceHistoryRecord{
			Type:         ServiceTypeForRole(link.Role),
			Status:       ServiceResolved,
			ServiceDate:  *job.CompletedDate,
			Cost:         cost,
			Description:  fmt.Sprintf("%s: %s", job.Number, job.Title),
			CustomerID:   job.CustomerID,
			SiteID:       job.SiteID,
			AssetID:      link.AssetID,
			JobID:        job.ID,
			TechnicianID: job.AssignedEmployeeID,
			CreatedAt:    u.now,
		}
		if _, err := u.tx.CreateServiceHistory(ctx, record); err != nil {
			return created, fmt.Errorf("create service history for asset %d: %w", link.AssetID, err)
		}
		created++
	}
	if created > 0 {
		e.logger.Info("service history recorded", slog.Int64("job_id", job.ID), slog.Int("records", created))
	}
	return created, nil
}

// buildInvoiceFromJob creates the draft invoice of a completed job and writes
// its id back onto the job. Estimate lines are copied when present.
func (e *Engine) buildInvoiceFromJob(ctx context.Context, u *unit, job *Job) (int64, bool, error) {
	src := SourceRef{Type: EntityJob, ID: job.ID}
	existing, found, err := e.guard.Find(ctx, u.tx, src, EntityInvoice)
	if err != nil {
		return 0, false, fmt.Errorf("guard job invoice: %w", err)
	}
	if found {
		if job.InvoiceID == nil || *job.InvoiceID != existing {
			if err := u.tx.SetJobInvoice(ctx, job.ID, &existing); err != nil {
				return 0, false, fmt.Errorf("repair job invoice link: %w", err)
			}
			job.InvoiceID = &existing
		}
		e.logger.Info("live invoice already exists for job",
			slog.Int64("job_id", job.ID), slog.Int64("invoice_id", existing))
		return existing, false, nil
	}

	lines, err := e.invoiceLines(ctx, u, job)
	if err != nil {
		return 0, false, err
	}
	input := money.Input{Mode: money.ModeFlatAdditive, Lines: make([]money.Line, 0, len(lines))}
	for _, line := range lines {
		input.Lines = append(input.Lines, money.Line{Quantity: line.Quantity, UnitPrice: line.UnitPrice})
	}
	totals, err := money.ComputeTotals(input)
	if err != nil {
		return 0, false, fmt.Errorf("invoice totals for job %d: %w", job.ID, err)
	}

	number, err := u.tx.NextNumber(ctx, shared.SequenceInvoice)
	if err != nil {
		return 0, false, fmt.Errorf("next invoice number: %w", err)
	}
	jobID := job.ID
	issue := dateOf(u.now)
	invoice := &Invoice{
		Number:         number,
		Status:         InvoiceDraft,
		CustomerID:     job.CustomerID,
		SiteID:         job.SiteID,
		CompanyID:      job.CompanyID,
		JobID:          &jobID,
		Lines:          lines,
		Subtotal:       totals.Subtotal,
		TaxAmount:      totals.TaxAmount,
		MarkupAmount:   totals.MarkupAmount,
		DiscountAmount: totals.DiscountAmount,
		Total:          totals.Total,
		AmountPaid:     decimal.Zero,
		BalanceDue:     totals.Total,
		IssueDate:      issue,
		DueDate:        issue.AddDate(0, 0, invoiceTermDays),
		CreatedAt:      u.now,
		UpdatedAt:      u.now,
	}
	id, err := u.tx.CreateInvoice(ctx, invoice)
	if err != nil {
		return 0, false, fmt.Errorf("create invoice: %w", err)
	}
	if err := u.tx.SetJobInvoice(ctx, job.ID, &id); err != nil {
		return 0, false, fmt.Errorf("link job invoice: %w", err)
	}
	job.InvoiceID = &id
	if _, err := e.balances.Recompute(ctx, u.tx, job.CustomerID); err != nil {
		return 0, false, err
	}
	e.logger.Info("invoice created from job",
		slog.Int64("job_id", job.ID), slog.Int64("invoice_id", id), slog.String("number", number),
		slog.String("total", invoice.Total.StringFixed(2)))
	u.notify(Notification{Kind: NotifyInvoiceCreated, CustomerID: job.CustomerID, EntityID: id, Number: number, Amount: invoice.Total})
	return id, true, nil
}

func (e *Engine) invoiceLines(ctx context.Context, u *unit, job *Job) ([]InvoiceLine, error) {
	if job.EstimateID != nil {
		estimate, err := u.tx.GetEstimate(ctx, *job.EstimateID)
		switch {
		case err == nil && len(estimate.Lines) > 0:
			lines := make([]InvoiceLine, 0, len(estimate.Lines))
			for i, src := range estimate.Lines {
				lines = append(lines, InvoiceLine{
					Description: src.Description,
					ItemType:    src.ItemType,
					Unit:        src.Unit,
					Quantity:    src.Quantity,
					UnitPrice:   src.UnitPrice,
					LineTotal:   money.LineTotal(src.Quantity, src.UnitPrice),
					SortOrder:   i,
				})
			}
			return lines, nil
		case err != nil && !isNotFound(err):
			return nil, fmt.Errorf("load estimate %d: %w", *job.EstimateID, err)
		}
	}

	// ActualTotal ?? EstimatedTotal ?? 0
	amount := decimal.Zero
	switch {
	case job.ActualTotal.Valid:
		amount = job.ActualTotal.Decimal
	case job.EstimatedTotal.Valid:
		amount = job.EstimatedTotal.Decimal
	}
	amount = money.Round2(amount)
	return []InvoiceLine{{
		Description: fmt.Sprintf("%s - %s", job.Number, job.Title),
		ItemType:    "service",
		Unit:        "job",
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   amount,
		LineTotal:   amount,
	}}, nil
}

// ScheduleAgreementVisit creates the scheduled job for an agreement visit due
// on due, unless a live agreement job already sits inside the window around it.
// The scheduled date is clamped to today.
func (e *Engine) ScheduleAgreementVisit(ctx context.Context, tx TxRepository, agreement *ServiceAgreement, due, today time.Time, window time.Duration) (int64, bool, error) {
	scheduled := due
	if scheduled.Before(today) {
		scheduled = today
	}
	exists, err := e.guard.VisitScheduled(ctx, tx, agreement.ID, due.Add(-window), scheduled.Add(window))
	if err != nil {
		return 0, false, fmt.Errorf("guard agreement visit: %w", err)
	}
	if exists {
		e.logger.Info("agreement visit already scheduled",
			slog.Int64("agreement_id", agreement.ID), slog.String("due", due.Format(time.DateOnly)))
		return 0, false, nil
	}

	number, err := tx.NextNumber(ctx, shared.SequenceJob)
	if err != nil {
		return 0, false, fmt.Errorf("next job number: %w", err)
	}
	now := e.clock()
	agreementID := agreement.ID
	job := &Job{
		Number: number,
		Title:  fmt.Sprintf("%s visit %d of %d", agreement.Name, agreement.VisitsUsed+1, agreement.VisitsIncluded),
		Description: fmt.Sprintf("Scheduled maintenance for agreement %s (#%d) due %s",
			agreement.Number, agreement.ID, due.Format(time.DateOnly)),
		Status:        JobScheduled,
		CustomerID:    agreement.CustomerID,
		SiteID:        agreement.SiteID,
		CompanyID:     agreement.CompanyID,
		AgreementID:   &agreementID,
		TradeType:     agreement.TradeType,
		Priority:      PriorityNormal,
		ScheduledDate: &scheduled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	id, err := tx.CreateJob(ctx, job)
	if err != nil {
		return 0, false, fmt.Errorf("create agreement job: %w", err)
	}
	for _, assetID := range agreement.AssetIDs {
		if err := tx.LinkJobAsset(ctx, JobAsset{JobID: id, AssetID: assetID, Role: RoleServiced}); err != nil {
			return 0, false, fmt.Errorf("link asset %d: %w", assetID, err)
		}
	}
	e.logger.Info("agreement visit scheduled",
		slog.Int64("agreement_id", agreement.ID), slog.Int64("job_id", id),
		slog.String("scheduled", scheduled.Format(time.DateOnly)))
	return id, true, nil
}

// refreshAgreementVisits recounts the visits consumed in the current term.
func (e *Engine) refreshAgreementVisits(ctx context.Context, u *unit, agreementID int64) error {
	agreement, err := u.tx.GetAgreement(ctx, agreementID)
	if err != nil {
		if isNotFound(err) {
			e.logger.Info("job references a missing agreement", slog.Int64("agreement_id", agreementID))
			return nil
		}
		return fmt.Errorf("load agreement %d: %w", agreementID, err)
	}
	done, err := u.tx.CountDoneAgreementJobs(ctx, agreement.ID, agreement.StartDate, agreement.EndDate)
	if err != nil {
		return fmt.Errorf("count agreement visits: %w", err)
	}
	used := min(done, agreement.VisitsIncluded)
	if used == agreement.VisitsUsed {
		return nil
	}
	agreement.VisitsUsed = used
	agreement.UpdatedAt = u.now
	if err := u.tx.UpdateAgreement(ctx, agreement); err != nil {
		return fmt.Errorf("update agreement visits: %w", err)
	}
	return nil
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
