package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/onemanvan/fsm/internal/platform/db"
	"github.com/onemanvan/fsm/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the workflow engine.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// ListAgreementIDs returns live agreements in the given statuses, oldest first.
func (r *Repository) ListAgreementIDs(ctx context.Context, statuses ...AgreementStatus) ([]int64, error) {
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM service_agreements
		WHERE NOT is_archived AND status = ANY($1)
		ORDER BY id`, values)
	if err != nil {
		return nil, shared.ClassifyPgError("workflow: list agreements", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, shared.ClassifyPgError("workflow: list agreements", err)
	}
	return ids, nil
}

func (t *txRepo) GetEstimate(ctx context.Context, id int64) (*Estimate, error) {
	const query = `
		SELECT id, number, status, title, customer_id, site_id, company_id,
			trade_type, system_type, priority, markup_pct, tax_pct, contingency_pct,
			subtotal, total, job_id, is_archived, updated_at
		FROM estimates
		WHERE id = $1
		FOR UPDATE`
	var e Estimate
	err := t.tx.QueryRow(ctx, query, id).Scan(
		&e.ID, &e.Number, &e.Status, &e.Title, &e.CustomerID, &e.SiteID, &e.CompanyID,
		&e.TradeType, &e.SystemType, &e.Priority, &e.MarkupPct, &e.TaxPct, &e.ContingencyPct,
		&e.Subtotal, &e.Total, &e.JobID, &e.IsArchived, &e.UpdatedAt,
	)
	if err != nil {
		return nil, shared.ClassifyPgError("workflow: get estimate", err)
	}
	rows, err := t.tx.Query(ctx, `
		SELECT id, estimate_id, description, item_type, unit, quantity, unit_price, line_total, sort_order
		FROM estimate_lines
		WHERE estimate_id = $1
		ORDER BY sort_order, id`, id)
	if err != nil {
		return nil, shared.ClassifyPgError("workflow: list estimate lines", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l EstimateLine
		if err := rows.Scan(&l.ID, &l.EstimateID, &l.Description, &l.ItemType, &l.Unit,
			&l.Quantity, &l.UnitPrice, &l.LineTotal, &l.SortOrder); err != nil {
			return nil, err
		}
		e.Lines = append(e.Lines, l)
	}
	return &e, rows.Err()
}

const jobColumns = `id, number, title, description, status, customer_id, site_id, company_id,
	assigned_employee_id, estimate_id, invoice_id, agreement_id, trade_type, system_type, priority,
	scheduled_date, completed_date, estimated_total, actual_total, is_archived, created_at, updated_at`

func (t *txRepo) GetJob(ctx context.Context, id int64) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 FOR UPDATE`
	var j Job
	err := t.tx.QueryRow(ctx, query, id).Scan(
		&j.ID, &j.Number, &j.Title, &j.Description, &j.Status, &j.CustomerID, &j.SiteID, &j.CompanyID,
		&j.AssignedEmployeeID, &j.EstimateID, &j.InvoiceID, &j.AgreementID, &j.TradeType, &j.SystemType, &j.Priority,
		&j.ScheduledDate, &j.CompletedDate, &j.EstimatedTotal, &j.ActualTotal, &j.IsArchived, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, shared.ClassifyPgError("workflow: get job", err)
	}
	return &j, nil
}

const invoiceColumns = `id, number, status, customer_id, site_id, company_id, job_id,
	subtotal, tax_amount, markup_amount, discount_amount, total, amount_paid, balance_due,
	issue_date, due_date, paid_date, is_archived, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var i Invoice
	err := row.Scan(
		&i.ID, &i.Number, &i.Status, &i.CustomerID, &i.SiteID, &i.CompanyID, &i.JobID,
		&i.Subtotal, &i.TaxAmount, &i.MarkupAmount, &i.DiscountAmount, &i.Total, &i.AmountPaid, &i.BalanceDue,
		&i.IssueDate, &i.DueDate, &i.PaidDate, &i.IsArchived, &i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (t *txRepo) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1 FOR UPDATE`
	invoice, err := scanInvoice(t.tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, shared.ClassifyPgError("workflow: get invoice", err)
	}
	return invoice, nil
}

func (t *txRepo) GetAgreement(ctx context.Context, id int64) (*ServiceAgreement, error) {
	const query = `
		SELECT a.id, a.number, a.name, a.customer_id, a.site_id, a.company_id, a.trade_type, a.status,
			a.start_date, a.end_date, a.visits_included, a.visits_used, a.auto_renew, a.renewal_date,
			a.is_archived, a.updated_at,
			COALESCE((SELECT array_agg(aa.asset_id ORDER BY aa.asset_id)
				FROM agreement_assets aa WHERE aa.agreement_id = a.id), '{}')
		FROM service_agreements a
		WHERE a.id = $1
		FOR UPDATE OF a`
	var a ServiceAgreement
	err := t.tx.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.Number, &a.Name, &a.CustomerID, &a.SiteID, &a.CompanyID, &a.TradeType, &a.Status,
		&a.StartDate, &a.EndDate, &a.VisitsIncluded, &a.VisitsUsed, &a.AutoRenew, &a.RenewalDate,
		&a.IsArchived, &a.UpdatedAt, &a.AssetIDs,
	)
	if err != nil {
		return nil, shared.ClassifyPgError("workflow: get agreement", err)
	}
	return &a, nil
}

func (t *txRepo) ListJobAssets(ctx context.Context, jobID int64) ([]JobAsset, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT job_id, asset_id, role FROM job_assets
		WHERE job_id = $1
		ORDER BY asset_id`, jobID)
	if err != nil {
		return nil, shared.ClassifyPgError("workflow: list job assets", err)
	}
	defer rows.Close()
	var links []JobAsset
	for rows.Next() {
		var link JobAsset
		var role string
		if err := rows.Scan(&link.JobID, &link.AssetID, &role); err != nil {
			return nil, err
		}
		if link.Role, err = ParseAssetRole(role); err != nil {
			return nil, fmt.Errorf("job %d asset %d: %w", link.JobID, link.AssetID, err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func (t *txRepo) ListInvoicePayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, invoice_id, amount, status, method, paid_at FROM payments
		WHERE invoice_id = $1
		ORDER BY id`, invoiceID)
	if err != nil {
		return nil, shared.ClassifyPgError("workflow: list payments", err)
	}
	defer rows.Close()
	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Status, &p.Method, &p.PaidAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (t *txRepo) ListCustomerInvoices(ctx context.Context, customerID int64) ([]Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE customer_id = $1 ORDER BY id`
	rows, err := t.tx.Query(ctx, query, customerID)
	if err != nil {
		return nil, shared.ClassifyPgError("workflow: list customer invoices", err)
	}
	defer rows.Close()
	var invoices []Invoice
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *invoice)
	}
	return invoices, rows.Err()
}

func (t *txRepo) FindLiveJobForEstimate(ctx context.Context, estimateID int64) (int64, bool, error) {
	return t.findID(ctx, "workflow: find estimate job", `
		SELECT id FROM jobs
		WHERE estimate_id = $1 AND NOT is_archived
		ORDER BY id LIMIT 1`, estimateID)
}

func (t *txRepo) FindLiveInvoiceForJob(ctx context.Context, jobID int64) (int64, bool, error) {
	return t.findID(ctx, "workflow: find job invoice", `
		SELECT id FROM invoices
		WHERE job_id = $1 AND NOT is_archived AND status <> 'VOID'
		ORDER BY id LIMIT 1`, jobID)
}

func (t *txRepo) findID(ctx context.Context, op, query string, args ...any) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx, query, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, shared.ClassifyPgError(op, err)
	}
	return id, true, nil
}

func (t *txRepo) ServiceHistoryExists(ctx context.Context, jobID, assetID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM service_history WHERE job_id = $1 AND asset_id = $2)`,
		jobID, assetID).Scan(&exists)
	if err != nil {
		return false, shared.ClassifyPgError("workflow: service history exists", err)
	}
	return exists, nil
}

func (t *txRepo) AgreementJobExists(ctx context.Context, agreementID int64, from, to time.Time) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM jobs
			WHERE agreement_id = $1 AND NOT is_archived
				AND scheduled_date BETWEEN $2 AND $3
		)`, agreementID, from, to).Scan(&exists)
	if err != nil {
		return false, shared.ClassifyPgError("workflow: agreement job exists", err)
	}
	return exists, nil
}

func (t *txRepo) CountDoneAgreementJobs(ctx context.Context, agreementID int64, from, to time.Time) (int, error) {
	var count int
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE agreement_id = $1 AND NOT is_archived
			AND status IN ('COMPLETED', 'INVOICED', 'PAID')
			AND completed_date >= $2 AND completed_date < $3`,
		agreementID, from, to).Scan(&count)
	if err != nil {
		return 0, shared.ClassifyPgError("workflow: count agreement visits", err)
	}
	return count, nil
}

func (t *txRepo) NextNumber(ctx context.Context, kind shared.SequenceKind) (string, error) {
	var value int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO number_sequences (kind, value) VALUES ($1, 1)
		ON CONFLICT (kind) DO UPDATE SET value = number_sequences.value + 1
		RETURNING value`, string(kind)).Scan(&value)
	if err != nil {
		return "", shared.ClassifyPgError("workflow: next number", err)
	}
	return shared.FormatNumber(kind, value), nil
}

func (t *txRepo) exec(ctx context.Context, op, query string, args ...any) error {
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return shared.ClassifyPgError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ClassifyPgError(op, pgx.ErrNoRows)
	}
	return nil
}

func (t *txRepo) UpdateEstimateStatus(ctx context.Context, id int64, status EstimateStatus) error {
	return t.exec(ctx, "workflow: update estimate status",
		`UPDATE estimates SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
}

func (t *txRepo) SetEstimateJob(ctx context.Context, estimateID, jobID int64) error {
	return t.exec(ctx, "workflow: set estimate job",
		`UPDATE estimates SET job_id = $2, updated_at = NOW() WHERE id = $1`, estimateID, jobID)
}

func (t *txRepo) CreateJob(ctx context.Context, j *Job) (int64, error) {
	const query = `
		INSERT INTO jobs (number, title, description, status, customer_id, site_id, company_id,
			assigned_employee_id, estimate_id, agreement_id, trade_type, system_type, priority,
			scheduled_date, estimated_total, actual_total, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, query,
		j.Number, j.Title, j.Description, string(j.Status), j.CustomerID, j.SiteID, j.CompanyID,
		j.AssignedEmployeeID, j.EstimateID, j.AgreementID, j.TradeType, j.SystemType, string(j.Priority),
		j.ScheduledDate, j.EstimatedTotal, j.ActualTotal, j.CreatedAt, j.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, shared.ClassifyPgError("workflow: create job", err)
	}
	j.ID = id
	return id, nil
}

func (t *txRepo) UpdateJobStatus(ctx context.Context, id int64, status JobStatus, completedDate *time.Time) error {
	return t.exec(ctx, "workflow: update job status",
		`UPDATE jobs SET status = $2, completed_date = $3, updated_at = NOW() WHERE id = $1`,
		id, string(status), completedDate)
}

func (t *txRepo) SetJobInvoice(ctx context.Context, jobID int64, invoiceID *int64) error {
	return t.exec(ctx, "workflow: set job invoice",
		`UPDATE jobs SET invoice_id = $2, updated_at = NOW() WHERE id = $1`, jobID, invoiceID)
}

func (t *txRepo) LinkJobAsset(ctx context.Context, link JobAsset) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO job_assets (job_id, asset_id, role) VALUES ($1, $2, $3)
		ON CONFLICT (job_id, asset_id) DO NOTHING`, link.JobID, link.AssetID, string(link.Role))
	if err != nil {
		return shared.ClassifyPgError("workflow: link job asset", err)
	}
	return nil
}

func (t *txRepo) CreateServiceHistory(ctx context.Context, r *ServiceHistoryRecord) (int64, error) {
	const query = `
		INSERT INTO service_history (type, status, service_date, cost, description,
			customer_id, site_id, asset_id, job_id, technician_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, query,
		string(r.Type), string(r.Status), r.ServiceDate, r.Cost, r.Description,
		r.CustomerID, r.SiteID, r.AssetID, r.JobID, r.TechnicianID, r.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, shared.ClassifyPgError("workflow: create service history", err)
	}
	r.ID = id
	return id, nil
}

func (t *txRepo) SetAssetLastServiceDate(ctx context.Context, assetID int64, at time.Time) error {
	return t.exec(ctx, "workflow: set asset last service",
		`UPDATE assets SET last_service_date = $2, updated_at = NOW() WHERE id = $1`, assetID, at)
}

func (t *txRepo) CreateInvoice(ctx context.Context, i *Invoice) (int64, error) {
	const query = `
		INSERT INTO invoices (number, status, customer_id, site_id, company_id, job_id,
			subtotal, tax_amount, markup_amount, discount_amount, total, amount_paid, balance_due,
			issue_date, due_date, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, query,
		i.Number, string(i.Status), i.CustomerID, i.SiteID, i.CompanyID, i.JobID,
		i.Subtotal, i.TaxAmount, i.MarkupAmount, i.DiscountAmount, i.Total, i.AmountPaid, i.BalanceDue,
		i.IssueDate, i.DueDate, i.CreatedAt, i.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, shared.ClassifyPgError("workflow: create invoice", err)
	}
	batch := &pgx.Batch{}
	for idx, l := range i.Lines {
		batch.Queue(`
			INSERT INTO invoice_lines (invoice_id, description, item_type, unit, quantity, unit_price, line_total, sort_order)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			id, l.Description, l.ItemType, l.Unit, l.Quantity, l.UnitPrice, l.LineTotal, idx)
	}
	if batch.Len() > 0 {
		if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
			return 0, shared.ClassifyPgError("workflow: create invoice lines", err)
		}
	}
	i.ID = id
	return id, nil
}

func (t *txRepo) UpdateInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus) error {
	return t.exec(ctx, "workflow: update invoice status",
		`UPDATE invoices SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
}

func (t *txRepo) UpdateInvoiceBalance(ctx context.Context, id int64, paid, balance decimal.Decimal, status InvoiceStatus, paidDate *time.Time) error {
	return t.exec(ctx, "workflow: update invoice balance", `
		UPDATE invoices SET amount_paid = $2, balance_due = $3, status = $4, paid_date = $5, updated_at = NOW()
		WHERE id = $1`, id, paid, balance, string(status), paidDate)
}

func (t *txRepo) SetCustomerBalance(ctx context.Context, customerID int64, balance decimal.Decimal) error {
	return t.exec(ctx, "workflow: set customer balance",
		`UPDATE customers SET balance_owed = $2, updated_at = NOW() WHERE id = $1`, customerID, balance)
}

func (t *txRepo) UpdateAgreement(ctx context.Context, a *ServiceAgreement) error {
	return t.exec(ctx, "workflow: update agreement", `
		UPDATE service_agreements SET
			status = $2,
			start_date = $3,
			end_date = $4,
			visits_used = $5,
			renewal_date = $6,
			updated_at = $7
		WHERE id = $1`,
		a.ID, string(a.Status), a.StartDate, a.EndDate, a.VisitsUsed, a.RenewalDate, a.UpdatedAt)
}
