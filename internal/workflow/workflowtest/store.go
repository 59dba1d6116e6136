// Package workflowtest provides an in-memory workflow store for tests.
package workflowtest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/onemanvan/fsm/internal/shared"
	"github.com/onemanvan/fsm/internal/workflow"
)

// Store implements workflow.RepositoryPort in memory. Units of work are
// serialised and roll back on error.
type Store struct {
	mu sync.Mutex

	estimates   map[int64]workflow.Estimate
	jobs        map[int64]workflow.Job
	jobAssets   map[int64][]workflow.JobAsset
	history     []workflow.ServiceHistoryRecord
	invoices    map[int64]workflow.Invoice
	payments    map[int64][]workflow.Payment
	customers   map[int64]workflow.Customer
	agreements  map[int64]workflow.ServiceAgreement
	lastService map[int64]time.Time
	sequences   map[shared.SequenceKind]int64
	nextID      int64

	// AgreementErrors makes GetAgreement fail for the listed ids.
	AgreementErrors map[int64]error
	// Commits counts committed units of work.
	Commits int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		estimates:       make(map[int64]workflow.Estimate),
		jobs:            make(map[int64]workflow.Job),
		jobAssets:       make(map[int64][]workflow.JobAsset),
		invoices:        make(map[int64]workflow.Invoice),
		payments:        make(map[int64][]workflow.Payment),
		customers:       make(map[int64]workflow.Customer),
		agreements:      make(map[int64]workflow.ServiceAgreement),
		lastService:     make(map[int64]time.Time),
		sequences:       make(map[shared.SequenceKind]int64),
		AgreementErrors: make(map[int64]error),
		nextID:          100,
	}
}

type snapshot struct {
	estimates   map[int64]workflow.Estimate
	jobs        map[int64]workflow.Job
	jobAssets   map[int64][]workflow.JobAsset
	history     []workflow.ServiceHistoryRecord
	invoices    map[int64]workflow.Invoice
	payments    map[int64][]workflow.Payment
	customers   map[int64]workflow.Customer
	agreements  map[int64]workflow.ServiceAgreement
	lastService map[int64]time.Time
	sequences   map[shared.SequenceKind]int64
	nextID      int64
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		estimates:   maps.Clone(s.estimates),
		jobs:        maps.Clone(s.jobs),
		jobAssets:   maps.Clone(s.jobAssets),
		history:     slices.Clone(s.history),
		invoices:    maps.Clone(s.invoices),
		payments:    maps.Clone(s.payments),
		customers:   maps.Clone(s.customers),
		agreements:  maps.Clone(s.agreements),
		lastService: maps.Clone(s.lastService),
		sequences:   maps.Clone(s.sequences),
		nextID:      s.nextID,
	}
}

func (s *Store) restore(snap snapshot) {
	s.estimates = snap.estimates
	s.jobs = snap.jobs
	s.jobAssets = snap.jobAssets
	s.history = snap.history
	s.invoices = snap.invoices
	s.payments = snap.payments
	s.customers = snap.customers
	s.agreements = snap.agreements
	s.lastService = snap.lastService
	s.sequences = snap.sequences
	s.nextID = snap.nextID
}

// WithTx implements workflow.RepositoryPort.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, workflow.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()
	if err := fn(ctx, &tx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	s.Commits++
	return nil
}

// ListAgreementIDs implements workflow.RepositoryPort.
func (s *Store) ListAgreementIDs(_ context.Context, statuses ...workflow.AgreementStatus) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, a := range s.agreements {
		if !a.IsArchived && slices.Contains(statuses, a.Status) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// AddCustomer seeds a customer.
func (s *Store) AddCustomer(c workflow.Customer) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.id()
	}
	s.customers[c.ID] = c
	return c.ID
}

// AddEstimate seeds an estimate.
func (s *Store) AddEstimate(e workflow.Estimate) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == 0 {
		e.ID = s.id()
	}
	s.estimates[e.ID] = e
	return e.ID
}

// AddJob seeds a job with its asset links.
func (s *Store) AddJob(j workflow.Job, links ...workflow.JobAsset) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.ID == 0 {
		j.ID = s.id()
	}
	s.jobs[j.ID] = j
	for _, link := range links {
		link.JobID = j.ID
		s.jobAssets[j.ID] = append(s.jobAssets[j.ID], link)
	}
	return j.ID
}

// AddInvoice seeds an invoice.
func (s *Store) AddInvoice(i workflow.Invoice) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i.ID == 0 {
		i.ID = s.id()
	}
	s.invoices[i.ID] = i
	return i.ID
}

// AddPayment stores a payment as the CRUD layer would before notifying the engine.
func (s *Store) AddPayment(p workflow.Payment) workflow.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
	}
	s.payments[p.InvoiceID] = append(s.payments[p.InvoiceID], p)
	return p
}

// AddAgreement seeds a service agreement.
func (s *Store) AddAgreement(a workflow.ServiceAgreement) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		a.ID = s.id()
	}
	s.agreements[a.ID] = a
	return a.ID
}

// SetJobStatus writes a job status directly, as the CRUD layer would.
func (s *Store) SetJobStatus(id int64, status workflow.JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	j.Status = status
	s.jobs[id] = j
}

// SetEstimateStatus writes an estimate status directly.
func (s *Store) SetEstimateStatus(id int64, status workflow.EstimateStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.estimates[id]
	e.Status = status
	s.estimates[id] = e
}

// SetInvoiceStatus writes an invoice status directly.
func (s *Store) SetInvoiceStatus(id int64, status workflow.InvoiceStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.invoices[id]
	i.Status = status
	s.invoices[id] = i
}

// Estimate returns a copy of an estimate.
func (s *Store) Estimate(id int64) workflow.Estimate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimates[id]
}

// Job returns a copy of a job.
func (s *Store) Job(id int64) workflow.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Invoice returns a copy of an invoice.
func (s *Store) Invoice(id int64) workflow.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invoices[id]
}

// Customer returns a copy of a customer.
func (s *Store) Customer(id int64) workflow.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customers[id]
}

// Agreement returns a copy of an agreement.
func (s *Store) Agreement(id int64) workflow.ServiceAgreement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agreements[id]
}

// JobsWhere returns the jobs matching keep, ordered by id.
func (s *Store) JobsWhere(keep func(workflow.Job) bool) []workflow.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []workflow.Job
	for _, j := range s.jobs {
		if keep(j) {
			out = append(out, j)
		}
	}
	slices.SortFunc(out, func(a, b workflow.Job) int { return int(a.ID - b.ID) })
	return out
}

// JobLinks returns the asset links of a job.
func (s *Store) JobLinks(jobID int64) []workflow.JobAsset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.jobAssets[jobID])
}

// InvoicesForJob returns every invoice referencing the job, ordered by id.
func (s *Store) InvoicesForJob(jobID int64) []workflow.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []workflow.Invoice
	for _, i := range s.invoices {
		if i.JobID != nil && *i.JobID == jobID {
			out = append(out, i)
		}
	}
	slices.SortFunc(out, func(a, b workflow.Invoice) int { return int(a.ID - b.ID) })
	return out
}

// CustomerInvoices returns every invoice of a customer.
func (s *Store) CustomerInvoices(customerID int64) []workflow.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []workflow.Invoice
	for _, i := range s.invoices {
		if i.CustomerID == customerID {
			out = append(out, i)
		}
	}
	return out
}

// History returns the service history recorded for a job.
func (s *Store) History(jobID int64) []workflow.ServiceHistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []workflow.ServiceHistoryRecord
	for _, r := range s.history {
		if r.JobID == jobID {
			out = append(out, r)
		}
	}
	return out
}

// LastService returns the last service date stamped on an asset.
func (s *Store) LastService(assetID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.lastService[assetID]
	return at, ok
}

type tx struct {
	s *Store
}

func notFound(kind string, id int64) error {
	return fmt.Errorf("%s %d: %w", kind, id, shared.ErrNotFound)
}

func (t *tx) GetEstimate(_ context.Context, id int64) (*workflow.Estimate, error) {
	e, ok := t.s.estimates[id]
	if !ok {
		return nil, notFound("estimate", id)
	}
	return &e, nil
}

func (t *tx) GetJob(_ context.Context, id int64) (*workflow.Job, error) {
	j, ok := t.s.jobs[id]
	if !ok {
		return nil, notFound("job", id)
	}
	return &j, nil
}

func (t *tx) GetInvoice(_ context.Context, id int64) (*workflow.Invoice, error) {
	i, ok := t.s.invoices[id]
	if !ok {
		return nil, notFound("invoice", id)
	}
	return &i, nil
}

func (t *tx) GetAgreement(_ context.Context, id int64) (*workflow.ServiceAgreement, error) {
	if err := t.s.AgreementErrors[id]; err != nil {
		return nil, err
	}
	a, ok := t.s.agreements[id]
	if !ok {
		return nil, notFound("agreement", id)
	}
	a.AssetIDs = slices.Clone(a.AssetIDs)
	return &a, nil
}

func (t *tx) ListJobAssets(_ context.Context, jobID int64) ([]workflow.JobAsset, error) {
	return slices.Clone(t.s.jobAssets[jobID]), nil
}

func (t *tx) ListInvoicePayments(_ context.Context, invoiceID int64) ([]workflow.Payment, error) {
	return slices.Clone(t.s.payments[invoiceID]), nil
}

func (t *tx) ListCustomerInvoices(_ context.Context, customerID int64) ([]workflow.Invoice, error) {
	var out []workflow.Invoice
	for _, i := range t.s.invoices {
		if i.CustomerID == customerID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (t *tx) FindLiveJobForEstimate(_ context.Context, estimateID int64) (int64, bool, error) {
	var found int64
	for id, j := range t.s.jobs {
		if !j.IsArchived && j.EstimateID != nil && *j.EstimateID == estimateID && (found == 0 || id < found) {
			found = id
		}
	}
	return found, found != 0, nil
}

func (t *tx) FindLiveInvoiceForJob(_ context.Context, jobID int64) (int64, bool, error) {
	var found int64
	for id, i := range t.s.invoices {
		if i.IsLive() && i.JobID != nil && *i.JobID == jobID && (found == 0 || id < found) {
			found = id
		}
	}
	return found, found != 0, nil
}

func (t *tx) ServiceHistoryExists(_ context.Context, jobID, assetID int64) (bool, error) {
	for _, r := range t.s.history {
		if r.JobID == jobID && r.AssetID == assetID {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) AgreementJobExists(_ context.Context, agreementID int64, from, to time.Time) (bool, error) {
	for _, j := range t.s.jobs {
		if j.IsArchived || j.AgreementID == nil || *j.AgreementID != agreementID || j.ScheduledDate == nil {
			continue
		}
		if !j.ScheduledDate.Before(from) && !j.ScheduledDate.After(to) {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) CountDoneAgreementJobs(_ context.Context, agreementID int64, from, to time.Time) (int, error) {
	count := 0
	for _, j := range t.s.jobs {
		if j.IsArchived || j.AgreementID == nil || *j.AgreementID != agreementID || !j.Status.IsDone() {
			continue
		}
		if j.CompletedDate != nil && !j.CompletedDate.Before(from) && j.CompletedDate.Before(to) {
			count++
		}
	}
	return count, nil
}

func (t *tx) NextNumber(_ context.Context, kind shared.SequenceKind) (string, error) {
	t.s.sequences[kind]++
	return shared.FormatNumber(kind, t.s.sequences[kind]), nil
}

func (t *tx) UpdateEstimateStatus(_ context.Context, id int64, status workflow.EstimateStatus) error {
	e, ok := t.s.estimates[id]
	if !ok {
		return notFound("estimate", id)
	}
	e.Status = status
	t.s.estimates[id] = e
	return nil
}

func (t *tx) SetEstimateJob(_ context.Context, estimateID, jobID int64) error {
	e, ok := t.s.estimates[estimateID]
	if !ok {
		return notFound("estimate", estimateID)
	}
	e.JobID = &jobID
	t.s.estimates[estimateID] = e
	return nil
}

func (t *tx) CreateJob(_ context.Context, job *workflow.Job) (int64, error) {
	if job.EstimateID != nil {
		if _, found, _ := t.FindLiveJobForEstimate(context.Background(), *job.EstimateID); found {
			return 0, fmt.Errorf("jobs_estimate_live: %w", shared.ErrConflict)
		}
	}
	job.ID = t.s.id()
	t.s.jobs[job.ID] = *job
	return job.ID, nil
}

func (t *tx) UpdateJobStatus(_ context.Context, id int64, status workflow.JobStatus, completedDate *time.Time) error {
	j, ok := t.s.jobs[id]
	if !ok {
		return notFound("job", id)
	}
	j.Status = status
	j.CompletedDate = completedDate
	t.s.jobs[id] = j
	return nil
}

func (t *tx) SetJobInvoice(_ context.Context, jobID int64, invoiceID *int64) error {
	j, ok := t.s.jobs[jobID]
	if !ok {
		return notFound("job", jobID)
	}
	j.InvoiceID = invoiceID
	t.s.jobs[jobID] = j
	return nil
}

func (t *tx) LinkJobAsset(_ context.Context, link workflow.JobAsset) error {
	for _, existing := range t.s.jobAssets[link.JobID] {
		if existing.AssetID == link.AssetID {
			return nil
		}
	}
	t.s.jobAssets[link.JobID] = append(slices.Clone(t.s.jobAssets[link.JobID]), link)
	return nil
}

func (t *tx) CreateServiceHistory(ctx context.Context, record *workflow.ServiceHistoryRecord) (int64, error) {
	if exists, _ := t.ServiceHistoryExists(ctx, record.JobID, record.AssetID); exists {
		return 0, fmt.Errorf("service_history_job_asset: %w", shared.ErrConflict)
	}
	record.ID = t.s.id()
	t.s.history = append(t.s.history, *record)
	return record.ID, nil
}

func (t *tx) SetAssetLastServiceDate(_ context.Context, assetID int64, at time.Time) error {
	t.s.lastService[assetID] = at
	return nil
}

func (t *tx) CreateInvoice(ctx context.Context, invoice *workflow.Invoice) (int64, error) {
	if invoice.JobID != nil {
		if _, found, _ := t.FindLiveInvoiceForJob(ctx, *invoice.JobID); found {
			return 0, fmt.Errorf("invoices_job_live: %w", shared.ErrConflict)
		}
	}
	invoice.ID = t.s.id()
	t.s.invoices[invoice.ID] = *invoice
	return invoice.ID, nil
}

func (t *tx) UpdateInvoiceStatus(_ context.Context, id int64, status workflow.InvoiceStatus) error {
	i, ok := t.s.invoices[id]
	if !ok {
		return notFound("invoice", id)
	}
	i.Status = status
	t.s.invoices[id] = i
	return nil
}

func (t *tx) UpdateInvoiceBalance(_ context.Context, id int64, paid, balance decimal.Decimal, status workflow.InvoiceStatus, paidDate *time.Time) error {
	i, ok := t.s.invoices[id]
	if !ok {
		return notFound("invoice", id)
	}
	i.AmountPaid = paid
	i.BalanceDue = balance
	i.Status = status
	i.PaidDate = paidDate
	t.s.invoices[id] = i
	return nil
}

func (t *tx) SetCustomerBalance(_ context.Context, customerID int64, balance decimal.Decimal) error {
	c, ok := t.s.customers[customerID]
	if !ok {
		return notFound("customer", customerID)
	}
	c.BalanceOwed = balance
	t.s.customers[customerID] = c
	return nil
}

func (t *tx) UpdateAgreement(_ context.Context, agreement *workflow.ServiceAgreement) error {
	if _, ok := t.s.agreements[agreement.ID]; !ok {
		return notFound("agreement", agreement.ID)
	}
	t.s.agreements[agreement.ID] = *agreement
	return nil
}
