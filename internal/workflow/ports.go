package workflow

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/onemanvan/fsm/internal/shared"
)

// RepositoryPort is the persistence boundary of the engine.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListAgreementIDs(ctx context.Context, statuses ...AgreementStatus) ([]int64, error)
}

// TxRepository exposes reads and writes scoped to one unit of work. Get* reads
// of a source entity lock its row until the unit ends.
type TxRepository interface {
	GetEstimate(ctx context.Context, id int64) (*Estimate, error)
	GetJob(ctx context.Context, id int64) (*Job, error)
	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	GetAgreement(ctx context.Context, id int64) (*ServiceAgreement, error)
	ListJobAssets(ctx context.Context, jobID int64) ([]JobAsset, error)
	ListInvoicePayments(ctx context.Context, invoiceID int64) ([]Payment, error)
	ListCustomerInvoices(ctx context.Context, customerID int64) ([]Invoice, error)

	FindLiveJobForEstimate(ctx context.Context, estimateID int64) (int64, bool, error)
	FindLiveInvoiceForJob(ctx context.Context, jobID int64) (int64, bool, error)
	ServiceHistoryExists(ctx context.Context, jobID, assetID int64) (bool, error)
	AgreementJobExists(ctx context.Context, agreementID int64, from, to time.Time) (bool, error)
	CountDoneAgreementJobs(ctx context.Context, agreementID int64, from, to time.Time) (int, error)

	NextNumber(ctx context.Context, kind shared.SequenceKind) (string, error)

	UpdateEstimateStatus(ctx context.Context, id int64, status EstimateStatus) error
	SetEstimateJob(ctx context.Context, estimateID, jobID int64) error
	CreateJob(ctx context.Context, job *Job) (int64, error)
	UpdateJobStatus(ctx context.Context, id int64, status JobStatus, completedDate *time.Time) error
	SetJobInvoice(ctx context.Context, jobID int64, invoiceID *int64) error
	LinkJobAsset(ctx context.Context, link JobAsset) error
	CreateServiceHistory(ctx context.Context, record *ServiceHistoryRecord) (int64, error)
	SetAssetLastServiceDate(ctx context.Context, assetID int64, at time.Time) error
	CreateInvoice(ctx context.Context, invoice *Invoice) (int64, error)
	UpdateInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus) error
	UpdateInvoiceBalance(ctx context.Context, id int64, paid, balance decimal.Decimal, status InvoiceStatus, paidDate *time.Time) error
	SetCustomerBalance(ctx context.Context, customerID int64, balance decimal.Decimal) error
	UpdateAgreement(ctx context.Context, agreement *ServiceAgreement) error
}
