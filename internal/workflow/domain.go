// Package workflow keeps Estimate, Job, Invoice, ServiceHistory and customer
// balances consistent when statuses change.
package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/onemanvan/fsm/internal/shared"
)

// EstimateStatus enumerates estimate statuses.
type EstimateStatus string

const (
	EstimateDraft    EstimateStatus = "DRAFT"
	EstimateSent     EstimateStatus = "SENT"
	EstimateApproved EstimateStatus = "APPROVED"
	EstimateRejected EstimateStatus = "REJECTED"
	EstimateExpired  EstimateStatus = "EXPIRED"
)

// JobStatus enumerates job statuses.
type JobStatus string

const (
	JobLead       JobStatus = "LEAD"
	JobEstimated  JobStatus = "ESTIMATED"
	JobApproved   JobStatus = "APPROVED"
	JobScheduled  JobStatus = "SCHEDULED"
	JobDispatched JobStatus = "DISPATCHED"
	JobInProgress JobStatus = "IN_PROGRESS"
	JobOnHold     JobStatus = "ON_HOLD"
	JobCompleted  JobStatus = "COMPLETED"
	JobInvoiced   JobStatus = "INVOICED"
	JobPaid       JobStatus = "PAID"
	JobCancelled  JobStatus = "CANCELLED"
)

// IsDone reports whether the status means the work has been completed. A job
// carries a CompletedDate exactly while its status is done.
func (s JobStatus) IsDone() bool {
	switch s {
	case JobCompleted, JobInvoiced, JobPaid:
		return true
	default:
		return false
	}
}

// InvoiceStatus enumerates invoice statuses.
type InvoiceStatus string

const (
	InvoiceDraft         InvoiceStatus = "DRAFT"
	InvoiceSent          InvoiceStatus = "SENT"
	InvoicePartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoiceOverdue       InvoiceStatus = "OVERDUE"
	InvoicePaid          InvoiceStatus = "PAID"
	InvoiceVoid          InvoiceStatus = "VOID"
)

// PaymentStatus enumerates payment statuses.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

// AgreementStatus enumerates service agreement statuses.
type AgreementStatus string

const (
	AgreementActive   AgreementStatus = "ACTIVE"
	AgreementExpiring AgreementStatus = "EXPIRING"
	AgreementExpired  AgreementStatus = "EXPIRED"
)

// Priority of a job.
type Priority string

const (
	PriorityLow       Priority = "LOW"
	PriorityNormal    Priority = "NORMAL"
	PriorityHigh      Priority = "HIGH"
	PriorityEmergency Priority = "EMERGENCY"
)

// AssetRole tags how a job touched an asset.
type AssetRole string

const (
	RoleInstalled AssetRole = "INSTALLED"
	RoleServiced  AssetRole = "SERVICED"
	RoleInspected AssetRole = "INSPECTED"
	RoleReplaced  AssetRole = "REPLACED"
	RoleRepaired  AssetRole = "REPAIRED"
	RoleRemoved   AssetRole = "REMOVED"
)

var assetRoles = []AssetRole{RoleInstalled, RoleServiced, RoleInspected, RoleReplaced, RoleRepaired, RoleRemoved}

// ParseAssetRole converts free text into a role, rejecting unknown values.
func ParseAssetRole(s string) (AssetRole, error) {
	return parseEnum("asset role", s, assetRoles)
}

var (
	estimateStatuses = []EstimateStatus{EstimateDraft, EstimateSent, EstimateApproved, EstimateRejected, EstimateExpired}
	jobStatuses      = []JobStatus{JobLead, JobEstimated, JobApproved, JobScheduled, JobDispatched, JobInProgress, JobOnHold, JobCompleted, JobInvoiced, JobPaid, JobCancelled}
	invoiceStatuses  = []InvoiceStatus{InvoiceDraft, InvoiceSent, InvoicePartiallyPaid, InvoiceOverdue, InvoicePaid, InvoiceVoid}
	paymentStatuses  = []PaymentStatus{PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded}
)

// ParseEstimateStatus validates an estimate status name.
func ParseEstimateStatus(s string) (EstimateStatus, error) {
	return parseEnum("estimate status", s, estimateStatuses)
}

// ParseJobStatus validates a job status name.
func ParseJobStatus(s string) (JobStatus, error) {
	return parseEnum("job status", s, jobStatuses)
}

// ParseInvoiceStatus validates an invoice status name.
func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	return parseEnum("invoice status", s, invoiceStatuses)
}

// ParsePaymentStatus validates a payment status name.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	return parseEnum("payment status", s, paymentStatuses)
}

func parseEnum[T ~string](kind, s string, values []T) (T, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	for _, v := range values {
		if string(v) == norm {
			return v, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%w: unknown %s %q", shared.ErrValidation, kind, s)
}

// ServiceHistoryType classifies a service history record.
type ServiceHistoryType string

const (
	ServicePreventiveMaintenance ServiceHistoryType = "PREVENTIVE_MAINTENANCE"
	ServiceNonWarrantyRepair     ServiceHistoryType = "NON_WARRANTY_REPAIR"
)

// ServiceHistoryStatus enumerates service history statuses.
type ServiceHistoryStatus string

const (
	ServiceOpen     ServiceHistoryStatus = "OPEN"
	ServiceResolved ServiceHistoryStatus = "RESOLVED"
)

// ServiceTypeForRole maps the role a job played on an asset to the history type.
func ServiceTypeForRole(role AssetRole) ServiceHistoryType {
	switch role {
	case RoleInspected, RoleServiced:
		return ServicePreventiveMaintenance
	case RoleInstalled, RoleReplaced, RoleRepaired, RoleRemoved:
		return ServiceNonWarrantyRepair
	default:
		return ServiceNonWarrantyRepair
	}
}

// EstimateLine is a priced line on an estimate.
type EstimateLine struct {
	ID          int64
	EstimateID  int64
	Description string
	ItemType    string
	Unit        string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
	SortOrder   int
}

// Estimate model.
type Estimate struct {
	ID             int64
	Number         string
	Status         EstimateStatus
	Title          string
	CustomerID     int64
	SiteID         *int64
	CompanyID      *int64
	TradeType      string
	SystemType     string
	Priority       Priority
	Lines          []EstimateLine
	MarkupPct      decimal.Decimal
	TaxPct         decimal.Decimal
	ContingencyPct decimal.Decimal
	Subtotal       decimal.Decimal
	Total          decimal.Decimal
	JobID          *int64
	IsArchived     bool
	UpdatedAt      time.Time
}

// Job model.
type Job struct {
	ID                 int64
	Number             string
	Title              string
	Description        string
	Status             JobStatus
	CustomerID         int64
	SiteID             *int64
	CompanyID          *int64
	AssignedEmployeeID *int64
	EstimateID         *int64
	InvoiceID          *int64
	AgreementID        *int64
	TradeType          string
	SystemType         string
	Priority           Priority
	ScheduledDate      *time.Time
	CompletedDate      *time.Time
	EstimatedTotal     decimal.NullDecimal
	ActualTotal        decimal.NullDecimal
	IsArchived         bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// JobAsset links a job to an asset it touched.
type JobAsset struct {
	JobID   int64
	AssetID int64
	Role    AssetRole
}

// ServiceHistoryRecord model. At most one exists per (job, asset).
type ServiceHistoryRecord struct {
	ID           int64
	Type         ServiceHistoryType
	Status       ServiceHistoryStatus
	ServiceDate  time.Time
	Cost         decimal.Decimal
	Description  string
	CustomerID   int64
	SiteID       *int64
	AssetID      int64
	JobID        int64
	TechnicianID *int64
	CreatedAt    time.Time
}

// InvoiceLine is a priced line on an invoice.
type InvoiceLine struct {
	ID          int64
	InvoiceID   int64
	Description string
	ItemType    string
	Unit        string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
	SortOrder   int
}

// Invoice model. BalanceDue is max(0, Total - completed payments).
type Invoice struct {
	ID             int64
	Number         string
	Status         InvoiceStatus
	CustomerID     int64
	SiteID         *int64
	CompanyID      *int64
	JobID          *int64
	Lines          []InvoiceLine
	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	MarkupAmount   decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal
	AmountPaid     decimal.Decimal
	BalanceDue     decimal.Decimal
	IssueDate      time.Time
	DueDate        time.Time
	PaidDate       *time.Time
	IsArchived     bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsLive reports whether the invoice still counts against its job and customer.
func (i Invoice) IsLive() bool {
	return !i.IsArchived && i.Status != InvoiceVoid
}

// Payment model.
type Payment struct {
	ID        int64           `validate:"gt=0"`
	InvoiceID int64           `validate:"gt=0"`
	Amount    decimal.Decimal `validate:"-"`
	Status    PaymentStatus   `validate:"required,oneof=PENDING COMPLETED FAILED REFUNDED"`
	Method    string
	PaidAt    time.Time
}

// Customer carries the derived outstanding balance.
type Customer struct {
	ID          int64
	Name        string
	BalanceOwed decimal.Decimal
}

// ServiceAgreement model. 0 <= VisitsUsed <= VisitsIncluded.
type ServiceAgreement struct {
	ID             int64
	Number         string
	Name           string
	CustomerID     int64
	SiteID         *int64
	CompanyID      *int64
	TradeType      string
	Status         AgreementStatus
	StartDate      time.Time
	EndDate        time.Time
	VisitsIncluded int
	VisitsUsed     int
	AutoRenew      bool
	RenewalDate    *time.Time
	AssetIDs       []int64
	IsArchived     bool
	UpdatedAt      time.Time
}
