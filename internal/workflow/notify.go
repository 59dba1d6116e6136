package workflow

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// NotificationKind identifies a post-commit notification.
type NotificationKind string

const (
	NotifyJobCreated     NotificationKind = "job.created"
	NotifyInvoiceCreated NotificationKind = "invoice.created"
	NotifyInvoicePaid    NotificationKind = "invoice.paid"
)

// Notification describes a side effect to run once a unit of work committed.
type Notification struct {
	Kind       NotificationKind
	CustomerID int64
	EntityID   int64
	Number     string
	Amount     decimal.Decimal
	At         time.Time
}

// Notifier receives notifications after commit. Failures never roll back the
// transition that produced them.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NopNotifier discards notifications.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, Notification) error { return nil }
