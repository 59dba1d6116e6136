package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/onemanvan/fsm/internal/money"
	"github.com/onemanvan/fsm/internal/shared"
)

// BalanceReconciler derives Customer.BalanceOwed from the customer's invoices.
type BalanceReconciler struct{}

// Recompute sums BalanceDue over live invoices and stores it on the customer.
// It must run in the unit of work of the change that triggered it.
func (BalanceReconciler) Recompute(ctx context.Context, tx TxRepository, customerID int64) (decimal.Decimal, error) {
	invoices, err := tx.ListCustomerInvoices(ctx, customerID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list customer invoices: %w", err)
	}
	owed := decimal.Zero
	for _, invoice := range invoices {
		if invoice.IsLive() {
			owed = owed.Add(invoice.BalanceDue)
		}
	}
	owed = money.Round2(owed)
	if err := tx.SetCustomerBalance(ctx, customerID, owed); err != nil {
		return decimal.Zero, fmt.Errorf("set customer %d balance: %w", customerID, err)
	}
	return owed, nil
}

// applyPayments recomputes the paid amount and balance of an invoice from its
// completed payments, then the customer balance.
func (e *Engine) applyPayments(ctx context.Context, u *unit, invoiceID int64) error {
	invoice, err := u.tx.GetInvoice(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("load invoice %d: %w", invoiceID, err)
	}
	if invoice.Status == InvoiceVoid {
		e.logger.Info("payment recorded against void invoice, skipping",
			slog.Int64("invoice_id", invoice.ID))
		return nil
	}
	payments, err := u.tx.ListInvoicePayments(ctx, invoice.ID)
	if err != nil {
		return fmt.Errorf("list payments: %w", err)
	}

	paid := decimal.Zero
	for _, p := range payments {
		if p.Status == PaymentCompleted {
			paid = paid.Add(p.Amount)
		}
	}
	paid = money.Round2(paid)
	balance := money.Round2(invoice.Total.Sub(paid))
	if balance.IsNegative() {
		balance = decimal.Zero
	}

	status := settlementStatus(invoice, paid, balance)
	var paidDate *time.Time
	if status == InvoicePaid {
		paidDate = invoice.PaidDate
		if paidDate == nil {
			at := u.now
			paidDate = &at
		}
	}
	if err := u.tx.UpdateInvoiceBalance(ctx, invoice.ID, paid, balance, status, paidDate); err != nil {
		return fmt.Errorf("update invoice balance: %w", err)
	}
	if status == InvoicePaid && invoice.Status != InvoicePaid {
		u.notify(Notification{Kind: NotifyInvoicePaid, CustomerID: invoice.CustomerID, EntityID: invoice.ID, Number: invoice.Number, Amount: paid})
	}

	_, err = e.balances.Recompute(ctx, u.tx, invoice.CustomerID)
	return err
}

// settlementStatus picks the invoice status implied by its payments. Paid is
// reached only when a payment brings the balance to zero.
func settlementStatus(invoice *Invoice, paid, balance decimal.Decimal) InvoiceStatus {
	switch {
	case paid.IsPositive() && balance.IsZero():
		return InvoicePaid
	case paid.IsPositive():
		if invoice.Status == InvoiceOverdue {
			return InvoiceOverdue
		}
		return InvoicePartiallyPaid
	case invoice.Status == InvoicePaid || invoice.Status == InvoicePartiallyPaid:
		return InvoiceSent
	default:
		return invoice.Status
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}
