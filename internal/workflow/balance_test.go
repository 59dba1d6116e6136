package workflow_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onemanvan/fsm/internal/shared"
	"github.com/onemanvan/fsm/internal/workflow"
	"github.com/onemanvan/fsm/internal/workflow/workflowtest"
)

func requireBalanceInvariant(t *testing.T, store *workflowtest.Store, customerID int64) {
	t.Helper()
	want := decimal.Zero
	for _, invoice := range store.CustomerInvoices(customerID) {
		if invoice.IsLive() {
			want = want.Add(invoice.BalanceDue)
		}
	}
	requireAmount(t, want.StringFixed(2), store.Customer(customerID).BalanceOwed)
}

func seedSentInvoice(store *workflowtest.Store, customerID int64, total string) int64 {
	return store.AddInvoice(workflow.Invoice{
		Number:     "INV-09000",
		Status:     workflow.InvoiceSent,
		CustomerID: customerID,
		Subtotal:   dec(total),
		Total:      dec(total),
		AmountPaid: decimal.Zero,
		BalanceDue: dec(total),
	})
}

func recordPayment(t *testing.T, engine *workflow.Engine, store *workflowtest.Store, invoiceID int64, amount string, status workflow.PaymentStatus) {
	t.Helper()
	payment := store.AddPayment(workflow.Payment{InvoiceID: invoiceID, Amount: dec(amount), Status: status, Method: "card", PaidAt: testNow})
	require.NoError(t, engine.OnPaymentRecorded(context.Background(), payment))
}

func TestPaymentsDriveInvoiceBalanceAndStatus(t *testing.T) {
	engine, store, notifier := newTestEngine(t)
	customerID := store.AddCustomer(workflow.Customer{Name: "Acme"})
	invoiceID := seedSentInvoice(store, customerID, "300.00")

	recordPayment(t, engine, store, invoiceID, "100.00", workflow.PaymentCompleted)
	invoice := store.Invoice(invoiceID)
	assert.Equal(t, workflow.InvoicePartiallyPaid, invoice.Status)
	requireAmount(t, "100.00", invoice.AmountPaid)
	requireAmount(t, "200.00", invoice.BalanceDue)
	assert.Nil(t, invoice.PaidDate)
	requireAmount(t, "200.00", store.Customer(customerID).BalanceOwed)

	recordPayment(t, engine, store, invoiceID, "200.00", workflow.PaymentPending)
	invoice = store.Invoice(invoiceID)
	assert.Equal(t, workflow.InvoicePartiallyPaid, invoice.Status)
	requireAmount(t, "200.00", invoice.BalanceDue)

	recordPayment(t, engine, store, invoiceID, "200.00", workflow.PaymentCompleted)
	invoice = store.Invoice(invoiceID)
	assert.Equal(t, workflow.InvoicePaid, invoice.Status)
	requireAmount(t, "300.00", invoice.AmountPaid)
	requireAmount(t, "0.00", invoice.BalanceDue)
	require.NotNil(t, invoice.PaidDate)
	assert.Equal(t, testNow, *invoice.PaidDate)
	requireAmount(t, "0.00", store.Customer(customerID).BalanceOwed)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, workflow.NotifyInvoicePaid, notifier.sent[0].Kind)
	assert.Equal(t, invoiceID, notifier.sent[0].EntityID)
}

func TestOverpaymentFloorsBalanceAtZero(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	customerID := store.AddCustomer(workflow.Customer{Name: "Acme"})
	invoiceID := seedSentInvoice(store, customerID, "100.00")

	recordPayment(t, engine, store, invoiceID, "150.00", workflow.PaymentCompleted)

	invoice := store.Invoice(invoiceID)
	assert.Equal(t, workflow.InvoicePaid, invoice.Status)
	requireAmount(t, "150.00", invoice.AmountPaid)
	requireAmount(t, "0.00", invoice.BalanceDue)
}

func TestOverdueInvoiceStaysOverdueWhilePartiallyPaid(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	customerID := store.AddCustomer(workflow.Customer{Name: "Acme"})
	invoiceID := seedSentInvoice(store, customerID, "100.00")
	store.SetInvoiceStatus(invoiceID, workflow.InvoiceOverdue)

	recordPayment(t, engine, store, invoiceID, "40.00", workflow.PaymentCompleted)
	assert.Equal(t, workflow.InvoiceOverdue, store.Invoice(invoiceID).Status)

	recordPayment(t, engine, store, invoiceID, "60.00", workflow.PaymentCompleted)
	assert.Equal(t, workflow.InvoicePaid, store.Invoice(invoiceID).Status)
}

func TestRefundedPaymentReopensInvoice(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	customerID := store.AddCustomer(workflow.Customer{Name: "Acme"})
	invoiceID := store.AddInvoice(workflow.Invoice{
		Number:     "INV-09001",
		Status:     workflow.InvoicePaid,
		CustomerID: customerID,
		Total:      dec("80.00"),
		AmountPaid: dec("80.00"),
		BalanceDue: decimal.Zero,
	})

	recordPayment(t, engine, store, invoiceID, "80.00", workflow.PaymentRefunded)

	invoice := store.Invoice(invoiceID)
	assert.Equal(t, workflow.InvoiceSent, invoice.Status)
	requireAmount(t, "0.00", invoice.AmountPaid)
	requireAmount(t, "80.00", invoice.BalanceDue)
	requireAmount(t, "80.00", store.Customer(customerID).BalanceOwed)
}

func TestPaymentOnVoidInvoiceIsSkipped(t *testing.T) {
	engine, store, notifier := newTestEngine(t)
	customerID := store.AddCustomer(workflow.Customer{Name: "Acme"})
	invoiceID := seedSentInvoice(store, customerID, "100.00")
	store.SetInvoiceStatus(invoiceID, workflow.InvoiceVoid)

	recordPayment(t, engine, store, invoiceID, "100.00", workflow.PaymentCompleted)

	invoice := store.Invoice(invoiceID)
	assert.Equal(t, workflow.InvoiceVoid, invoice.Status)
	requireAmount(t, "100.00", invoice.BalanceDue)
	assert.Empty(t, notifier.sent)
}

func TestOnPaymentRecordedValidates(t *testing.T) {
	tests := []struct {
		name    string
		payment workflow.Payment
	}{
		{"missing id", workflow.Payment{InvoiceID: 1, Amount: dec("10"), Status: workflow.PaymentCompleted}},
		{"missing invoice", workflow.Payment{ID: 1, Amount: dec("10"), Status: workflow.PaymentCompleted}},
		{"unknown status", workflow.Payment{ID: 1, InvoiceID: 1, Amount: dec("10"), Status: "SETTLED"}},
		{"zero amount", workflow.Payment{ID: 1, InvoiceID: 1, Amount: decimal.Zero, Status: workflow.PaymentCompleted}},
		{"negative amount", workflow.Payment{ID: 1, InvoiceID: 1, Amount: dec("-5"), Status: workflow.PaymentCompleted}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _, _ := newTestEngine(t)
			err := engine.OnPaymentRecorded(context.Background(), tt.payment)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestVoidClearsJobLinkAndAllowsReplacementInvoice(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()
	customerID := store.AddCustomer(workflow.Customer{Name: "Acme"})
	jobID := seedCompletedJob(store, customerID, 0)
	job := store.Job(jobID)
	require.NoError(t, engine.OnJobStatusChanged(ctx, &job, workflow.JobInProgress, workflow.JobCompleted))

	first := store.InvoicesForJob(jobID)
	require.Len(t, first, 1)
	require.Equal(t, first[0].ID, *store.Job(jobID).InvoiceID)
	requireAmount(t, "275.00", store.Customer(customerID).BalanceOwed)

	_, err := engine.TransitionInvoice(ctx, first[0].ID, workflow.InvoiceVoid)
	require.NoError(t, err)
	assert.Nil(t, store.Job(jobID).InvoiceID)
	requireAmount(t, "0.00", store.Customer(customerID).BalanceOwed)

	job = store.Job(jobID)
	require.NoError(t, engine.OnJobStatusChanged(ctx, &job, workflow.JobInProgress, workflow.JobCompleted))

	invoices := store.InvoicesForJob(jobID)
	require.Len(t, invoices, 2)
	replacement := invoices[1]
	assert.Equal(t, "INV-00002", replacement.Number)
	assert.Equal(t, workflow.InvoiceDraft, replacement.Status)
	assert.Equal(t, replacement.ID, *store.Job(jobID).InvoiceID)
	assert.Len(t, store.History(jobID), 2)
	requireBalanceInvariant(t, store, customerID)
}

func TestOnInvoiceStatusChangedVoid(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	customerID := store.AddCustomer(workflow.Customer{Name: "Acme"})
	jobID := store.AddJob(workflow.Job{ID: 900, Number: "JOB-00020", Status: workflow.JobCompleted, CustomerID: customerID, InvoiceID: int64Ptr(901)})
	invoiceID := store.AddInvoice(workflow.Invoice{
		ID:         901,
		Number:     "INV-00020",
		Status:     workflow.InvoiceVoid,
		CustomerID: customerID,
		JobID:      int64Ptr(jobID),
		Total:      dec("90.00"),
		BalanceDue: dec("90.00"),
	})
	store.AddInvoice(workflow.Invoice{
		Number:     "INV-00021",
		Status:     workflow.InvoiceSent,
		CustomerID: customerID,
		Total:      dec("15.00"),
		BalanceDue: dec("15.00"),
	})

	invoice := store.Invoice(invoiceID)
	require.NoError(t, engine.OnInvoiceStatusChanged(context.Background(), &invoice, workflow.InvoiceSent, workflow.InvoiceVoid))

	assert.Nil(t, store.Job(jobID).InvoiceID)
	requireAmount(t, "15.00", store.Customer(customerID).BalanceOwed)
}

func TestVoidLeavesForeignJobPointerAlone(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	customerID := store.AddCustomer(workflow.Customer{Name: "Acme"})
	jobID := store.AddJob(workflow.Job{Number: "JOB-00030", Status: workflow.JobCompleted, CustomerID: customerID, InvoiceID: int64Ptr(777)})
	invoiceID := store.AddInvoice(workflow.Invoice{
		Number:     "INV-00030",
		Status:     workflow.InvoiceSent,
		CustomerID: customerID,
		JobID:      int64Ptr(jobID),
		Total:      dec("10.00"),
		BalanceDue: dec("10.00"),
	})

	_, err := engine.TransitionInvoice(context.Background(), invoiceID, workflow.InvoiceVoid)
	require.NoError(t, err)
	assert.Equal(t, int64(777), *store.Job(jobID).InvoiceID)
}

func TestTransitionInvoiceRejectsPaidAndReopeningVoid(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()
	customerID := store.AddCustomer(workflow.Customer{Name: "Acme"})
	invoiceID := seedSentInvoice(store, customerID, "50.00")

	_, err := engine.TransitionInvoice(ctx, invoiceID, workflow.InvoicePaid)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = engine.TransitionInvoice(ctx, invoiceID, workflow.InvoiceVoid)
	require.NoError(t, err)

	_, err = engine.TransitionInvoice(ctx, invoiceID, workflow.InvoiceSent)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	assert.Equal(t, workflow.InvoiceVoid, store.Invoice(invoiceID).Status)
}

func TestBalanceInvariantAcrossInvoiceAndPaymentOperations(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()
	customerID := store.AddCustomer(workflow.Customer{Name: "Acme", BalanceOwed: dec("999.00")})
	otherCustomer := store.AddCustomer(workflow.Customer{Name: "Globex"})

	a := seedSentInvoice(store, customerID, "100.00")
	b := seedSentInvoice(store, customerID, "250.00")
	store.AddInvoice(workflow.Invoice{Number: "INV-09002", Status: workflow.InvoiceSent, CustomerID: customerID, Total: dec("40.00"), BalanceDue: dec("40.00"), IsArchived: true})
	foreign := seedSentInvoice(store, otherCustomer, "70.00")

	require.NoError(t, engine.RecomputeCustomerBalance(ctx, customerID))
	require.NoError(t, engine.RecomputeCustomerBalance(ctx, otherCustomer))
	requireAmount(t, "350.00", store.Customer(customerID).BalanceOwed)
	requireBalanceInvariant(t, store, customerID)

	var jobInvoice int64

	steps := []func(){
		func() { recordPayment(t, engine, store, a, "60.00", workflow.PaymentCompleted) },
		func() { recordPayment(t, engine, store, foreign, "70.00", workflow.PaymentCompleted) },
		func() {
			_, err := engine.TransitionInvoice(ctx, b, workflow.InvoiceVoid)
			require.NoError(t, err)
		},
		func() { recordPayment(t, engine, store, a, "40.00", workflow.PaymentCompleted) },
		func() {
			jobID := seedCompletedJob(store, customerID, 0)
			store.SetJobStatus(jobID, workflow.JobInProgress)
			job, err := engine.TransitionJob(ctx, jobID, workflow.JobCompleted)
			require.NoError(t, err)
			jobInvoice = *job.InvoiceID
		},
		func() {
			_, err := engine.TransitionInvoice(ctx, jobInvoice, workflow.InvoiceSent)
			require.NoError(t, err)
		},
		func() { recordPayment(t, engine, store, jobInvoice, "25.00", workflow.PaymentCompleted) },
	}
	for i, step := range steps {
		step()
		t.Logf("after step %d", i)
		requireBalanceInvariant(t, store, customerID)
		requireBalanceInvariant(t, store, otherCustomer)
	}
	requireAmount(t, "250.00", store.Customer(customerID).BalanceOwed)
}
