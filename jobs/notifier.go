package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/onemanvan/fsm/internal/workflow"
)

const notificationRetention = 24 * time.Hour

// Enqueuer submits tasks to the queue. *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Notifier turns workflow notifications into customer e-mail tasks.
type Notifier struct {
	queue   Enqueuer
	unit    currency.Unit
	printer *message.Printer
	logger  *slog.Logger
}

// NewNotifier builds a Notifier formatting amounts in the given ISO currency.
func NewNotifier(queue Enqueuer, currencyCode string, logger *slog.Logger) (*Notifier, error) {
	if queue == nil {
		return nil, errors.New("notifier: enqueuer required")
	}
	unit, err := currency.ParseISO(currencyCode)
	if err != nil {
		return nil, fmt.Errorf("notifier: currency %q: %w", currencyCode, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		queue:   queue,
		unit:    unit,
		printer: message.NewPrinter(language.English),
		logger:  logger,
	}, nil
}

// Notify implements workflow.Notifier. Re-fired notifications for the same
// entity collapse onto one task id.
func (n *Notifier) Notify(ctx context.Context, note workflow.Notification) error {
	subject, body, err := n.render(note)
	if err != nil {
		return err
	}
	task, err := NewSendEmailTask(SendEmailPayload{
		CustomerID: note.CustomerID,
		Kind:       string(note.Kind),
		Subject:    subject,
		Body:       body,
	})
	if err != nil {
		return err
	}
	_, err = n.queue.EnqueueContext(ctx, task,
		asynq.TaskID(NotificationTaskID(note)),
		asynq.Queue(QueueDefault),
		asynq.Retention(notificationRetention),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		n.logger.Debug("notification already queued", slog.String("kind", string(note.Kind)), slog.Int64("entity_id", note.EntityID))
		return nil
	}
	return err
}

// NotificationTaskID derives a stable task id from kind and entity.
func NotificationTaskID(note workflow.Notification) string {
	name := fmt.Sprintf("%s:%d", note.Kind, note.EntityID)
	return uuid.NewSHA1(uuid.Nil, []byte(name)).String()
}

func (n *Notifier) render(note workflow.Notification) (string, string, error) {
	switch note.Kind {
	case workflow.NotifyJobCreated:
		return fmt.Sprintf("Job %s created", note.Number),
			fmt.Sprintf("Job %s has been created and will be scheduled shortly.", note.Number), nil
	case workflow.NotifyInvoiceCreated:
		return fmt.Sprintf("Invoice %s", note.Number),
			fmt.Sprintf("Invoice %s for %s has been issued.", note.Number, n.amount(note.Amount)), nil
	case workflow.NotifyInvoicePaid:
		return fmt.Sprintf("Invoice %s paid", note.Number),
			fmt.Sprintf("We received %s for invoice %s. Thank you.", n.amount(note.Amount), note.Number), nil
	default:
		return "", "", fmt.Errorf("notifier: unsupported kind %q", note.Kind)
	}
}

func (n *Notifier) amount(v decimal.Decimal) string {
	return n.printer.Sprint(currency.Symbol(n.unit.Amount(v.Round(2).InexactFloat64())))
}
