package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/onemanvan/fsm/internal/shared"
)

// EntityType names the entity kinds the guard understands.
type EntityType string

const (
	EntityEstimate       EntityType = "estimate"
	EntityJob            EntityType = "job"
	EntityInvoice        EntityType = "invoice"
	EntityServiceHistory EntityType = "service_history"
	EntityAgreement      EntityType = "agreement"
)

// SourceRef identifies the entity a derivative is built from. AssetID narrows a
// job source to one linked asset for service history.
type SourceRef struct {
	Type    EntityType
	ID      int64
	AssetID int64
}

// Guard answers whether a derivative already exists for a source. It must run
// inside the same unit of work as the build it protects.
type Guard struct{}

// Exists reports whether the derivative of the given type exists for src.
func (g Guard) Exists(ctx context.Context, tx TxRepository, src SourceRef, derivative EntityType) (bool, error) {
	_, found, err := g.Find(ctx, tx, src, derivative)
	return found, err
}

// Find resolves the existing derivative id where the pairing has one.
// Service history records are keyed by (job, asset) and report id 0.
func (Guard) Find(ctx context.Context, tx TxRepository, src SourceRef, derivative EntityType) (int64, bool, error) {
	switch {
	case src.Type == EntityEstimate && derivative == EntityJob:
		return tx.FindLiveJobForEstimate(ctx, src.ID)
	case src.Type == EntityJob && derivative == EntityInvoice:
		return tx.FindLiveInvoiceForJob(ctx, src.ID)
	case src.Type == EntityJob && derivative == EntityServiceHistory:
		if src.AssetID <= 0 {
			return 0, false, fmt.Errorf("%w: service history guard needs an asset", shared.ErrValidation)
		}
		found, err := tx.ServiceHistoryExists(ctx, src.ID, src.AssetID)
		return 0, found, err
	default:
		return 0, false, fmt.Errorf("%w: no guard for %s -> %s", shared.ErrValidation, src.Type, derivative)
	}
}

// VisitScheduled reports whether a live job for the agreement is already
// scheduled inside [from, to].
func (Guard) VisitScheduled(ctx context.Context, tx TxRepository, agreementID int64, from, to time.Time) (bool, error) {
	return tx.AgreementJobExists(ctx, agreementID, from, to)
}
