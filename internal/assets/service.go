package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onemanvan/fsm/internal/shared"
)

// RepositoryPort defines data access for warranty maintenance.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, id int64) (*Product, error)
}

// TxRepository exposes the writes performed inside one unit of work.
type TxRepository interface {
	GetAssetForUpdate(ctx context.Context, id int64) (*Asset, error)
	SaveWarranty(ctx context.Context, asset *Asset) error
	UpdateProductTerms(ctx context.Context, productID int64, terms Terms) error
}

// Service keeps asset warranty fields derived from install dates and product terms.
type Service struct {
	repo   RepositoryPort
	cache  *TermsCache
	logger *slog.Logger
	clock  func() time.Time
}

// NewService builds a Service. cache may be nil.
func NewService(repo RepositoryPort, cache *TermsCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger, clock: func() time.Time { return time.Now().UTC() }}
}

// RecalculateWarranty recomputes and persists the warranty fields of one asset.
func (s *Service) RecalculateWarranty(ctx context.Context, assetID int64) (*Asset, error) {
	var result *Asset
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		asset, err := tx.GetAssetForUpdate(ctx, assetID)
		if err != nil {
			return fmt.Errorf("get asset %d: %w", assetID, err)
		}
		var product *Product
		if asset.ProductID != nil {
			product, err = s.product(ctx, *asset.ProductID)
			if err != nil && !errors.Is(err, shared.ErrNotFound) {
				return fmt.Errorf("get product %d: %w", *asset.ProductID, err)
			}
			if product == nil {
				s.logger.Warn("asset product missing, using defaults",
					slog.Int64("asset_id", assetID),
					slog.Int64("product_id", *asset.ProductID))
			}
		}
		ComputeWarrantyExpiries(asset, product)
		asset.UpdatedAt = s.clock()
		if err := tx.SaveWarranty(ctx, asset); err != nil {
			return fmt.Errorf("save warranty: %w", err)
		}
		result = asset
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateProductTerms stores new default terms for a product and invalidates the
// cached copies once the write has committed.
func (s *Service) UpdateProductTerms(ctx context.Context, productID int64, terms Terms) error {
	if terms.LaborYears < 0 || terms.PartsYears < 0 || terms.CompressorYears < 0 {
		return fmt.Errorf("%w: warranty terms must not be negative", shared.ErrValidation)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateProductTerms(ctx, productID, terms)
	})
	if err != nil {
		return fmt.Errorf("update product terms: %w", err)
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("invalidate product terms cache", slog.Int64("product_id", productID), slog.Any("error", err))
	}
	return nil
}

func (s *Service) product(ctx context.Context, id int64) (*Product, error) {
	return s.cache.Product(ctx, id, func(ctx context.Context) (*Product, error) {
		return s.repo.GetProduct(ctx, id)
	})
}

// WithClock overrides the internal clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) {
	if s != nil && clock != nil {
		s.clock = clock
	}
}
