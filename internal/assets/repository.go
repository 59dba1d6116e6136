package assets

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onemanvan/fsm/internal/platform/db"
	"github.com/onemanvan/fsm/internal/shared"
)

// Repository provides PostgreSQL backed persistence for assets and products.
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

// GetProduct loads a product with its default warranty terms.
func (r *Repository) GetProduct(ctx context.Context, id int64) (*Product, error) {
	const query = `
		SELECT id, name, labor_warranty_years, parts_warranty_years, compressor_warranty_years
		FROM products
		WHERE id = $1 AND NOT is_archived`
	var p Product
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Terms.LaborYears, &p.Terms.PartsYears, &p.Terms.CompressorYears,
	)
	if err != nil {
		return nil, shared.ClassifyPgError("assets: get product", err)
	}
	return &p, nil
}

func (t *txRepo) GetAssetForUpdate(ctx context.Context, id int64) (*Asset, error) {
	const query = `
		SELECT id, customer_id, site_id, product_id, name,
			install_date, warranty_start_date,
			labor_warranty_term_years, parts_warranty_term_years, compressor_warranty_term_years,
			labor_warranty_expiry, parts_warranty_expiry, compressor_warranty_expiry,
			warranty_expiry, next_service_due, last_service_date, updated_at
		FROM assets
		WHERE id = $1
		FOR UPDATE`
	var a Asset
	err := t.tx.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.CustomerID, &a.SiteID, &a.ProductID, &a.Name,
		&a.InstallDate, &a.WarrantyStartDate,
		&a.Terms.LaborYears, &a.Terms.PartsYears, &a.Terms.CompressorYears,
		&a.LaborWarrantyExpiry, &a.PartsWarrantyExpiry, &a.CompressorWarrantyExpiry,
		&a.WarrantyExpiry, &a.NextServiceDue, &a.LastServiceDate, &a.UpdatedAt,
	)
	if err != nil {
		return nil, shared.ClassifyPgError("assets: get asset", err)
	}
	return &a, nil
}

func (t *txRepo) SaveWarranty(ctx context.Context, a *Asset) error {
	const query = `
		UPDATE assets SET
			labor_warranty_expiry = $2,
			parts_warranty_expiry = $3,
			compressor_warranty_expiry = $4,
			warranty_expiry = $5,
			next_service_due = $6,
			updated_at = $7
		WHERE id = $1`
	tag, err := t.tx.Exec(ctx, query, a.ID,
		a.LaborWarrantyExpiry, a.PartsWarrantyExpiry, a.CompressorWarrantyExpiry,
		a.WarrantyExpiry, a.NextServiceDue, a.UpdatedAt,
	)
	if err != nil {
		return shared.ClassifyPgError("assets: save warranty", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ClassifyPgError("assets: save warranty", pgx.ErrNoRows)
	}
	return nil
}

func (t *txRepo) UpdateProductTerms(ctx context.Context, productID int64, terms Terms) error {
	const query = `
		UPDATE products SET
			labor_warranty_years = $2,
			parts_warranty_years = $3,
			compressor_warranty_years = $4,
			updated_at = NOW()
		WHERE id = $1`
	tag, err := t.tx.Exec(ctx, query, productID, terms.LaborYears, terms.PartsYears, terms.CompressorYears)
	if err != nil {
		return shared.ClassifyPgError("assets: update product terms", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ClassifyPgError("assets: update product terms", pgx.ErrNoRows)
	}
	return nil
}
