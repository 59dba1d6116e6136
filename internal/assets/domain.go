package assets

import "time"

// Terms holds warranty lengths in whole years per category.
type Terms struct {
	LaborYears      int `json:"labor_years"`
	PartsYears      int `json:"parts_years"`
	CompressorYears int `json:"compressor_years"`
}

// DefaultTerms apply when an asset has no linked product and no overrides.
var DefaultTerms = Terms{LaborYears: 1, PartsYears: 10, CompressorYears: 10}

// IsZero reports whether no category carries a term.
func (t Terms) IsZero() bool {
	return t.LaborYears <= 0 && t.PartsYears <= 0 && t.CompressorYears <= 0
}

// Product is the catalogue record an asset was installed from.
type Product struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Terms Terms  `json:"terms"`
}

// Asset captures the warranty-relevant fields of installed equipment.
type Asset struct {
	ID                       int64
	CustomerID               int64
	SiteID                   *int64
	ProductID                *int64
	Name                     string
	InstallDate              *time.Time
	WarrantyStartDate        *time.Time
	Terms                    Terms
	LaborWarrantyExpiry      *time.Time
	PartsWarrantyExpiry      *time.Time
	CompressorWarrantyExpiry *time.Time
	WarrantyExpiry           *time.Time
	NextServiceDue           *time.Time
	LastServiceDate          *time.Time
	UpdatedAt                time.Time
}
