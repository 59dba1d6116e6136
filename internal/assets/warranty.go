package assets

import "time"

// EffectiveTerms resolves the term per category. An explicit asset override
// always wins; categories left at zero take the product's term. Without a
// product, the hardcoded defaults apply only when the asset has no override at
// all.
func EffectiveTerms(asset Terms, product *Product) Terms {
	if product == nil {
		if asset.IsZero() {
			return DefaultTerms
		}
		return asset
	}
	out := asset
	if out.LaborYears <= 0 {
		out.LaborYears = product.Terms.LaborYears
	}
	if out.PartsYears <= 0 {
		out.PartsYears = product.Terms.PartsYears
	}
	if out.CompressorYears <= 0 {
		out.CompressorYears = product.Terms.CompressorYears
	}
	return out
}

// ComputeWarrantyExpiries writes the per-category expiries, the overall expiry
// and, when unset, the next service due date onto the asset.
func ComputeWarrantyExpiries(asset *Asset, product *Product) *Asset {
	if asset == nil {
		return nil
	}
	if asset.InstallDate != nil && asset.NextServiceDue == nil {
		due := asset.InstallDate.AddDate(1, 0, 0)
		asset.NextServiceDue = &due
	}

	start := asset.WarrantyStartDate
	if start == nil {
		start = asset.InstallDate
	}
	if start == nil {
		return asset
	}

	terms := EffectiveTerms(asset.Terms, product)
	asset.LaborWarrantyExpiry = expiry(*start, terms.LaborYears)
	asset.PartsWarrantyExpiry = expiry(*start, terms.PartsYears)
	asset.CompressorWarrantyExpiry = expiry(*start, terms.CompressorYears)

	var overall *time.Time
	for _, e := range []*time.Time{asset.LaborWarrantyExpiry, asset.PartsWarrantyExpiry, asset.CompressorWarrantyExpiry} {
		if e != nil && (overall == nil || e.After(*overall)) {
			overall = e
		}
	}
	if overall != nil {
		v := *overall
		overall = &v
	}
	asset.WarrantyExpiry = overall
	return asset
}

// expiry returns nil for a non-positive term so the category drops out of the max.
func expiry(start time.Time, years int) *time.Time {
	if years <= 0 {
		return nil
	}
	e := start.AddDate(years, 0, 0)
	return &e
}
