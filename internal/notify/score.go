package notify

import "matchd/internal/market"

const (
	categoryWeight   = 30.0
	sameAreaWeight   = 25.0
	sameRegionWeight = 15.0
	budgetWeight     = 20.0
	premiumBoost     = 15.0
)

// MatchScore is a deterministic fit measure between a listing and a
// provider: category match, geographic proximity, budget compatibility,
// quality signals and a paid-tier boost.
func MatchScore(l *market.Listing, p *market.Provider) float64 {
	var s float64
	if l.Category != "" && hasCategory(p, l.Category) {
		s += categoryWeight
	}
	s += proximity(l.LocationCode, p.LocationCode)
	s += budgetFit(l, p)
	s += p.CompletionRate*10 + p.Rating*2
	if p.Premium {
		s += premiumBoost
	}
	return s
}

// hasCategory treats a provider with no stated categories as unrestricted.
func hasCategory(p *market.Provider, c string) bool {
	if len(p.Categories) == 0 {
		return true
	}
	for _, pc := range p.Categories {
		if pc == c {
			return true
		}
	}
	return false
}

// proximity compares normalized location codes: full weight for the same
// area, partial for the same region (shared two-character prefix).
func proximity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return sameAreaWeight
	}
	if len(a) >= 2 && len(b) >= 2 && a[:2] == b[:2] {
		return sameRegionWeight
	}
	return 0
}

// budgetFit awards full weight when the listing budget is compatible with
// the provider's stated range, half when only one bound fits. Providers
// with no stated range accept anything.
func budgetFit(l *market.Listing, p *market.Provider) float64 {
	if p.BudgetMin == 0 && p.BudgetMax == 0 {
		return budgetWeight
	}
	minOK := p.BudgetMin == 0 || l.BudgetMax >= p.BudgetMin
	maxOK := p.BudgetMax == 0 || l.BudgetMin <= p.BudgetMax
	switch {
	case minOK && maxOK:
		return budgetWeight
	case minOK || maxOK:
		return budgetWeight / 2
	}
	return 0
}
