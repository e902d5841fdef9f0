package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PlanTier is the enumerated commercial tier of a subscription.
type PlanTier string

const (
	TierFree     PlanTier = "free"
	TierStarter  PlanTier = "starter"
	TierPro      PlanTier = "pro"
	TierBusiness PlanTier = "business"
)

// IsFree reports whether the tier is the free tier, which is never charged.
func (t PlanTier) IsFree() bool {
	return t == TierFree
}

// Plan describes a commercial tier: its trial allowance and list prices.
// The subscription itself carries the amount actually charged (negotiated
// prices, grandfathered rates); plan prices are defaults for provisioning.
type Plan struct {
	Tier         PlanTier
	Name         string
	TrialDays    int
	MonthlyPrice decimal.Decimal
	AnnualPrice  decimal.Decimal
	Currency     string
}

// Catalog maps tiers to their plan definitions.
type Catalog map[PlanTier]Plan

// NewCatalog validates and indexes the given plans. A free tier must carry
// no price and no trial; paid tiers must not have negative prices.
func NewCatalog(plans ...Plan) (Catalog, error) {
	if len(plans) == 0 {
		return nil, fmt.Errorf("billing: at least one plan is required")
	}

	c := make(Catalog, len(plans))
	for _, p := range plans {
		if p.Tier == "" {
			return nil, fmt.Errorf("billing: plan %q has no tier", p.Name)
		}
		if _, exists := c[p.Tier]; exists {
			return nil, fmt.Errorf("billing: duplicate plan tier %q", p.Tier)
		}
		if p.Tier.IsFree() {
			if !p.MonthlyPrice.IsZero() || !p.AnnualPrice.IsZero() {
				return nil, fmt.Errorf("billing: free tier must have zero price")
			}
			if p.TrialDays != 0 {
				return nil, fmt.Errorf("billing: free tier cannot have trial days")
			}
		}
		if p.MonthlyPrice.IsNegative() || p.AnnualPrice.IsNegative() {
			return nil, fmt.Errorf("billing: plan %q has a negative price", p.Tier)
		}
		if p.TrialDays < 0 {
			return nil, fmt.Errorf("billing: plan %q has negative trial days", p.Tier)
		}
		c[p.Tier] = p
	}
	return c, nil
}

// Get returns the plan for a tier.
func (c Catalog) Get(tier PlanTier) (Plan, bool) {
	p, ok := c[tier]
	return p, ok
}

// TrialDays returns the trial allowance for a tier, zero for unknown tiers.
func (c Catalog) TrialDays(tier PlanTier) int {
	return c[tier].TrialDays
}

// DefaultCatalog returns the standard plan lineup.
func DefaultCatalog() Catalog {
	c, err := NewCatalog(
		Plan{Tier: TierFree, Name: "Free"},
		Plan{
			Tier:         TierStarter,
			Name:         "Starter",
			TrialDays:    14,
			MonthlyPrice: decimal.NewFromFloat(19.90),
			AnnualPrice:  decimal.NewFromFloat(199),
			Currency:     "EUR",
		},
		Plan{
			Tier:         TierPro,
			Name:         "Professional",
			TrialDays:    14,
			MonthlyPrice: decimal.NewFromFloat(49.90),
			AnnualPrice:  decimal.NewFromFloat(499),
			Currency:     "EUR",
		},
		Plan{
			Tier:         TierBusiness,
			Name:         "Business",
			TrialDays:    30,
			MonthlyPrice: decimal.NewFromFloat(99.90),
			AnnualPrice:  decimal.NewFromFloat(999),
			Currency:     "EUR",
		},
	)
	if err != nil {
		panic(err)
	}
	return c
}
