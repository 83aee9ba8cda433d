package sampler

import (
	"fmt"

	"github.com/dvloznov/finance-seeder/internal/domain"
	"github.com/hashicorp/go-multierror"
	"github.com/shopspring/decimal"
)

// Profile is the amount range and description vocabulary for one event kind.
type Profile struct {
	Min          decimal.Decimal
	Max          decimal.Decimal
	Descriptions []string

	// HasAmount is false for kinds whose upstream request carries no amount.
	HasAmount bool
}

// Profiles holds one profile per event kind.
type Profiles map[domain.Kind]Profile

// DefaultProfiles returns the amount ranges (USD) and vocabularies the seeder ships with.
func DefaultProfiles() Profiles {
	return Profiles{
		domain.KindDeposit: {
			Min:       decimal.NewFromInt(2000),
			Max:       decimal.NewFromInt(15000),
			HasAmount: true,
			Descriptions: []string{
				"Monthly business revenue",
				"Service Income",
				"Freelance Payment",
				"Product Sale",
			},
		},
		domain.KindWithdrawal: {
			Min:       decimal.NewFromInt(500),
			Max:       decimal.NewFromInt(5000),
			HasAmount: true,
			Descriptions: []string{
				"Rent Payment",
				"Utility Bill",
				"Software Subscription",
				"Insurance Premium",
				"Employee Salary",
				"Marketing Expense",
				"Legal Consultation",
				"Tax Payment",
				"Utility or rent payment",
			},
		},
		domain.KindPurchase: {
			Min:       decimal.NewFromInt(100),
			Max:       decimal.NewFromInt(2500),
			HasAmount: true,
			Descriptions: []string{
				"Inventory Purchase",
				"Office Supplies",
				"Laptop",
				"Travel Booking",
				"Training Workshop",
				"Furniture",
				"Business Software",
				"Ad Spend",
				"Business supplies or inventory",
			},
		},
		// The range only applies when transfer amounts are switched on.
		domain.KindTransfer: {
			Min:       decimal.NewFromInt(500),
			Max:       decimal.NewFromInt(5000),
			HasAmount: false,
			Descriptions: []string{
				"Loan Repayment",
				"Interbank Transfer",
			},
		},
		domain.KindInvestment: {
			Min:       decimal.NewFromInt(3000),
			Max:       decimal.NewFromInt(10000),
			HasAmount: true,
			Descriptions: []string{
				"Equipment Purchase",
				"Asset Acquisition",
			},
		},
		domain.KindLoanProceeds: {
			Min:       decimal.NewFromInt(10000),
			Max:       decimal.NewFromInt(30000),
			HasAmount: true,
			Descriptions: []string{
				"Loan Received from Lender",
			},
		},
	}
}

// Clone returns a deep copy so callers can override entries without touching the defaults.
func (p Profiles) Clone() Profiles {
	out := make(Profiles, len(p))
	for k, v := range p {
		v.Descriptions = append([]string(nil), v.Descriptions...)
		out[k] = v
	}
	return out
}

// WithTransferAmounts returns a copy in which transfers carry an amount drawn from their range.
func (p Profiles) WithTransferAmounts() Profiles {
	out := p.Clone()
	t := out[domain.KindTransfer]
	t.HasAmount = true
	out[domain.KindTransfer] = t
	return out
}

// Validate checks every kind has a profile with a usable range and vocabulary.
func (p Profiles) Validate() error {
	var errs *multierror.Error

	for _, kind := range domain.Kinds {
		prof, ok := p[kind]
		if !ok {
			errs = multierror.Append(errs, fmt.Errorf("profile %s: missing", kind))
			continue
		}
		if len(prof.Descriptions) == 0 {
			errs = multierror.Append(errs, fmt.Errorf("profile %s: empty description vocabulary", kind))
		}
		if !prof.HasAmount {
			continue
		}
		if prof.Min.IsNegative() {
			errs = multierror.Append(errs, fmt.Errorf("profile %s: min %s is negative", kind, prof.Min))
		}
		if prof.Max.LessThan(prof.Min) {
			errs = multierror.Append(errs, fmt.Errorf("profile %s: max %s below min %s", kind, prof.Max, prof.Min))
		}
		if !prof.Min.Equal(prof.Min.Round(2)) || !prof.Max.Equal(prof.Max.Round(2)) {
			errs = multierror.Append(errs, fmt.Errorf("profile %s: range bounds must have at most two decimals", kind))
		}
	}

	return errs.ErrorOrNil()
}
