package simulation

import (
	"fmt"

	"github.com/dvloznov/finance-seeder/internal/calendar"
	"github.com/dvloznov/finance-seeder/internal/merchants"
	"github.com/dvloznov/finance-seeder/internal/sampler"
	"github.com/hashicorp/go-multierror"
)

// Config parameterises one simulation run.
type Config struct {
	CustomerID string

	// AccountID skips the account lookup when set.
	AccountID string

	Years  calendar.Range
	Months calendar.Range

	// Bursts bounds the number of burst steps drawn per month.
	Bursts calendar.Range

	MerchantPoolSize int
	MerchantPrefix   string

	PInvestment float64
	PLoan       float64

	// Seed drives every random draw of the run. Zero derives one from the clock.
	Seed uint64

	// TransferAmounts makes transfers carry an amount.
	TransferAmounts bool

	// Profiles overrides the built-in amount ranges and vocabularies when non-nil.
	Profiles sampler.Profiles
}

// DefaultConfig returns the standard horizon: 2020 through 2025, five to ten bursts a month.
func DefaultConfig() Config {
	return Config{
		Years:            calendar.Range{Start: 2020, End: 2025},
		Months:           calendar.Range{Start: 1, End: 12},
		Bursts:           calendar.Range{Start: 5, End: 10},
		MerchantPoolSize: 8,
		MerchantPrefix:   merchants.DefaultPrefix,
		PInvestment:      0.3,
		PLoan:            0.2,
	}
}

// EffectiveProfiles returns the profiles the sampler runs with.
func (c Config) EffectiveProfiles() sampler.Profiles {
	p := c.Profiles
	if p == nil {
		p = sampler.DefaultProfiles()
	}
	if c.TransferAmounts {
		p = p.WithTransferAmounts()
	}
	return p
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs *multierror.Error

	if c.Years.Len() == 0 {
		errs = multierror.Append(errs, fmt.Errorf("year range %s is empty", c.Years))
	}
	if c.Months.Start < 1 || c.Months.End > 12 || c.Months.Len() == 0 {
		errs = multierror.Append(errs, fmt.Errorf("month range %s must lie within [1, 12]", c.Months))
	}
	if c.Bursts.Start < 0 || c.Bursts.End < c.Bursts.Start {
		errs = multierror.Append(errs, fmt.Errorf("burst range %s is invalid", c.Bursts))
	}
	if c.MerchantPoolSize < 1 {
		errs = multierror.Append(errs, fmt.Errorf("merchant pool size %d must be at least 1", c.MerchantPoolSize))
	}
	if c.PInvestment < 0 || c.PInvestment > 1 {
		errs = multierror.Append(errs, fmt.Errorf("p_investment %v outside [0, 1]", c.PInvestment))
	}
	if c.PLoan < 0 || c.PLoan > 1 {
		errs = multierror.Append(errs, fmt.Errorf("p_loan %v outside [0, 1]", c.PLoan))
	}
	if c.CustomerID == "" && c.AccountID == "" {
		errs = multierror.Append(errs, fmt.Errorf("customer id or account id is required"))
	}
	if err := c.EffectiveProfiles().Validate(); err != nil {
		errs = multierror.Append(errs, err)
	}

	return errs.ErrorOrNil()
}
