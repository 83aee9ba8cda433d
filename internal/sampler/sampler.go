// Package sampler draws amounts and descriptions for generated events.
package sampler

import (
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-seeder/internal/domain"
	"github.com/shopspring/decimal"
)

// Rand is the slice of math/rand/v2's *Rand the sampler needs.
type Rand interface {
	IntN(n int) int
	Float64() float64
}

// Sampler turns an event kind and date into a fully populated event.
type Sampler struct {
	rnd      Rand
	profiles Profiles
}

// New validates the profiles and returns a sampler drawing from rnd.
func New(rnd Rand, profiles Profiles) (*Sampler, error) {
	if err := profiles.Validate(); err != nil {
		return nil, fmt.Errorf("sampler.New: %w", err)
	}
	return &Sampler{rnd: rnd, profiles: profiles.Clone()}, nil
}

// Amount draws a continuous-uniform amount from the kind's range, rounded half away from zero to cents.
func (s *Sampler) Amount(kind domain.Kind) decimal.Decimal {
	p := s.profiles[kind]
	span := p.Max.Sub(p.Min).InexactFloat64()
	return p.Min.Add(decimal.NewFromFloat(s.rnd.Float64() * span)).Round(2)
}

// Description draws a description uniformly from the kind's vocabulary.
func (s *Sampler) Description(kind domain.Kind) string {
	d := s.profiles[kind].Descriptions
	return d[s.rnd.IntN(len(d))]
}

// Sample builds one event. The amount is drawn before the description.
// merchantID is only kept for purchases.
func (s *Sampler) Sample(kind domain.Kind, date civil.Date, merchantID string) domain.Event {
	ev := domain.Event{Kind: kind, Date: date}

	if s.profiles[kind].HasAmount {
		ev.Amount = decimal.NewNullDecimal(s.Amount(kind))
	}
	ev.Description = s.Description(kind)

	if kind == domain.KindPurchase {
		ev.MerchantID = merchantID
	}

	return ev
}
