package domain

import (
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Kind is the abstract event taxonomy the generator reasons about.
// It is richer than the upstream's write primitives; the collapse happens in the upstream mapper.
type Kind string

const (
	// KindDeposit is regular business revenue.
	KindDeposit Kind = "deposit"
	// KindWithdrawal is an operating expense paid out of the balance.
	KindWithdrawal Kind = "withdrawal"
	// KindPurchase is a purchase at one of the pooled merchants.
	KindPurchase Kind = "purchase"
	// KindTransfer is money moved to an external payee.
	KindTransfer Kind = "transfer"
	// KindInvestment is a capital expense, e.g. equipment.
	KindInvestment Kind = "investment"
	// KindLoanProceeds is a loan disbursement received from a lender.
	KindLoanProceeds Kind = "loan_proceeds"
)

// Kinds lists every event kind in emission order.
var Kinds = []Kind{
	KindDeposit,
	KindWithdrawal,
	KindTransfer,
	KindPurchase,
	KindInvestment,
	KindLoanProceeds,
}

// ParseKind resolves a kind name as used in configuration files.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown event kind %q", s)
}

// Event is one generated financial event before it is mapped onto an upstream request.
// Events are produced by the sampler, consumed by the mapper and never stored.
type Event struct {
	Kind Kind
	Date civil.Date

	// Amount is invalid for kinds that carry no amount (Transfer by default).
	Amount decimal.NullDecimal

	Description string

	// MerchantID is set for purchases only.
	MerchantID string
}

// HasAmount reports whether the event carries a monetary amount.
func (e Event) HasAmount() bool {
	return e.Amount.Valid
}
