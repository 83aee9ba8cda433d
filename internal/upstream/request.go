package upstream

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Primitive is one of the upstream's four write endpoint families.
type Primitive string

const (
	PrimitiveDeposit    Primitive = "deposit"
	PrimitiveWithdrawal Primitive = "withdrawal"
	PrimitiveTransfer   Primitive = "transfer"
	PrimitivePurchase   Primitive = "purchase"
)

// Primitives lists the write primitives in a stable order.
var Primitives = []Primitive{
	PrimitiveDeposit,
	PrimitiveWithdrawal,
	PrimitiveTransfer,
	PrimitivePurchase,
}

// Collection returns the URL segment under /accounts/{id}/ for the primitive.
func (p Primitive) Collection() (string, error) {
	switch p {
	case PrimitiveDeposit:
		return "deposits", nil
	case PrimitiveWithdrawal:
		return "withdrawals", nil
	case PrimitiveTransfer:
		return "transfers", nil
	case PrimitivePurchase:
		return "purchases", nil
	default:
		return "", fmt.Errorf("unknown primitive %q", string(p))
	}
}

// Wire constants shared by every write.
const (
	MediumBalance   = "balance"
	StatusCompleted = "completed"
	PayeeExternal   = "external"
	DateLayout      = "2006-01-02"
)

// Amount is a monetary amount serialised as a bare JSON number with two decimals.
type Amount struct {
	decimal.Decimal
}

// NewAmount wraps d rounded to cents.
func NewAmount(d decimal.Decimal) *Amount {
	return &Amount{Decimal: d.Round(2)}
}

// MarshalJSON writes the amount as a number, not the quoted string decimal.Decimal defaults to.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.StringFixed(2)), nil
}

// Request is the body of one upstream write. Primitive selects the endpoint and is not serialised.
//
// Field presence per primitive:
//
//	deposit, withdrawal: medium, transaction_date, status, amount, description
//	transfer:            medium, payee_id, transaction_date, status, description
//	purchase:            merchant_id, medium, purchase_date, amount, status, description
type Request struct {
	Primitive Primitive `json:"-"`

	MerchantID      string  `json:"merchant_id,omitempty"`
	Medium          string  `json:"medium"`
	PayeeID         string  `json:"payee_id,omitempty"`
	TransactionDate string  `json:"transaction_date,omitempty"`
	PurchaseDate    string  `json:"purchase_date,omitempty"`
	Status          string  `json:"status"`
	Amount          *Amount `json:"amount,omitempty"`
	Description     string  `json:"description"`
}

type requestBody Request

// purchaseBody puts amount ahead of status, as the purchases endpoint documents it.
type purchaseBody struct {
	MerchantID   string  `json:"merchant_id,omitempty"`
	Medium       string  `json:"medium"`
	PurchaseDate string  `json:"purchase_date,omitempty"`
	Amount       *Amount `json:"amount,omitempty"`
	Status       string  `json:"status"`
	Description  string  `json:"description"`
}

// MarshalJSON writes the keys in the order listed above for each primitive.
func (r Request) MarshalJSON() ([]byte, error) {
	if r.Primitive == PrimitivePurchase {
		return json.Marshal(purchaseBody{
			MerchantID:   r.MerchantID,
			Medium:       r.Medium,
			PurchaseDate: r.PurchaseDate,
			Amount:       r.Amount,
			Status:       r.Status,
			Description:  r.Description,
		})
	}
	return json.Marshal(requestBody(r))
}

// Date returns whichever date field the primitive uses.
func (r Request) Date() string {
	if r.Primitive == PrimitivePurchase {
		return r.PurchaseDate
	}
	return r.TransactionDate
}
