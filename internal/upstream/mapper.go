package upstream

import (
	"fmt"

	"github.com/dvloznov/finance-seeder/internal/domain"
)

// PrimitiveFor returns the write primitive an abstract kind collapses onto.
// Deposit and LoanProceeds both become deposits; Withdrawal and Investment both become withdrawals.
// Downstream consumers can only tell them apart by description.
func PrimitiveFor(kind domain.Kind) (Primitive, error) {
	switch kind {
	case domain.KindDeposit, domain.KindLoanProceeds:
		return PrimitiveDeposit, nil
	case domain.KindWithdrawal, domain.KindInvestment:
		return PrimitiveWithdrawal, nil
	case domain.KindPurchase:
		return PrimitivePurchase, nil
	case domain.KindTransfer:
		return PrimitiveTransfer, nil
	default:
		return "", fmt.Errorf("PrimitiveFor: unknown event kind %q", string(kind))
	}
}

// MapEvent converts a generated event into the upstream request that represents it.
func MapEvent(ev domain.Event) (Request, error) {
	primitive, err := PrimitiveFor(ev.Kind)
	if err != nil {
		return Request{}, fmt.Errorf("MapEvent: %w", err)
	}

	req := Request{
		Primitive:   primitive,
		Medium:      MediumBalance,
		Status:      StatusCompleted,
		Description: ev.Description,
	}

	date := ev.Date.String()

	switch primitive {
	case PrimitivePurchase:
		if ev.MerchantID == "" {
			return Request{}, fmt.Errorf("MapEvent: purchase on %s has no merchant", date)
		}
		req.MerchantID = ev.MerchantID
		req.PurchaseDate = date
	case PrimitiveTransfer:
		req.PayeeID = PayeeExternal
		req.TransactionDate = date
	default:
		req.TransactionDate = date
	}

	if ev.HasAmount() {
		req.Amount = NewAmount(ev.Amount.Decimal)
	} else if primitive != PrimitiveTransfer {
		return Request{}, fmt.Errorf("MapEvent: %s on %s has no amount", ev.Kind, date)
	}

	return req, nil
}
