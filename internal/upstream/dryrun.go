package upstream

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dvloznov/finance-seeder/internal/logger"
)

// DryRunAccountID is the account id a dry run resolves when none is configured.
const DryRunAccountID = "dry-run-account"

// DryRunClient logs every write instead of sending it. Nothing leaves the process.
type DryRunClient struct {
	AccountID string
}

// NewDryRunClient returns a client that resolves accountID, or DryRunAccountID when empty.
func NewDryRunClient(accountID string) *DryRunClient {
	if accountID == "" {
		accountID = DryRunAccountID
	}
	return &DryRunClient{AccountID: accountID}
}

// FetchAccount always succeeds with the configured account id.
func (c *DryRunClient) FetchAccount(ctx context.Context, customerID string) AccountLookup {
	log := logger.FromContext(ctx)
	log.Info().
		Str("customer_id", customerID).
		Str("account_id", c.AccountID).
		Msg("[DRY RUN] Would look up customer account")
	return AccountLookup{Status: LookupOK, AccountID: c.AccountID}
}

// Post logs the request body it would have sent.
func (c *DryRunClient) Post(ctx context.Context, accountID string, req Request) (Ack, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Ack{}, err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("account_id", accountID).
		Str("primitive", string(req.Primitive)).
		RawJSON("body", body).
		Msg("[DRY RUN] Would post")

	return Ack{StatusCode: http.StatusCreated, Message: "dry run"}, nil
}
