package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/finance-seeder/internal/logger"
	"github.com/dvloznov/finance-seeder/internal/metrics"
	"github.com/go-resty/resty/v2"
)

const (
	// DefaultBaseURL is the public Nessie sandbox.
	DefaultBaseURL = "http://api.nessieisreal.com"

	// DefaultTimeout bounds a single upstream call.
	DefaultTimeout = 15 * time.Second

	serviceName = "nessie"
)

// Account is the subset of the upstream account record the seeder reads.
type Account struct {
	ID            string  `json:"_id"`
	Type          string  `json:"type"`
	Nickname      string  `json:"nickname"`
	Rewards       int     `json:"rewards"`
	Balance       float64 `json:"balance"`
	AccountNumber string  `json:"account_number"`
	CustomerID    string  `json:"customer_id"`
}

// NessieOptions configures a NessieClient.
type NessieOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// AccountFallback lists every account and filters by customer when the customer lookup is empty or fails.
	AccountFallback bool

	Metrics *metrics.Recorder
}

// NessieClient is the concrete Client talking to the sandbox over HTTP.
// The API key travels as the key query parameter and is never logged.
type NessieClient struct {
	http     *resty.Client
	apiKey   string
	fallback bool
	metrics  *metrics.Recorder
}

// NewNessieClient creates a client with JSON headers and the API key applied to every request.
func NewNessieClient(opts NessieOptions) *NessieClient {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetQueryParam("key", opts.APIKey)

	return &NessieClient{
		http:     rc,
		apiKey:   opts.APIKey,
		fallback: opts.AccountFallback,
		metrics:  opts.Metrics,
	}
}

// FetchAccount returns the first account of the customer.
func (c *NessieClient) FetchAccount(ctx context.Context, customerID string) AccountLookup {
	log := logger.FromContext(ctx)

	lookup := c.fetchCustomerAccount(ctx, customerID)
	if lookup.OK() || !c.fallback {
		if !lookup.OK() {
			log.Warn().
				Str("customer_id", customerID).
				Str("status", lookup.Status.String()).
				AnErr("cause", lookup.Err).
				Msg("Account lookup failed")
		}
		return lookup
	}

	log.Warn().
		Str("customer_id", customerID).
		Str("status", lookup.Status.String()).
		AnErr("cause", lookup.Err).
		Msg("Customer account lookup failed, falling back to account listing")

	accounts, err := c.listAllAccounts(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Account listing failed")
		return lookup
	}
	for _, a := range accounts {
		if a.CustomerID == customerID && a.ID != "" {
			return AccountLookup{Status: LookupOK, AccountID: a.ID}
		}
	}
	return lookup
}

func (c *NessieClient) fetchCustomerAccount(ctx context.Context, customerID string) AccountLookup {
	resp, err := c.do(ctx, http.MethodGet, "/customers/{customerId}/accounts", func(r *resty.Request) *resty.Request {
		return r.SetPathParam("customerId", customerID)
	})
	if err != nil {
		return AccountLookup{Status: LookupTransportError, Err: err}
	}
	return ParseAccountLookup(resp.Body())
}

// ParseAccountLookup interprets a /customers/{id}/accounts body: a JSON array whose first element's _id is the account.
func ParseAccountLookup(body []byte) AccountLookup {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return AccountLookup{Status: LookupMalformed, Err: fmt.Errorf("decode account list: %w", err)}
	}
	if raw == nil {
		return AccountLookup{Status: LookupMalformed, Err: errors.New("account list is null")}
	}
	if len(raw) == 0 {
		return AccountLookup{Status: LookupEmpty}
	}

	var first struct {
		ID *string `json:"_id"`
	}
	if err := json.Unmarshal(raw[0], &first); err != nil {
		return AccountLookup{Status: LookupMalformed, Err: fmt.Errorf("decode first account: %w", err)}
	}
	if first.ID == nil || *first.ID == "" {
		return AccountLookup{Status: LookupMalformed, Err: errors.New("first account has no _id")}
	}

	return AccountLookup{Status: LookupOK, AccountID: *first.ID}
}

// ListAccounts returns every account of the customer.
func (c *NessieClient) ListAccounts(ctx context.Context, customerID string) ([]Account, error) {
	resp, err := c.do(ctx, http.MethodGet, "/customers/{customerId}/accounts", func(r *resty.Request) *resty.Request {
		return r.SetPathParam("customerId", customerID)
	})
	if err != nil {
		return nil, fmt.Errorf("ListAccounts: %w", err)
	}

	var accounts []Account
	if err := json.Unmarshal(resp.Body(), &accounts); err != nil {
		return nil, fmt.Errorf("ListAccounts: decode: %w", err)
	}
	return accounts, nil
}

func (c *NessieClient) listAllAccounts(ctx context.Context) ([]Account, error) {
	resp, err := c.do(ctx, http.MethodGet, "/accounts", nil)
	if err != nil {
		return nil, fmt.Errorf("listAllAccounts: %w", err)
	}

	var accounts []Account
	if err := json.Unmarshal(resp.Body(), &accounts); err != nil {
		return nil, fmt.Errorf("listAllAccounts: decode: %w", err)
	}
	return accounts, nil
}

// Post sends one write to /accounts/{accountId}/<collection>.
func (c *NessieClient) Post(ctx context.Context, accountID string, req Request) (Ack, error) {
	collection, err := req.Primitive.Collection()
	if err != nil {
		return Ack{}, fmt.Errorf("Post: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/accounts/{accountId}/"+collection, func(r *resty.Request) *resty.Request {
		return r.SetPathParam("accountId", accountID).SetBody(req)
	})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return Ack{StatusCode: se.StatusCode}, fmt.Errorf("Post %s: %w", req.Primitive, err)
		}
		return Ack{}, fmt.Errorf("Post %s: %w", req.Primitive, err)
	}

	return parseAck(resp), nil
}

func parseAck(resp *resty.Response) Ack {
	ack := Ack{StatusCode: resp.StatusCode()}

	var body struct {
		Message       string `json:"message"`
		ObjectCreated struct {
			ID string `json:"_id"`
		} `json:"objectCreated"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil {
		ack.Message = body.Message
		ack.ObjectID = body.ObjectCreated.ID
	}
	return ack
}

// do executes one request, records its duration and turns non-2xx answers into a *StatusError.
// endpoint is the unexpanded path template so metric labels stay low-cardinality.
func (c *NessieClient) do(ctx context.Context, method, endpoint string, prep func(*resty.Request) *resty.Request) (*resty.Response, error) {
	log := logger.FromContext(ctx)
	start := time.Now()

	req := c.http.R().SetContext(ctx)
	if prep != nil {
		req = prep(req)
	}

	resp, err := req.Execute(method, endpoint)
	if err != nil {
		err = c.redact(err)
		c.metrics.ObserveRequest(time.Since(start), serviceName, method, endpoint, 0)
		log.Warn().
			Err(err).
			Str("method", method).
			Str("endpoint", endpoint).
			Msg("Upstream request failed")
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}

	c.metrics.ObserveRequest(time.Since(start), serviceName, method, endpoint, resp.StatusCode())

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		log.Warn().
			Str("method", method).
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode()).
			Msg("Upstream returned non-2xx status")
		return resp, &StatusError{StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 256)}
	}

	log.Debug().
		Str("method", method).
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode()).
		Dur("duration", time.Since(start)).
		Msg("Upstream request completed")

	return resp, nil
}

// redact strips the API key from transport errors, which embed the full request URL.
func (c *NessieClient) redact(err error) error {
	if c.apiKey == "" || !strings.Contains(err.Error(), c.apiKey) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), c.apiKey, "REDACTED"), err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
