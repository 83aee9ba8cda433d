package stub

import (
	"context"
	"net/http"

	"github.com/dvloznov/finance-seeder/internal/upstream"
)

// Call is one recorded write.
type Call struct {
	AccountID string
	Request   upstream.Request
}

// Client implements upstream.Client for testing. It records every call and answers from scripted results.
type Client struct {
	// Lookup is returned by FetchAccount.
	Lookup upstream.AccountLookup

	// PostStatus is the status every write answers with; zero means 201.
	PostStatus int

	// PostErr, when set, is returned by every write.
	PostErr error

	Lookups []string
	Calls   []Call
}

// NewClient creates a stub whose lookup resolves accountID.
func NewClient(accountID string) *Client {
	return &Client{
		Lookup: upstream.AccountLookup{Status: upstream.LookupOK, AccountID: accountID},
	}
}

// NewEmptyClient creates a stub whose customer has no accounts.
func NewEmptyClient() *Client {
	return &Client{
		Lookup: upstream.AccountLookup{Status: upstream.LookupEmpty},
	}
}

// FetchAccount records the customer id and returns the scripted lookup.
func (c *Client) FetchAccount(_ context.Context, customerID string) upstream.AccountLookup {
	c.Lookups = append(c.Lookups, customerID)
	return c.Lookup
}

// Post records the write and answers with PostStatus or PostErr.
func (c *Client) Post(_ context.Context, accountID string, req upstream.Request) (upstream.Ack, error) {
	c.Calls = append(c.Calls, Call{AccountID: accountID, Request: req})

	if c.PostErr != nil {
		return upstream.Ack{}, c.PostErr
	}

	status := c.PostStatus
	if status == 0 {
		status = http.StatusCreated
	}
	if status < 200 || status >= 300 {
		return upstream.Ack{StatusCode: status}, &upstream.StatusError{StatusCode: status}
	}
	return upstream.Ack{StatusCode: status}, nil
}

// Requests returns the recorded write bodies in order.
func (c *Client) Requests() []upstream.Request {
	out := make([]upstream.Request, len(c.Calls))
	for i, call := range c.Calls {
		out[i] = call.Request
	}
	return out
}

// CountByPrimitive tallies recorded writes per primitive.
func (c *Client) CountByPrimitive() map[upstream.Primitive]int {
	out := make(map[upstream.Primitive]int)
	for _, call := range c.Calls {
		out[call.Request.Primitive]++
	}
	return out
}
