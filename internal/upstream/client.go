// Package upstream is the adapter between the generator and the sandbox banking API.
package upstream

import (
	"context"
	"fmt"
)

// Client defines the upstream operations the simulation consumes.
// This interface enables stubbing the sandbox API in tests and dry runs.
type Client interface {
	// FetchAccount resolves the first account of a customer.
	// Failures are reported through the lookup status, never as a panic or a bare nil.
	FetchAccount(ctx context.Context, customerID string) AccountLookup

	// Post sends a single write for accountID.
	Post(ctx context.Context, accountID string, req Request) (Ack, error)
}

// Ack is what the upstream answered to a write.
type Ack struct {
	StatusCode int
	Message    string

	// ObjectID is the id of the created record when the upstream returned one.
	ObjectID string
}

// LookupStatus classifies the outcome of an account lookup.
type LookupStatus int

const (
	// LookupOK means an account id was found.
	LookupOK LookupStatus = iota
	// LookupEmpty means the customer has no accounts.
	LookupEmpty
	// LookupMalformed means the response could not be interpreted as an account list.
	LookupMalformed
	// LookupTransportError means the request failed or returned a non-2xx status.
	LookupTransportError
)

func (s LookupStatus) String() string {
	switch s {
	case LookupOK:
		return "ok"
	case LookupEmpty:
		return "empty"
	case LookupMalformed:
		return "malformed"
	case LookupTransportError:
		return "transport_error"
	default:
		return fmt.Sprintf("LookupStatus(%d)", int(s))
	}
}

// AccountLookup is the result of resolving a customer's account.
type AccountLookup struct {
	Status    LookupStatus
	AccountID string

	// Err carries the cause for malformed and transport outcomes.
	Err error
}

// OK reports whether the lookup produced an account id.
func (l AccountLookup) OK() bool {
	return l.Status == LookupOK && l.AccountID != ""
}

func (l AccountLookup) String() string {
	switch {
	case l.OK():
		return fmt.Sprintf("account %s", l.AccountID)
	case l.Err != nil:
		return fmt.Sprintf("%s: %v", l.Status, l.Err)
	default:
		return l.Status.String()
	}
}

// StatusError is returned when the upstream answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}
