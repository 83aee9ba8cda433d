// Package ledger keeps a record of every write a run attempted and exports it once the run ends.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-seeder/internal/domain"
	"github.com/dvloznov/finance-seeder/internal/upstream"
	"github.com/hashicorp/go-multierror"
	"github.com/shopspring/decimal"
)

// Entry is one attempted upstream write.
type Entry struct {
	RunID     string              `json:"run_id"`
	Seq       int                 `json:"seq"`
	Kind      domain.Kind         `json:"kind"`
	Primitive upstream.Primitive  `json:"primitive"`
	AccountID string              `json:"account_id"`
	Date      civil.Date          `json:"date"`
	Amount    decimal.NullDecimal `json:"amount"`

	Description string `json:"description"`
	MerchantID  string `json:"merchant_id,omitempty"`

	StatusCode int       `json:"status_code"`
	ObjectID   string    `json:"object_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	PostedAt   time.Time `json:"posted_at"`
}

// NewEntry records the outcome of posting ev as req.
func NewEntry(runID string, seq int, accountID string, ev domain.Event, req upstream.Request, ack upstream.Ack, postErr error) Entry {
	e := Entry{
		RunID:       runID,
		Seq:         seq,
		Kind:        ev.Kind,
		Primitive:   req.Primitive,
		AccountID:   accountID,
		Date:        ev.Date,
		Amount:      ev.Amount,
		Description: ev.Description,
		MerchantID:  ev.MerchantID,
		StatusCode:  ack.StatusCode,
		ObjectID:    ack.ObjectID,
		PostedAt:    time.Now().UTC(),
	}
	if postErr != nil {
		e.Error = postErr.Error()
	}
	return e
}

// Failed reports whether the write did not succeed.
func (e Entry) Failed() bool {
	return e.Error != "" || e.StatusCode < 200 || e.StatusCode >= 300
}

// Sink receives ledger entries during a run and persists them on Close.
// Abort releases the sink without persisting anything.
type Sink interface {
	Write(ctx context.Context, e Entry) error
	Close(ctx context.Context) error
	Abort() error
}

// WriteNDJSON encodes entries one JSON object per line.
func WriteNDJSON(w io.Writer, entries []Entry) error {
	enc := json.NewEncoder(w)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return fmt.Errorf("encode entry %d: %w", entries[i].Seq, err)
		}
	}
	return nil
}

// MultiSink fans entries out to several sinks.
type MultiSink []Sink

// Write forwards e to every sink and aggregates their errors.
func (m MultiSink) Write(ctx context.Context, e Entry) error {
	var errs *multierror.Error
	for _, s := range m {
		if err := s.Write(ctx, e); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// Close closes every sink, even when an earlier one fails.
func (m MultiSink) Close(ctx context.Context) error {
	var errs *multierror.Error
	for _, s := range m {
		if err := s.Close(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// Abort aborts every sink, even when an earlier one fails.
func (m MultiSink) Abort() error {
	var errs *multierror.Error
	for _, s := range m {
		if err := s.Abort(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// MemorySink keeps entries in memory.
type MemorySink struct {
	Entries []Entry
	Closed  bool
	Aborted bool
}

func (m *MemorySink) Write(_ context.Context, e Entry) error {
	m.Entries = append(m.Entries, e)
	return nil
}

func (m *MemorySink) Close(_ context.Context) error {
	m.Closed = true
	return nil
}

func (m *MemorySink) Abort() error {
	m.Aborted = true
	return nil
}
