package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-seeder/internal/logger"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// BatchSize caps the rows sent in one streaming insert.
const BatchSize = 500

// Row is the BigQuery shape of an Entry.
type Row struct {
	RunID     string     `bigquery:"run_id"`    // REQUIRED
	Seq       int64      `bigquery:"seq"`       // REQUIRED
	Kind      string     `bigquery:"kind"`      // REQUIRED
	Primitive string     `bigquery:"primitive"` // REQUIRED
	AccountID string     `bigquery:"account_id"`
	EventDate civil.Date `bigquery:"event_date"`

	Amount *big.Rat `bigquery:"amount"` // NULLABLE NUMERIC

	Description string              `bigquery:"description"`
	MerchantID  bigquery.NullString `bigquery:"merchant_id"`

	StatusCode int64               `bigquery:"status_code"`
	ObjectID   bigquery.NullString `bigquery:"object_id"`
	Error      bigquery.NullString `bigquery:"error"`
	PostedAt   time.Time           `bigquery:"posted_at"`
}

// NewRow converts an entry to its table row.
func NewRow(e Entry) *Row {
	row := &Row{
		RunID:       e.RunID,
		Seq:         int64(e.Seq),
		Kind:        string(e.Kind),
		Primitive:   string(e.Primitive),
		AccountID:   e.AccountID,
		EventDate:   e.Date,
		Description: e.Description,
		MerchantID:  nullString(e.MerchantID),
		StatusCode:  int64(e.StatusCode),
		ObjectID:    nullString(e.ObjectID),
		Error:       nullString(e.Error),
		PostedAt:    e.PostedAt,
	}
	if e.Amount.Valid {
		row.Amount = e.Amount.Decimal.Rat()
	}
	return row
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

// Save implements bigquery.ValueSaver. The insert id makes retried batches idempotent.
func (r *Row) Save() (map[string]bigquery.Value, string, error) {
	var amount bigquery.Value
	if r.Amount != nil {
		amount = bigquery.NumericString(r.Amount)
	}

	return map[string]bigquery.Value{
		"run_id":      r.RunID,
		"seq":         r.Seq,
		"kind":        r.Kind,
		"primitive":   r.Primitive,
		"account_id":  r.AccountID,
		"event_date":  r.EventDate,
		"amount":      amount,
		"description": r.Description,
		"merchant_id": r.MerchantID,
		"status_code": r.StatusCode,
		"object_id":   r.ObjectID,
		"error":       r.Error,
		"posted_at":   r.PostedAt,
	}, fmt.Sprintf("%s-%d", r.RunID, r.Seq), nil
}

// TableRef names a table as project.dataset.table.
type TableRef struct {
	ProjectID string
	DatasetID string
	TableID   string
}

// ParseTableRef parses project.dataset.table.
func ParseTableRef(s string) (TableRef, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return TableRef{}, fmt.Errorf("invalid BigQuery table %q, want project.dataset.table", s)
	}
	return TableRef{ProjectID: parts[0], DatasetID: parts[1], TableID: parts[2]}, nil
}

func (t TableRef) String() string {
	return t.ProjectID + "." + t.DatasetID + "." + t.TableID
}

// RowPutter is the part of *bigquery.Inserter the sink uses.
type RowPutter interface {
	Put(ctx context.Context, src interface{}) error
}

// BigQuerySink buffers entries and streams them into a table on Close.
type BigQuerySink struct {
	client *bigquery.Client
	put    RowPutter
	table  string

	rows []*Row
}

// NewBigQuerySink opens a BigQuery client for table (project.dataset.table).
func NewBigQuerySink(ctx context.Context, table string, opts ...option.ClientOption) (*BigQuerySink, error) {
	ref, err := ParseTableRef(table)
	if err != nil {
		return nil, err
	}

	client, err := bigquery.NewClient(ctx, ref.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewBigQuerySink: bigquery client: %w", err)
	}

	if err := EnsureTable(ctx, client, ref); err != nil {
		client.Close()
		return nil, err
	}

	inserter := client.DatasetInProject(ref.ProjectID, ref.DatasetID).Table(ref.TableID).Inserter()
	sink := newBigQuerySink(inserter, ref.String())
	sink.client = client
	return sink, nil
}

// Schema is the ledger table schema, inferred from Row.
func Schema() (bigquery.Schema, error) {
	return bigquery.InferSchema(Row{})
}

// EnsureTable creates the ledger table, partitioned by event date, unless it already exists.
func EnsureTable(ctx context.Context, client *bigquery.Client, ref TableRef) error {
	table := client.DatasetInProject(ref.ProjectID, ref.DatasetID).Table(ref.TableID)

	_, err := table.Metadata(ctx)
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
		return fmt.Errorf("EnsureTable: reading %s: %w", ref, err)
	}

	schema, err := Schema()
	if err != nil {
		return fmt.Errorf("EnsureTable: inferring schema: %w", err)
	}

	meta := &bigquery.TableMetadata{
		Schema:           schema,
		TimePartitioning: &bigquery.TimePartitioning{Field: "event_date"},
		Description:      "Upstream writes attempted by seeder runs.",
	}
	if err := table.Create(ctx, meta); err != nil {
		return fmt.Errorf("EnsureTable: creating %s: %w", ref, err)
	}

	log := logger.FromContext(ctx)
	log.Info().Str("table", ref.String()).Msg("Created ledger table")
	return nil
}

func newBigQuerySink(put RowPutter, table string) *BigQuerySink {
	return &BigQuerySink{put: put, table: table}
}

func (s *BigQuerySink) Write(_ context.Context, e Entry) error {
	s.rows = append(s.rows, NewRow(e))
	return nil
}

// Abort drops the buffered rows and releases the client.
func (s *BigQuerySink) Abort() error {
	s.rows = nil
	if s.client == nil {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("BigQuerySink: closing client: %w", err)
	}
	return nil
}

// Close inserts the buffered rows in batches of BatchSize.
func (s *BigQuerySink) Close(ctx context.Context) error {
	if s.client != nil {
		defer s.client.Close()
	}

	for start := 0; start < len(s.rows); start += BatchSize {
		end := min(start+BatchSize, len(s.rows))
		if err := s.put.Put(ctx, s.rows[start:end]); err != nil {
			return fmt.Errorf("BigQuerySink: inserting rows %d-%d into %s: %w", start, end-1, s.table, err)
		}
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("table", s.table).
		Int("rows", len(s.rows)).
		Msg("Ledger inserted")

	return nil
}
