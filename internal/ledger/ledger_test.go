package ledger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"testing"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-seeder/internal/domain"
	"github.com/dvloznov/finance-seeder/internal/upstream"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntry(seq int) Entry {
	ev := domain.Event{
		Kind:        domain.KindPurchase,
		Date:        civil.Date{Year: 2023, Month: 7, Day: 9},
		Amount:      decimal.NewNullDecimal(decimal.RequireFromString("42.10")),
		Description: "Software",
		MerchantID:  "mock_merchant_55555",
	}
	req, _ := upstream.MapEvent(ev)
	return NewEntry("run-1", seq, "acc-1", ev, req, upstream.Ack{StatusCode: http.StatusCreated, ObjectID: "obj"}, nil)
}

func TestNewEntry(t *testing.T) {
	e := sampleEntry(3)

	assert.Equal(t, "run-1", e.RunID)
	assert.Equal(t, 3, e.Seq)
	assert.Equal(t, domain.KindPurchase, e.Kind)
	assert.Equal(t, upstream.PrimitivePurchase, e.Primitive)
	assert.Equal(t, "mock_merchant_55555", e.MerchantID)
	assert.False(t, e.Failed())
	assert.False(t, e.PostedAt.IsZero())

	failed := NewEntry("run-1", 4, "acc-1", domain.Event{Kind: domain.KindTransfer}, upstream.Request{Primitive: upstream.PrimitiveTransfer}, upstream.Ack{}, errors.New("boom"))
	assert.True(t, failed.Failed())
	assert.Equal(t, "boom", failed.Error)

	rejected := NewEntry("run-1", 5, "acc-1", domain.Event{}, upstream.Request{}, upstream.Ack{StatusCode: http.StatusBadRequest}, nil)
	assert.True(t, rejected.Failed())
}

func TestWriteNDJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteNDJSON(&buf, []Entry{sampleEntry(1), sampleEntry(2)}))

	scanner := bufio.NewScanner(&buf)
	var lines []map[string]any
	for scanner.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)

	assert.Equal(t, "2023-07-09", lines[0]["date"])
	assert.Equal(t, "purchase", lines[0]["primitive"])
	assert.Equal(t, "42.1", lines[0]["amount"])
	assert.EqualValues(t, 2, lines[1]["seq"])
	assert.NotContains(t, lines[0], "error")
}

func TestMultiSink(t *testing.T) {
	a, b := &MemorySink{}, &MemorySink{}
	sink := MultiSink{a, b}
	ctx := context.Background()

	require.NoError(t, sink.Write(ctx, sampleEntry(1)))
	require.NoError(t, sink.Close(ctx))

	assert.Len(t, a.Entries, 1)
	assert.Len(t, b.Entries, 1)
	assert.True(t, a.Closed)
	assert.True(t, b.Closed)
}

type refusingSink struct {
	MemorySink
}

func (r *refusingSink) Abort() error {
	r.Aborted = true
	return errors.New("client already closed")
}

func TestMultiSink_Abort(t *testing.T) {
	a, b := &refusingSink{}, &MemorySink{}
	sink := MultiSink{a, b}

	require.NoError(t, sink.Write(context.Background(), sampleEntry(1)))
	err := sink.Abort()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client already closed")

	assert.True(t, a.Aborted)
	assert.True(t, b.Aborted)
	assert.False(t, a.Closed)
	assert.False(t, b.Closed)
}

func TestBigQuerySink_AbortDropsRows(t *testing.T) {
	put := &recordingPutter{}
	sink := newBigQuerySink(put, "p.d.t")

	require.NoError(t, sink.Write(context.Background(), sampleEntry(1)))
	require.NoError(t, sink.Abort())
	assert.Empty(t, put.batches)
}

func TestParseGCSURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantPrefix string
		wantErr    bool
	}{
		{"gs://bucket/ledgers/2024", "bucket", "ledgers/2024", false},
		{"gs://bucket/ledgers/", "bucket", "ledgers", false},
		{"gs://bucket", "bucket", "", false},
		{"s3://bucket/x", "", "", true},
		{"gs:///x", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, prefix, err := ParseGCSURI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantPrefix, prefix)
		})
	}
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, "ledgers/ledger-abc.ndjson", ObjectName("ledgers", "abc"))
	assert.Equal(t, "ledger-abc.ndjson", ObjectName("", "abc"))
}

func TestParseTableRef(t *testing.T) {
	ref, err := ParseTableRef("proj.finance.seeder_ledger")
	require.NoError(t, err)
	assert.Equal(t, TableRef{ProjectID: "proj", DatasetID: "finance", TableID: "seeder_ledger"}, ref)
	assert.Equal(t, "proj.finance.seeder_ledger", ref.String())

	for _, bad := range []string{"", "proj.dataset", "a..b", "a.b.c.d"} {
		_, err := ParseTableRef(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewRow(t *testing.T) {
	row := NewRow(sampleEntry(7))

	assert.Equal(t, int64(7), row.Seq)
	assert.Equal(t, "purchase", row.Primitive)
	assert.Equal(t, civil.Date{Year: 2023, Month: 7, Day: 9}, row.EventDate)
	require.NotNil(t, row.Amount)
	assert.Equal(t, 0, row.Amount.Cmp(big.NewRat(421, 10)))
	assert.Equal(t, bigquery.NullString{StringVal: "mock_merchant_55555", Valid: true}, row.MerchantID)
	assert.False(t, row.Error.Valid)

	values, insertID, err := row.Save()
	require.NoError(t, err)
	assert.Equal(t, "run-1-7", insertID)
	assert.Equal(t, "42.100000000", values["amount"])

	noAmount := NewRow(Entry{RunID: "r", Seq: 1})
	assert.Nil(t, noAmount.Amount)
	values, _, err = noAmount.Save()
	require.NoError(t, err)
	assert.Nil(t, values["amount"])
}

type recordingPutter struct {
	batches []int
	err     error
}

func (p *recordingPutter) Put(_ context.Context, src interface{}) error {
	rows, ok := src.([]*Row)
	if !ok {
		return errors.New("unexpected row type")
	}
	p.batches = append(p.batches, len(rows))
	return p.err
}

func TestBigQuerySink_Batches(t *testing.T) {
	put := &recordingPutter{}
	sink := newBigQuerySink(put, "p.d.t")
	ctx := context.Background()

	for i := 0; i < 1203; i++ {
		require.NoError(t, sink.Write(ctx, sampleEntry(i)))
	}
	require.NoError(t, sink.Close(ctx))

	assert.Equal(t, []int{500, 500, 203}, put.batches)
}

func TestBigQuerySink_EmptyAndError(t *testing.T) {
	ctx := context.Background()

	put := &recordingPutter{}
	require.NoError(t, newBigQuerySink(put, "p.d.t").Close(ctx))
	assert.Empty(t, put.batches)

	failing := &recordingPutter{err: errors.New("quota")}
	sink := newBigQuerySink(failing, "p.d.t")
	require.NoError(t, sink.Write(ctx, sampleEntry(1)))
	err := sink.Close(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
}

func TestSchema(t *testing.T) {
	schema, err := Schema()
	require.NoError(t, err)

	types := make(map[string]bigquery.FieldType)
	for _, f := range schema {
		types[f.Name] = f.Type
	}

	assert.Equal(t, bigquery.StringFieldType, types["run_id"])
	assert.Equal(t, bigquery.IntegerFieldType, types["seq"])
	assert.Equal(t, bigquery.DateFieldType, types["event_date"])
	assert.Equal(t, bigquery.NumericFieldType, types["amount"])
	assert.Equal(t, bigquery.StringFieldType, types["merchant_id"])
	assert.Equal(t, bigquery.TimestampFieldType, types["posted_at"])
	assert.Len(t, schema, 13)
}
