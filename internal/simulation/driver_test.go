package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-seeder/internal/calendar"
	"github.com/dvloznov/finance-seeder/internal/domain"
	"github.com/dvloznov/finance-seeder/internal/ledger"
	"github.com/dvloznov/finance-seeder/internal/logger"
	"github.com/dvloznov/finance-seeder/internal/sampler"
	"github.com/dvloznov/finance-seeder/internal/upstream"
	"github.com/dvloznov/finance-seeder/internal/upstream/mocks"
	"github.com/dvloznov/finance-seeder/internal/upstream/stub"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func quietContext() context.Context {
	return logger.WithContext(context.Background(), zerolog.Nop())
}

func singleMonth(year, month, bursts int, seed uint64) Config {
	cfg := DefaultConfig()
	cfg.CustomerID = "cust-1"
	cfg.Years = calendar.Range{Start: year, End: year}
	cfg.Months = calendar.Range{Start: month, End: month}
	cfg.Bursts = calendar.Range{Start: bursts, End: bursts}
	cfg.PInvestment = 0
	cfg.PLoan = 0
	cfg.Seed = seed
	return cfg
}

func wireBodies(t *testing.T, reqs []upstream.Request) []string {
	t.Helper()
	out := make([]string, len(reqs))
	for i, r := range reqs {
		b, err := json.Marshal(r)
		require.NoError(t, err)
		out[i] = string(r.Primitive) + " " + string(b)
	}
	return out
}

func TestRun_SingleBurst(t *testing.T) {
	client := stub.NewClient("A1")

	summary, err := NewDriver(singleMonth(2021, 2, 1, 42), client).Run(quietContext())
	require.NoError(t, err)

	require.Len(t, client.Calls, 4)
	assert.Equal(t, []string{"cust-1"}, client.Lookups)

	wantOrder := []upstream.Primitive{
		upstream.PrimitiveDeposit,
		upstream.PrimitiveWithdrawal,
		upstream.PrimitiveTransfer,
		upstream.PrimitivePurchase,
	}
	date := client.Calls[0].Request.Date()
	for i, call := range client.Calls {
		assert.Equal(t, "A1", call.AccountID)
		assert.Equal(t, wantOrder[i], call.Request.Primitive)
		assert.Equal(t, date, call.Request.Date(), "a burst step shares one date")

		d, err := civil.ParseDate(call.Request.Date())
		require.NoError(t, err)
		assert.Equal(t, 2021, d.Year)
		assert.Equal(t, time.February, d.Month)
		assert.True(t, d.Day >= 1 && d.Day <= 28)
	}

	assert.Equal(t, 4, summary.Events)
	assert.Equal(t, 1, summary.Periods)
	assert.Equal(t, uint64(42), summary.Seed)
	assert.Equal(t, "A1", summary.AccountID)
	assert.Zero(t, summary.FailedPosts)
	assert.NotEmpty(t, summary.RunID)
}

func TestRun_LeapFebruary(t *testing.T) {
	client := stub.NewClient("A1")

	_, err := NewDriver(singleMonth(2024, 2, 3, 1), client).Run(quietContext())
	require.NoError(t, err)
	require.Len(t, client.Calls, 12)

	for _, call := range client.Calls {
		d, err := civil.ParseDate(call.Request.Date())
		require.NoError(t, err)
		assert.False(t, d.Before(civil.Date{Year: 2024, Month: 2, Day: 1}))
		assert.False(t, d.After(civil.Date{Year: 2024, Month: 2, Day: 29}))
	}
}

func TestRun_FullHorizon(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CustomerID = "cust-1"
	cfg.Seed = 7

	client := stub.NewClient("A1")
	sink := &ledger.MemorySink{}

	summary, err := NewDriver(cfg, client, WithSink(sink)).Run(quietContext())
	require.NoError(t, err)

	n := len(client.Calls)
	assert.GreaterOrEqual(t, n, 4*5*12*6)
	assert.LessOrEqual(t, n, 4*10*12*6+2*10*12*6)
	assert.Equal(t, n, summary.Events)
	assert.Equal(t, 72, summary.Periods)

	// Every burst step emits exactly one of each mandatory kind.
	bursts := summary.ByKind[domain.KindDeposit]
	assert.Equal(t, bursts, summary.ByKind[domain.KindWithdrawal])
	assert.Equal(t, bursts, summary.ByKind[domain.KindTransfer])
	assert.Equal(t, bursts, summary.ByKind[domain.KindPurchase])
	assert.InDelta(t, 0.3, float64(summary.ByKind[domain.KindInvestment])/float64(bursts), 0.08)
	assert.InDelta(t, 0.2, float64(summary.ByKind[domain.KindLoanProceeds])/float64(bursts), 0.08)

	byPrimitive := client.CountByPrimitive()
	assert.Equal(t, bursts+summary.ByKind[domain.KindLoanProceeds], byPrimitive[upstream.PrimitiveDeposit])
	assert.Equal(t, bursts+summary.ByKind[domain.KindInvestment], byPrimitive[upstream.PrimitiveWithdrawal])

	assert.True(t, sink.Closed)
	require.Len(t, sink.Entries, n)

	profiles := sampler.DefaultProfiles()
	merchantIDs := make(map[string]bool)
	for _, id := range summary.Merchants {
		merchantIDs[id] = true
	}

	var last civil.Date
	for i, e := range sink.Entries {
		req := client.Calls[i].Request

		// Dates are valid calendar days and never move backwards across periods.
		d, err := civil.ParseDate(req.Date())
		require.NoError(t, err)
		assert.True(t, d.IsValid())
		assert.Equal(t, e.Date, d)
		if i > 0 {
			assert.False(t, d.Year < last.Year || (d.Year == last.Year && d.Month < last.Month), "period order")
		}
		last = d

		switch req.Primitive {
		case upstream.PrimitiveTransfer:
			assert.Nil(t, req.Amount)
			assert.Equal(t, upstream.PayeeExternal, req.PayeeID)
		default:
			require.NotNil(t, req.Amount)
			p := profiles[e.Kind]
			assert.False(t, req.Amount.IsNegative())
			assert.True(t, req.Amount.Equal(req.Amount.Round(2)))
			assert.True(t, req.Amount.GreaterThanOrEqual(p.Min), "%s %s below %s", e.Kind, req.Amount, p.Min)
			assert.True(t, req.Amount.LessThanOrEqual(p.Max), "%s %s above %s", e.Kind, req.Amount, p.Max)
		}

		if req.Primitive == upstream.PrimitivePurchase {
			assert.True(t, merchantIDs[req.MerchantID], "unknown merchant %s", req.MerchantID)
		}
	}
}

func TestRun_Deterministic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CustomerID = "cust-1"
	cfg.Years = calendar.Range{Start: 2022, End: 2023}
	cfg.Seed = 99

	first := stub.NewClient("A1")
	_, err := NewDriver(cfg, first).Run(quietContext())
	require.NoError(t, err)

	second := stub.NewClient("A1")
	_, err = NewDriver(cfg, second).Run(quietContext())
	require.NoError(t, err)

	if diff := cmp.Diff(wireBodies(t, first.Requests()), wireBodies(t, second.Requests())); diff != "" {
		t.Errorf("request sequences differ (-first +second):\n%s", diff)
	}

	cfg.Seed = 100
	third := stub.NewClient("A1")
	_, err = NewDriver(cfg, third).Run(quietContext())
	require.NoError(t, err)
	assert.NotEqual(t, wireBodies(t, first.Requests()), wireBodies(t, third.Requests()))
}

func TestRun_EmptyAccountLookupMakesNoWrites(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)

	client.EXPECT().
		FetchAccount(gomock.Any(), "cust-1").
		Return(upstream.AccountLookup{Status: upstream.LookupEmpty})
	client.EXPECT().Post(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	sink := &ledger.MemorySink{}
	summary, err := NewDriver(singleMonth(2021, 2, 3, 42), client, WithSink(sink)).Run(quietContext())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoAccount)
	assert.Zero(t, summary.Events)
	assert.Empty(t, summary.Merchants)

	// Nothing was posted, so the sink is released without exporting.
	assert.True(t, sink.Aborted)
	assert.False(t, sink.Closed)
}

func TestRun_LookupFailures(t *testing.T) {
	for _, status := range []upstream.LookupStatus{upstream.LookupEmpty, upstream.LookupMalformed, upstream.LookupTransportError} {
		t.Run(status.String(), func(t *testing.T) {
			client := &stub.Client{Lookup: upstream.AccountLookup{Status: status, Err: errors.New("cause")}}

			_, err := NewDriver(singleMonth(2021, 2, 1, 1), client).Run(quietContext())
			assert.ErrorIs(t, err, ErrNoAccount)
			assert.Empty(t, client.Calls)
		})
	}
}

func TestRun_ConfiguredAccountSkipsLookup(t *testing.T) {
	cfg := singleMonth(2021, 2, 1, 1)
	cfg.CustomerID = ""
	cfg.AccountID = "fixed"

	client := stub.NewEmptyClient()
	summary, err := NewDriver(cfg, client).Run(quietContext())
	require.NoError(t, err)

	assert.Empty(t, client.Lookups)
	assert.Equal(t, "fixed", summary.AccountID)
	for _, call := range client.Calls {
		assert.Equal(t, "fixed", call.AccountID)
	}
}

func TestRun_UpstreamErrorsAreAbsorbed(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`[{"_id":"A1"}]`))
			return
		}
		assert.True(t, strings.HasPrefix(r.URL.Path, "/accounts/A1/"))
		posts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := upstream.NewNessieClient(upstream.NessieOptions{BaseURL: srv.URL, APIKey: "k"})

	summary, err := NewDriver(singleMonth(2020, 6, 2, 5), client).Run(quietContext())
	require.NoError(t, err)

	assert.Equal(t, int32(8), posts.Load())
	assert.Equal(t, 8, summary.Events)
	assert.Equal(t, 8, summary.FailedPosts)
}

func TestRun_EmptyLookupOverHTTP(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts.Add(1)
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := upstream.NewNessieClient(upstream.NessieOptions{BaseURL: srv.URL, APIKey: "k"})

	_, err := NewDriver(singleMonth(2020, 6, 2, 5), client).Run(quietContext())
	assert.ErrorIs(t, err, ErrNoAccount)
	assert.Zero(t, posts.Load())
}

func TestRun_ZeroBursts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CustomerID = "cust-1"
	cfg.Bursts = calendar.Range{Start: 0, End: 0}
	cfg.Seed = 3

	client := stub.NewClient("A1")
	summary, err := NewDriver(cfg, client).Run(quietContext())
	require.NoError(t, err)

	assert.Empty(t, client.Calls)
	assert.Len(t, summary.Merchants, 8)
	assert.Equal(t, 72, summary.Periods)
}

func TestRun_TransferAmounts(t *testing.T) {
	cfg := singleMonth(2021, 3, 2, 11)
	cfg.TransferAmounts = true

	client := stub.NewClient("A1")
	_, err := NewDriver(cfg, client).Run(quietContext())
	require.NoError(t, err)

	for _, req := range client.Requests() {
		if req.Primitive == upstream.PrimitiveTransfer {
			require.NotNil(t, req.Amount)
			assert.Equal(t, upstream.PayeeExternal, req.PayeeID)
		}
	}
}

func TestRun_DerivesSeedFromClock(t *testing.T) {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 6, time.UTC)
	cfg := singleMonth(2021, 2, 1, 0)

	summary, err := NewDriver(cfg, stub.NewClient("A1"), WithClock(func() time.Time { return fixed })).Run(quietContext())
	require.NoError(t, err)
	assert.Equal(t, uint64(fixed.UnixNano()), summary.Seed)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(quietContext())
	cancel()

	client := stub.NewClient("A1")
	sink := &ledger.MemorySink{}
	_, err := NewDriver(singleMonth(2021, 2, 1, 1), client, WithSink(sink)).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, client.Calls)
	assert.True(t, sink.Aborted)
	assert.False(t, sink.Closed)
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := singleMonth(2021, 2, 1, 1)
	cfg.PLoan = 1.5

	client := stub.NewClient("A1")
	sink := &ledger.MemorySink{}
	_, err := NewDriver(cfg, client, WithSink(sink)).Run(quietContext())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "p_loan")
	assert.Empty(t, client.Lookups)
	assert.True(t, sink.Aborted)
}

func TestRun_CancelledMidRunKeepsPostedEntries(t *testing.T) {
	ctx, cancel := context.WithCancel(quietContext())
	defer cancel()

	client := &cancellingClient{Client: stub.NewClient("A1"), after: 6, cancel: cancel}
	sink := &ledger.MemorySink{}

	summary, err := NewDriver(singleMonth(2021, 2, 5, 3), client, WithSink(sink)).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 6, summary.Events)
	assert.Len(t, sink.Entries, 6)
	assert.True(t, sink.Closed)
	assert.False(t, sink.Aborted)
}

// cancellingClient cancels the run after a fixed number of posts.
type cancellingClient struct {
	*stub.Client
	after  int
	cancel context.CancelFunc
}

func (c *cancellingClient) Post(ctx context.Context, accountID string, req upstream.Request) (upstream.Ack, error) {
	ack, err := c.Client.Post(ctx, accountID, req)
	if len(c.Client.Calls) == c.after {
		c.cancel()
	}
	return ack, err
}

func TestRun_DatesStayInTheirPeriod(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CustomerID = "cust-1"
	cfg.Years = calendar.Range{Start: 2019, End: 2020}
	cfg.Bursts = calendar.Range{Start: 3, End: 3}
	cfg.PInvestment = 0
	cfg.PLoan = 0
	cfg.Seed = 11

	client := stub.NewClient("A1")
	sink := &ledger.MemorySink{}
	_, err := NewDriver(cfg, client, WithSink(sink)).Run(quietContext())
	require.NoError(t, err)

	// Fixed bursts and no optional kinds: each period owns exactly 3*4 consecutive events.
	const perPeriod = 3 * 4
	periods := calendar.Periods(cfg.Years, cfg.Months)
	require.Len(t, sink.Entries, perPeriod*len(periods))

	for i, e := range sink.Entries {
		p := periods[i/perPeriod]
		assert.True(t, p.Contains(e.Date), "event %d dated %s outside %s", i, e.Date, p)

		d, err := civil.ParseDate(client.Calls[i].Request.Date())
		require.NoError(t, err)
		assert.Equal(t, e.Date, d)
	}
}

func TestRun_PurchasesUseMintedMerchants(t *testing.T) {
	cfg := singleMonth(2022, 8, 10, 21)
	cfg.MerchantPrefix = "merchant_"

	client := stub.NewClient("A1")
	summary, err := NewDriver(cfg, client).Run(quietContext())
	require.NoError(t, err)

	for _, req := range client.Requests() {
		if req.Primitive != upstream.PrimitivePurchase {
			continue
		}
		assert.Contains(t, summary.Merchants, req.MerchantID)
		assert.True(t, strings.HasPrefix(req.MerchantID, "merchant_"))
	}
}
