// Package simulation drives a run: resolve the account, mint merchants, then walk the
// (year, month) horizon posting bursts of generated events.
package simulation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dvloznov/finance-seeder/internal/domain"
	"github.com/dvloznov/finance-seeder/internal/ledger"
	"github.com/dvloznov/finance-seeder/internal/logger"
	"github.com/dvloznov/finance-seeder/internal/metrics"
	"github.com/dvloznov/finance-seeder/internal/upstream"
	"github.com/google/uuid"
)

// Summary describes a finished or aborted run.
type Summary struct {
	RunID     string
	Seed      uint64
	AccountID string
	Merchants []string
	Periods   int

	Events      int
	ByKind      map[domain.Kind]int
	ByPrimitive map[upstream.Primitive]int

	// FailedPosts counts writes that errored or were rejected. They never abort the run.
	FailedPosts int

	// LedgerErr is set when exporting the ledger failed.
	LedgerErr error

	StartedAt time.Time
	Duration  time.Duration
}

func newSummary(runID string, seed uint64, started time.Time) *Summary {
	return &Summary{
		RunID:       runID,
		Seed:        seed,
		ByKind:      make(map[domain.Kind]int),
		ByPrimitive: make(map[upstream.Primitive]int),
		StartedAt:   started,
	}
}

func (s *Summary) record(kind domain.Kind, p upstream.Primitive) {
	s.Events++
	s.ByKind[kind]++
	s.ByPrimitive[p]++
}

// Driver runs simulations against an upstream client.
type Driver struct {
	cfg     Config
	client  upstream.Client
	sink    ledger.Sink
	metrics *metrics.Recorder
	now     func() time.Time
	runID   string
}

// Option configures a Driver.
type Option func(*Driver)

// WithSink records every attempted write to sink.
func WithSink(sink ledger.Sink) Option {
	return func(d *Driver) { d.sink = sink }
}

// WithMetrics instruments the run.
func WithMetrics(m *metrics.Recorder) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithClock overrides the clock used for seeding and timing.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// WithRunID fixes the run id instead of generating one, so sinks opened beforehand can name their output.
func WithRunID(id string) Option {
	return func(d *Driver) { d.runID = id }
}

// NewDriver creates a driver for cfg posting through client.
func NewDriver(cfg Config, client upstream.Client, opts ...Option) *Driver {
	d := &Driver{cfg: cfg, client: client, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewRand returns the run's random source for seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

// Run executes one simulation. It fails only when the run cannot start or ctx is cancelled;
// individual write failures are counted on the summary.
func (d *Driver) Run(ctx context.Context) (*Summary, error) {
	if err := d.cfg.Validate(); err != nil {
		d.abortSink(ctx)
		return nil, fmt.Errorf("Run: %w: %w", ErrInvalidConfig, err)
	}

	started := d.now()
	seed := d.cfg.Seed
	if seed == 0 {
		seed = uint64(started.UnixNano())
	}

	runID := d.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	state := &RunState{
		RunID:   runID,
		Rand:    NewRand(seed),
		Summary: newSummary(runID, seed, started),
	}

	log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{
		"run_id": runID,
	})
	ctx = logger.WithContext(ctx, log)

	log.Info().
		Uint64("seed", seed).
		Str("years", d.cfg.Years.String()).
		Str("months", d.cfg.Months.String()).
		Str("bursts", d.cfg.Bursts.String()).
		Msg("Starting simulation")

	flush := &FlushLedgerStep{Sink: d.sink}
	pipeline := NewPipeline(
		&ResolveAccountStep{Client: d.client, CustomerID: d.cfg.CustomerID, AccountID: d.cfg.AccountID},
		&MintMerchantsStep{Size: d.cfg.MerchantPoolSize, Prefix: d.cfg.MerchantPrefix, Metrics: d.metrics},
		&GenerateStep{
			Client:      d.client,
			Years:       d.cfg.Years,
			Months:      d.cfg.Months,
			Bursts:      d.cfg.Bursts,
			PInvestment: d.cfg.PInvestment,
			PLoan:       d.cfg.PLoan,
			Profiles:    d.cfg.EffectiveProfiles(),
			Sink:        d.sink,
			Metrics:     d.metrics,
		},
		flush,
	)

	err := pipeline.Execute(ctx, state)
	if err != nil {
		if state.Summary.Events > 0 {
			// Keep what was posted before the abort.
			_ = flush.Execute(context.WithoutCancel(ctx), state)
		} else {
			d.abortSink(ctx)
		}
	}
	state.Summary.Duration = d.now().Sub(started)

	if err != nil {
		return state.Summary, err
	}

	log.Info().
		Str("account_id", state.Summary.AccountID).
		Int("merchants", len(state.Summary.Merchants)).
		Int("periods", state.Summary.Periods).
		Int("events", state.Summary.Events).
		Int("failed_posts", state.Summary.FailedPosts).
		Dur("duration", state.Summary.Duration).
		Msg("Simulation complete")

	return state.Summary, nil
}

func (d *Driver) abortSink(ctx context.Context) {
	if d.sink == nil {
		return
	}
	if err := d.sink.Abort(); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Releasing ledger sink failed")
	}
}
