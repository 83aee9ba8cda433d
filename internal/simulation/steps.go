package simulation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/dvloznov/finance-seeder/internal/calendar"
	"github.com/dvloznov/finance-seeder/internal/domain"
	"github.com/dvloznov/finance-seeder/internal/ledger"
	"github.com/dvloznov/finance-seeder/internal/logger"
	"github.com/dvloznov/finance-seeder/internal/merchants"
	"github.com/dvloznov/finance-seeder/internal/metrics"
	"github.com/dvloznov/finance-seeder/internal/sampler"
	"github.com/dvloznov/finance-seeder/internal/upstream"
)

var (
	// ErrNoAccount means the customer's account could not be resolved. No write is attempted.
	ErrNoAccount = errors.New("no account for customer")

	// ErrNoMerchants means the merchant pool came out empty.
	ErrNoMerchants = errors.New("merchant pool is empty")

	// ErrInvalidConfig means the run was refused before any upstream call.
	ErrInvalidConfig = errors.New("invalid simulation config")
)

// Step is one stage of a run.
type Step interface {
	Execute(ctx context.Context, state *RunState) error
}

// RunState holds the state shared across the steps of one run.
type RunState struct {
	RunID     string
	Rand      *rand.Rand
	AccountID string
	Registry  *merchants.Registry
	Summary   *Summary
}

// ResolveAccountStep picks the account every write targets.
type ResolveAccountStep struct {
	Client     upstream.Client
	CustomerID string

	// AccountID short-circuits the lookup.
	AccountID string
}

func (s *ResolveAccountStep) Execute(ctx context.Context, state *RunState) error {
	log := logger.FromContext(ctx)

	if s.AccountID != "" {
		log.Info().Str("account_id", s.AccountID).Msg("Using configured account")
		state.AccountID = s.AccountID
		state.Summary.AccountID = s.AccountID
		return nil
	}

	lookup := s.Client.FetchAccount(ctx, s.CustomerID)
	if !lookup.OK() {
		return fmt.Errorf("%w %s: %s", ErrNoAccount, s.CustomerID, lookup)
	}

	log.Info().
		Str("customer_id", s.CustomerID).
		Str("account_id", lookup.AccountID).
		Msg("Resolved account")

	state.AccountID = lookup.AccountID
	state.Summary.AccountID = lookup.AccountID
	return nil
}

// MintMerchantsStep builds the run's merchant pool.
type MintMerchantsStep struct {
	Size    int
	Prefix  string
	Metrics *metrics.Recorder
}

func (s *MintMerchantsStep) Execute(ctx context.Context, state *RunState) error {
	reg := merchants.Mint(ctx, state.Rand, s.Size, s.Prefix)
	if reg.Len() == 0 {
		return ErrNoMerchants
	}

	s.Metrics.MerchantsMinted(reg.Len())

	state.Registry = reg
	state.Summary.Merchants = reg.IDs()
	return nil
}

// GenerateStep walks the horizon and posts every generated event.
type GenerateStep struct {
	Client      upstream.Client
	Years       calendar.Range
	Months      calendar.Range
	Bursts      calendar.Range
	PInvestment float64
	PLoan       float64
	Profiles    sampler.Profiles
	Sink        ledger.Sink
	Metrics     *metrics.Recorder
}

func (s *GenerateStep) Execute(ctx context.Context, state *RunState) error {
	log := logger.FromContext(ctx)

	smp, err := sampler.New(state.Rand, s.Profiles)
	if err != nil {
		return fmt.Errorf("GenerateStep: %w", err)
	}

	e := &emitter{
		client:    s.Client,
		sink:      s.Sink,
		metrics:   s.Metrics,
		runID:     state.RunID,
		accountID: state.AccountID,
		registry:  state.Registry,
		summary:   state.Summary,
	}

	for _, period := range calendar.Periods(s.Years, s.Months) {
		n := s.Bursts.Start + state.Rand.IntN(s.Bursts.Len())

		log.Info().
			Str("period", period.String()).
			Int("bursts", n).
			Msg("Simulating period")
		state.Summary.Periods++

		for i := 0; i < n; i++ {
			date := calendar.SampleDay(state.Rand, period.Year, period.Month)

			events := []domain.Event{
				smp.Sample(domain.KindDeposit, date, ""),
				smp.Sample(domain.KindWithdrawal, date, ""),
				smp.Sample(domain.KindTransfer, date, ""),
			}
			merchant := state.Registry.Pick(state.Rand)
			events = append(events, smp.Sample(domain.KindPurchase, date, merchant.ID))

			for _, ev := range events {
				if err := e.emit(ctx, ev); err != nil {
					return err
				}
			}

			if state.Rand.Float64() < s.PInvestment {
				if err := e.emit(ctx, smp.Sample(domain.KindInvestment, date, "")); err != nil {
					return err
				}
			}
			if state.Rand.Float64() < s.PLoan {
				if err := e.emit(ctx, smp.Sample(domain.KindLoanProceeds, date, "")); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// emitter maps, posts and records single events. Post failures are absorbed.
type emitter struct {
	client    upstream.Client
	sink      ledger.Sink
	metrics   *metrics.Recorder
	runID     string
	accountID string
	registry  *merchants.Registry
	summary   *Summary
	seq       int
}

func (e *emitter) emit(ctx context.Context, ev domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	log := logger.FromContext(ctx)

	if ev.Kind == domain.KindPurchase && !e.registry.Contains(ev.MerchantID) {
		return fmt.Errorf("emit: purchase merchant %q is not in the pool", ev.MerchantID)
	}

	req, err := upstream.MapEvent(ev)
	if err != nil {
		return fmt.Errorf("emit: %w", err)
	}

	e.seq++
	ack, postErr := e.client.Post(ctx, e.accountID, req)
	e.summary.record(ev.Kind, req.Primitive)

	entry := ledger.NewEntry(e.runID, e.seq, e.accountID, ev, req, ack, postErr)

	if entry.Failed() {
		e.summary.FailedPosts++
		e.metrics.EventFailed(string(req.Primitive))
		log.Warn().
			Str("kind", string(ev.Kind)).
			Str("primitive", string(req.Primitive)).
			Str("date", req.Date()).
			Int("status", ack.StatusCode).
			AnErr("cause", postErr).
			Msg("Event post failed")
	} else {
		e.metrics.EventEmitted(string(ev.Kind), string(req.Primitive))
		evt := log.Info().
			Str("kind", string(ev.Kind)).
			Str("primitive", string(req.Primitive)).
			Str("date", req.Date()).
			Str("description", ev.Description).
			Int("status", ack.StatusCode)
		if req.Amount != nil {
			evt = evt.Str("amount", req.Amount.StringFixed(2))
		}
		if req.MerchantID != "" {
			evt = evt.Str("merchant_id", req.MerchantID)
		}
		evt.Msg("Posted event")
	}

	if e.sink != nil {
		if err := e.sink.Write(ctx, entry); err != nil {
			log.Warn().Err(err).Int("seq", e.seq).Msg("Ledger write failed")
		}
	}

	return nil
}

// FlushLedgerStep closes the export sinks. Sink errors are reported on the summary, never fatal.
type FlushLedgerStep struct {
	Sink ledger.Sink
}

func (s *FlushLedgerStep) Execute(ctx context.Context, state *RunState) error {
	if s.Sink == nil {
		return nil
	}
	if err := s.Sink.Close(ctx); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Ledger export failed")
		state.Summary.LedgerErr = err
	}
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []Step
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *RunState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}
