// Package form holds trade form sessions: the sized amount, its expected
// results and the account data shown next to them, kept current as the
// user types and as the market provider changes.
package form

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/tradeform/pkg/market"
	"github.com/uhyunpark/tradeform/pkg/matching"
	"github.com/uhyunpark/tradeform/pkg/sizing"
	"github.com/uhyunpark/tradeform/pkg/util"
)

var (
	ErrZeroAmount = errors.New("trade amount is zero")
	ErrCancelled  = errors.New("trade cancelled")
	ErrClosed     = errors.New("form session closed")
)

// Params fixes what a form trades. Collateral and TokenizeNeeded can change
// later.
type Params struct {
	Direction      market.Direction    `json:"direction"`
	Asset          market.Asset        `json:"asset" validate:"required"`
	UnitOfAccount  market.Asset        `json:"unitOfAccount" validate:"required"`
	Collateral     market.Asset        `json:"collateral" validate:"required"`
	PositionType   market.PositionType `json:"positionType"`
	Leverage       int                 `json:"leverage" validate:"gte=1,lte=4"`
	TokenizeNeeded bool                `json:"tokenizeNeeded"`
	Version        int                 `json:"version" validate:"gte=1,lte=2"`
}

func (p Params) request() market.TradeRequest {
	return market.TradeRequest{
		Direction:      p.Direction,
		Asset:          p.Asset,
		UnitOfAccount:  p.UnitOfAccount,
		Collateral:     p.Collateral,
		PositionType:   p.PositionType,
		Leverage:       p.Leverage,
		Amount:         decimal.Zero,
		TokenizeNeeded: p.TokenizeNeeded,
		Version:        p.Version,
	}
}

// Derived is the account and market data refreshed alongside the amount.
type Derived struct {
	InterestRate     decimal.Decimal `json:"interestRate"`
	PTokenBalance    decimal.Decimal `json:"pTokenBalance"`
	Balance          decimal.Decimal `json:"balance"`
	EthBalance       decimal.Decimal `json:"ethBalance"`
	PTokenAddress    string          `json:"pTokenAddress"`
	NeedsApproval    bool            `json:"needsApproval"`
	CurrentPrice     decimal.Decimal `json:"currentPrice"`
	LiquidationPrice decimal.Decimal `json:"liquidationPrice"`
}

// View is a consistent snapshot of a session.
type View struct {
	ID        string                 `json:"id"`
	Request   market.TradeRequest    `json:"request"`
	TokenKey  string                 `json:"tokenKey"`
	Amount    sizing.AmountState     `json:"amount"`
	Results   sizing.ExpectedResults `json:"results"`
	Derived   Derived                `json:"derived"`
	Touched   bool                   `json:"touched"`
	Seq       uint64                 `json:"seq"`
	Error     string                 `json:"error,omitempty"`
	Matching  matching.Status        `json:"matching"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// SubmitResult carries either the request for the primary trade path or
// the outcome of a fallback matching run.
type SubmitResult struct {
	Request  *market.TradeRequest `json:"request,omitempty"`
	Matching *matching.Result     `json:"matching,omitempty"`
}

type Config struct {
	Provider market.Provider
	Engine   *matching.Engine // fallback liquidity, optional

	Debounce  time.Duration
	Precision int32

	// OnChange receives every applied state change. It must not block.
	OnChange func(View)

	Clock  util.Clock
	Logger *zap.SugaredLogger
}

type Session struct {
	id         string
	cfg        Config
	log        *zap.SugaredLogger
	limiter    *sizing.Limiter
	calculator *sizing.Calculator
	pipeline   *sizing.Pipeline
	sub        market.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	req     market.TradeRequest
	amount  sizing.AmountState
	results sizing.ExpectedResults
	derived Derived
	touched bool
	seq     uint64 // latest applied pipeline update
	epoch   uint64 // bumped by resets that invalidate in-flight refreshes
	lastErr string
	updated time.Time
	closed  bool
}

// Open starts a session, subscribes it to provider changes and runs the
// first refresh. A refresh failure is reported in the view, not returned.
func Open(ctx context.Context, id string, p Params, cfg Config) (*Session, error) {
	if cfg.Provider == nil {
		return nil, market.ErrProviderUnavailable
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         id,
		cfg:        cfg,
		log:        util.OrNop(cfg.Logger).With("form", id),
		limiter:    sizing.NewLimiter(cfg.Provider, cfg.Precision),
		calculator: sizing.NewCalculator(cfg.Provider),
		ctx:        sctx,
		cancel:     cancel,
		req:        p.request(),
	}
	s.pipeline = sizing.NewPipeline(sizing.PipelineConfig{
		Pricing:    cfg.Provider,
		Limiter:    s.limiter,
		Calculator: s.calculator,
		Snapshot:   s.snapshot,
		Sink:       s.apply,
		Debounce:   cfg.Debounce,
		Clock:      cfg.Clock,
		Logger:     s.log,
	})

	sub, err := cfg.Provider.Subscribe(s.onProviderChanged)
	if err != nil {
		s.pipeline.Close()
		cancel()
		return nil, fmt.Errorf("subscribe provider: %w", err)
	}
	s.sub = sub

	if err := s.Refresh(ctx); err != nil {
		s.log.Warnw("initial_refresh_failed", "err", err)
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Input feeds an edit of the amount text.
func (s *Session) Input(text string) { s.pipeline.TextEdited(text) }

// SetMax sizes the form at the provider's current max.
func (s *Session) SetMax() { s.pipeline.SetToMax() }

// SetCollateral switches the collateral asset, clears the amount and
// refreshes.
func (s *Session) SetCollateral(ctx context.Context, asset market.Asset) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.req.Collateral == asset {
		s.mu.Unlock()
		return nil
	}
	s.req.Collateral = asset
	s.resetLocked()
	s.mu.Unlock()

	return s.Refresh(ctx)
}

// SetTokenizeNeeded toggles tokenization and refreshes.
func (s *Session) SetTokenizeNeeded(ctx context.Context, v bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.req.TokenizeNeeded = v
	s.mu.Unlock()

	return s.Refresh(ctx)
}

func (s *Session) resetLocked() {
	s.amount = sizing.ResetState(s.amount.MaxTradeValue)
	s.results = sizing.ExpectedResults{}
	s.touched = false
	s.epoch++
}

// Refresh re-reads account data and the max, re-limits the current input
// against the new max and recomputes expected results. Amounts are applied
// only if no edit or reset landed while it ran.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	req, text, seq, epoch := s.req, s.amount.InputText, s.seq, s.epoch
	s.mu.RUnlock()

	p := s.cfg.Provider
	key := req.TokenKey()

	derived, err := s.fetchDerived(ctx, req)
	if err != nil {
		s.fail(err)
		return err
	}

	max, err := p.GetMaxTradeValue(ctx, req.Direction, key, req.Collateral)
	if err != nil {
		s.fail(err)
		return fmt.Errorf("max trade value: %w", err)
	}
	st, err := s.limiter.Limit(ctx, sizing.LimitInput{
		Text:          text,
		Direction:     req.Direction,
		Key:           key,
		Destination:   req.Collateral,
		MaxTradeValue: max,
	})
	if err != nil {
		s.fail(err)
		return err
	}
	if st.IsNaN() {
		st = sizing.ResetState(max)
	}

	priced := req.WithAmount(st.TradeAmount)
	results, err := s.calculator.Estimate(ctx, priced)
	if err != nil {
		s.fail(err)
		return err
	}
	derived.NeedsApproval, err = p.CheckCollateralApproval(ctx, priced)
	if err != nil {
		s.fail(err)
		return fmt.Errorf("collateral approval: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.derived = derived
	if s.seq == seq && s.epoch == epoch {
		s.amount = st
		s.results = results
	} else {
		s.amount.MaxTradeValue = max
	}
	s.lastErr = ""
	s.updated = s.cfg.Clock.Now()
	view := s.viewLocked()
	s.mu.Unlock()

	s.notify(view)
	return nil
}

func (s *Session) fetchDerived(ctx context.Context, req market.TradeRequest) (Derived, error) {
	p := s.cfg.Provider
	key := req.TokenKey()
	var d Derived
	var err error

	if d.InterestRate, err = p.GetInterestRate(ctx, key); err != nil {
		return d, fmt.Errorf("interest rate: %w", err)
	}
	if d.PTokenBalance, err = p.GetPTokenBalance(ctx, key); err != nil {
		return d, fmt.Errorf("ptoken balance: %w", err)
	}
	d.Balance = d.PTokenBalance
	if req.Direction == market.Open {
		if d.Balance, err = p.GetAssetBalance(ctx, req.Collateral); err != nil {
			return d, fmt.Errorf("collateral balance: %w", err)
		}
	}
	if d.EthBalance, err = p.GetEthBalance(ctx); err != nil {
		return d, fmt.Errorf("eth balance: %w", err)
	}
	if d.PTokenAddress, err = p.GetPTokenAddress(ctx, key); err != nil {
		return d, fmt.Errorf("ptoken address: %w", err)
	}
	latest, err := p.GetLatestDataPoint(ctx, key)
	if err != nil {
		return d, fmt.Errorf("latest data point: %w", err)
	}
	d.CurrentPrice = latest.Price
	d.LiquidationPrice = latest.LiquidationPrice
	return d, nil
}

func (s *Session) onProviderChanged(ev market.ProviderChanged) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := s.Refresh(s.ctx); err != nil && !errors.Is(err, ErrClosed) {
			s.log.Warnw("refresh_failed", "reason", ev.Reason, "err", err)
		}
	}()
}

func (s *Session) snapshot() sizing.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sizing.Snapshot{
		Request:       s.req,
		MaxTradeValue: s.amount.MaxTradeValue,
		Touched:       s.touched,
	}
}

// apply receives pipeline updates in intent order.
func (s *Session) apply(u sizing.Update) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.seq = u.Seq
	switch {
	case u.Err != nil:
		s.lastErr = u.Err.Error()
	case u.Reset:
		s.resetLocked()
		s.amount.MaxTradeValue = u.Amount.MaxTradeValue
		s.lastErr = ""
	default:
		s.amount = u.Amount
		s.results = u.Results
		s.touched = s.touched || u.Touched
		s.lastErr = ""
	}
	s.updated = s.cfg.Clock.Now()
	view := s.viewLocked()
	s.mu.Unlock()

	s.notify(view)
}

func (s *Session) fail(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.lastErr = err.Error()
	view := s.viewLocked()
	s.mu.Unlock()
	s.notify(view)
}

func (s *Session) notify(v View) {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(v)
	}
}

func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	v := View{
		ID:        s.id,
		Request:   s.req.WithAmount(s.amount.TradeAmount),
		TokenKey:  s.req.TokenKey().String(),
		Amount:    s.amount,
		Results:   s.results,
		Derived:   s.derived,
		Touched:   s.touched,
		Seq:       s.seq,
		Error:     s.lastErr,
		UpdatedAt: s.updated,
	}
	if s.cfg.Engine != nil {
		v.Matching = s.cfg.Engine.Status()
	}
	return v
}

// FallbackSide reports whether the form's pair trades on the relay instead
// of the primary path, and on which side.
func FallbackSide(req market.TradeRequest) (matching.Side, bool) {
	switch {
	case req.Asset == market.ZRX && req.Collateral == market.ETH:
		return matching.Buy, true
	case req.Asset == market.ETH && req.Collateral == market.ZRX:
		return matching.Sell, true
	default:
		return 0, false
	}
}

// Submit finalizes the form. Pairs the primary path cannot trade are routed
// to the matching engine with the typed amount as target; otherwise the
// sized request is returned for the caller to execute.
func (s *Session) Submit(ctx context.Context) (SubmitResult, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return SubmitResult{}, ErrClosed
	}
	req, amount := s.req, s.amount
	s.mu.RUnlock()

	if side, ok := FallbackSide(req); ok {
		if s.cfg.Engine == nil {
			return SubmitResult{}, fmt.Errorf("no matching engine for %s/%s", req.Asset, req.Collateral)
		}
		if !amount.InputValue.IsPositive() {
			return SubmitResult{}, ErrZeroAmount
		}
		res, err := s.cfg.Engine.Submit(ctx, matching.Submission{FormID: s.id, Side: side, Target: amount.InputValue})
		s.notify(s.View())
		if errors.Is(err, matching.ErrRunInProgress) {
			return SubmitResult{}, err
		}
		return SubmitResult{Matching: &res}, err
	}

	switch {
	case amount.TradeAmount.IsZero():
		return SubmitResult{}, ErrZeroAmount
	case !amount.TradeAmount.IsPositive():
		return SubmitResult{}, ErrCancelled
	}
	out := req.WithAmount(amount.TradeAmount)
	return SubmitResult{Request: &out}, nil
}

// Close releases the provider subscription and stops all background work.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.pipeline.Close()
	var err error
	if s.sub != nil {
		err = s.sub.Unsubscribe()
	}
	s.wg.Wait()
	return err
}
