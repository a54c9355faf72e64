package sizing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/tradeform/pkg/market"
	"github.com/uhyunpark/tradeform/pkg/util"
)

// Trigger names the user action behind an Update.
type Trigger string

const (
	TriggerText Trigger = "text"
	TriggerMax  Trigger = "max"
)

// Update is the outcome of one recomputation. Exactly one of Reset, Err or
// a populated Amount/Results applies.
type Update struct {
	Seq     uint64          `json:"seq"`
	Trigger Trigger         `json:"trigger"`
	Reset   bool            `json:"reset"`
	Touched bool            `json:"touched"`
	Amount  AmountState     `json:"amount"`
	Results ExpectedResults `json:"results"`
	Err     error           `json:"-"`
}

// Snapshot is the form context a recomputation runs against, read when the
// recomputation starts.
type Snapshot struct {
	Request       market.TradeRequest // Amount is ignored
	MaxTradeValue decimal.Decimal
	Touched       bool
}

// PipelineConfig wires a Pipeline. Snapshot is read when a recomputation
// starts; Sink receives updates with the pipeline lock held and must not
// call back into the pipeline.
type PipelineConfig struct {
	Pricing    market.Pricing
	Limiter    *Limiter
	Calculator *Calculator
	Snapshot   func() Snapshot
	Sink       func(Update)
	Debounce   time.Duration
	Clock      util.Clock
	Logger     *zap.SugaredLogger
}

// Pipeline merges free-text edits and "use max" actions into one stream of
// recomputations. Starting a recomputation abandons the one in flight; a
// result is delivered only if no newer recomputation started meanwhile, so
// updates reach the sink in user-intent order.
type Pipeline struct {
	cfg PipelineConfig
	log *zap.SugaredLogger

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu       sync.Mutex
	seq      uint64 // generation of the latest started recomputation
	pending  uint64 // generation of the latest text debounce window
	lastText string
	hasLast  bool
	cancel   context.CancelFunc
	closed   bool
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Sink == nil {
		cfg.Sink = func(Update) {}
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:  cfg,
		log:  util.OrNop(cfg.Logger),
		ctx:  ctx,
		stop: stop,
	}
}

// TextEdited feeds one edit of the amount text. Repeats of the previous
// edit are ignored; the recomputation starts once edits pause for the
// debounce window.
func (p *Pipeline) TextEdited(text string) {
	p.mu.Lock()
	if p.closed || (p.hasLast && p.lastText == text) {
		p.mu.Unlock()
		return
	}
	p.lastText, p.hasLast = text, true
	p.pending++
	window := p.pending
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		if err := util.Sleep(p.ctx, p.cfg.Clock, p.cfg.Debounce); err != nil {
			return
		}

		snap := p.cfg.Snapshot()

		p.mu.Lock()
		if p.closed || window != p.pending {
			p.mu.Unlock()
			return
		}
		ctx, gen := p.startLocked()
		p.mu.Unlock()

		p.run(ctx, gen, TriggerText, func(ctx context.Context) (Update, error) {
			return p.fromText(ctx, text, snap)
		})
	}()
}

// SetToMax recomputes from the current max immediately. A pending text
// debounce window is dropped.
func (p *Pipeline) SetToMax() {
	snap := p.cfg.Snapshot()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.pending++
	p.hasLast = false
	ctx, gen := p.startLocked()
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		p.run(ctx, gen, TriggerMax, func(ctx context.Context) (Update, error) {
			return p.fromMax(ctx, snap)
		})
	}()
}

// Close abandons in-flight work and waits for it to unwind. No update is
// delivered after Close returns.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	p.stop()
	p.wg.Wait()
}

func (p *Pipeline) startLocked() (context.Context, uint64) {
	if p.cancel != nil {
		p.cancel()
	}
	p.seq++
	ctx, cancel := context.WithCancel(p.ctx)
	p.cancel = cancel
	return ctx, p.seq
}

func (p *Pipeline) run(ctx context.Context, gen uint64, trigger Trigger, compute func(context.Context) (Update, error)) {
	upd, err := compute(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || gen != p.seq {
		p.log.Debugw("stale_recompute_dropped", "seq", gen, "latest", p.seq, "trigger", trigger)
		return
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		p.log.Warnw("recompute_failed", "seq", gen, "trigger", trigger, "err", err)
		upd = Update{Err: err}
	}
	upd.Seq = gen
	upd.Trigger = trigger
	p.cfg.Sink(upd)
}

func (p *Pipeline) fromText(ctx context.Context, text string, snap Snapshot) (Update, error) {
	req := snap.Request
	st, err := p.cfg.Limiter.Limit(ctx, LimitInput{
		Text:          text,
		Direction:     req.Direction,
		Key:           req.TokenKey(),
		Destination:   req.Collateral,
		MaxTradeValue: snap.MaxTradeValue,
	})
	if err != nil {
		return Update{}, err
	}
	if st.IsNaN() {
		return Update{Reset: true, Amount: ResetState(snap.MaxTradeValue)}, nil
	}

	results, err := p.cfg.Calculator.Estimate(ctx, req.WithAmount(st.TradeAmount))
	if err != nil {
		return Update{}, err
	}
	return Update{Touched: true, Amount: st, Results: results}, nil
}

func (p *Pipeline) fromMax(ctx context.Context, snap Snapshot) (Update, error) {
	if p.cfg.Pricing == nil {
		return Update{}, market.ErrProviderUnavailable
	}
	req := snap.Request
	max, err := p.cfg.Pricing.GetMaxTradeValue(ctx, req.Direction, req.TokenKey(), req.Collateral)
	if err != nil {
		return Update{}, err
	}

	st, err := p.cfg.Limiter.Limit(ctx, LimitInput{
		Value:          max,
		FromValue:      true,
		Direction:      req.Direction,
		Key:            req.TokenKey(),
		Destination:    req.Collateral,
		MaxTradeValue:  max,
		SkipLimitCheck: true,
	})
	if err != nil {
		return Update{}, err
	}
	if st.IsNaN() {
		return Update{Reset: true, Amount: ResetState(max)}, nil
	}

	results, err := p.cfg.Calculator.Estimate(ctx, req.WithAmount(st.TradeAmount))
	if err != nil {
		return Update{}, err
	}
	return Update{Touched: snap.Touched, Amount: st, Results: results}, nil
}
