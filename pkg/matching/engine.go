package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/uhyunpark/tradeform/pkg/util"
)

// Feed returns counterparty orders on side, in book order.
type Feed interface {
	Orders(ctx context.Context, side Side) ([]MakerOrder, error)
}

// Allocator pushes one allocation to the relay for a trade on side.
// It returns the hash of the order it submitted.
type Allocator interface {
	Allocate(ctx context.Context, side Side, a Allocation) (common.Hash, error)
}

// Journal persists finished runs.
type Journal interface {
	SaveRun(ctx context.Context, rec RunRecord) error
}

// Pacer spaces relay pushes. *rate.Limiter satisfies it.
type Pacer interface {
	Wait(ctx context.Context) error
}

// NewPacer allows one push per interval. Engines pushing for the same signer
// must share one, since the relay limits requests per client.
func NewPacer(interval time.Duration) *rate.Limiter {
	return rate.NewLimiter(rate.Every(interval), 1)
}

type EngineConfig struct {
	Feed      Feed
	Allocator Allocator
	Journal   Journal // optional

	// LastResortTaker takes the remainder at a book row with unknown quantity.
	LastResortTaker common.Address
	// PushInterval separates consecutive pushes of one run. Ignored when
	// Pacer is set.
	PushInterval time.Duration
	// Pacer, when set, gates every push, including those of other engines
	// holding the same Pacer.
	Pacer Pacer

	Clock  util.Clock
	Logger *zap.SugaredLogger
}

// Engine fills a target quantity against the counterparty book, one run at
// a time.
type Engine struct {
	cfg EngineConfig
	log *zap.SugaredLogger

	mu      sync.Mutex
	running bool
	status  Status
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	return &Engine{cfg: cfg, log: util.OrNop(cfg.Logger)}
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) setStatus(state RunState, index int) {
	e.mu.Lock()
	e.status.State = state
	e.status.Index = index
	e.mu.Unlock()
}

// Submit runs one matching pass. The returned error joins
// ErrInsufficientLiquidity and ErrPartialSubmission as they apply; the
// Result is populated in both cases.
func (e *Engine) Submit(ctx context.Context, sub Submission) (Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return Result{}, ErrRunInProgress
	}
	e.running = true
	runID := uuid.NewString()
	e.status = Status{State: Fetching, RunID: runID}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	started := e.cfg.Clock.Now()
	res := Result{RunID: runID, Side: sub.Side, Target: sub.Target, Filled: decimal.Zero, Unfilled: decimal.Zero}
	log := e.log.With("run", runID, "side", sub.Side, "target", sub.Target.String())

	takerSide := sub.Side.Opposite()
	orders, err := e.cfg.Feed.Orders(ctx, takerSide)
	if err != nil {
		e.setStatus(Idle, 0)
		log.Warnw("orderbook_fetch_failed", "err", err)
		return res, fmt.Errorf("fetch %s orders: %w", takerSide, err)
	}

	allocs, remaining := Plan(sub.Target, orders, e.cfg.LastResortTaker)
	res.Allocations = allocs
	res.Remaining = remaining
	log.Infow("plan", "book_rows", len(orders), "allocations", len(allocs), "remaining", remaining.String())

	records := make([]AllocationRecord, len(allocs))
	for i, a := range allocs {
		records[i] = AllocationRecord{
			Index:        a.Index,
			Qty:          a.Qty,
			QuoteQty:     a.QuoteQty,
			Counterparty: a.Counterparty.Hex(),
			LastResort:   a.LastResort,
		}

		if err := e.pace(ctx, i); err != nil {
			e.failRest(&res, records, i, err)
			break
		}

		e.setStatus(Allocating, i)
		hash, err := e.cfg.Allocator.Allocate(ctx, sub.Side, a)
		if err != nil {
			log.Warnw("allocation_failed", "index", i, "qty", a.Qty.String(), "counterparty", a.Counterparty.Hex(), "err", err)
			e.fail(&res, records, i, err)
			continue
		}
		records[i].OrderHash = hash.Hex()
		res.Filled = res.Filled.Add(a.Qty)
		log.Debugw("allocation_pushed", "index", i, "qty", a.Qty.String(), "order", hash.Hex())
	}

	res.State = Done
	if remaining.IsPositive() {
		res.State = ExhaustedLiquidity
	}
	e.setStatus(res.State, len(allocs))

	e.journal(ctx, RunRecord{
		ID:          runID,
		FormID:      sub.FormID,
		Side:        sub.Side,
		State:       res.State,
		Target:      res.Target,
		Filled:      res.Filled,
		Remaining:   res.Remaining,
		Unfilled:    res.Unfilled,
		Failed:      res.Failed(),
		StartedAt:   started,
		FinishedAt:  e.cfg.Clock.Now(),
		Allocations: records,
	})

	log.Infow("run_finished", "state", res.State, "filled", res.Filled.String(), "failed", res.Failed())
	return res, runError(res)
}

func (e *Engine) pace(ctx context.Context, i int) error {
	if e.cfg.Pacer != nil {
		return e.cfg.Pacer.Wait(ctx)
	}
	if i == 0 {
		return nil
	}
	return util.Sleep(ctx, e.cfg.Clock, e.cfg.PushInterval)
}

func (e *Engine) fail(res *Result, records []AllocationRecord, i int, err error) {
	a := res.Allocations[i]
	res.Failures = append(res.Failures, &SubmissionFailure{Index: a.Index, Qty: a.Qty, Counterparty: a.Counterparty, Err: err})
	res.Unfilled = res.Unfilled.Add(a.Qty)
	records[i].Error = err.Error()
}

// failRest records allocations from i on as failed after cancellation.
func (e *Engine) failRest(res *Result, records []AllocationRecord, i int, err error) {
	for j := i; j < len(res.Allocations); j++ {
		a := res.Allocations[j]
		records[j] = AllocationRecord{
			Index:        a.Index,
			Qty:          a.Qty,
			QuoteQty:     a.QuoteQty,
			Counterparty: a.Counterparty.Hex(),
			LastResort:   a.LastResort,
		}
		e.fail(res, records, j, err)
	}
}

func (e *Engine) journal(ctx context.Context, rec RunRecord) {
	if e.cfg.Journal == nil {
		return
	}
	// journaled even when ctx is done
	if err := e.cfg.Journal.SaveRun(context.WithoutCancel(ctx), rec); err != nil {
		e.log.Errorw("journal_failed", "run", rec.ID, "err", err)
	}
}

func runError(res Result) error {
	var errs []error
	if res.Remaining.IsPositive() {
		errs = append(errs, fmt.Errorf("%w: %s of %s left unplanned", ErrInsufficientLiquidity, res.Remaining, res.Target))
	}
	if n := res.Failed(); n > 0 {
		errs = append(errs, fmt.Errorf("%w: %d of %d allocations failed, %s unfilled", ErrPartialSubmission, n, len(res.Allocations), res.Unfilled))
	}
	return errors.Join(errs...)
}
