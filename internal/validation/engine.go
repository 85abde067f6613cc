package validation

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kubev2v/ids-validator/internal/ids"
	"github.com/kubev2v/ids-validator/pkg/metrics"
	"go.uber.org/zap"
)

const DefaultChunkSize = 200

// Engine compiles an IDS document once and validates elements chunk by
// chunk. It runs a single validation at a time.
type Engine struct {
	compiler  Compiler
	validator ChunkValidator
	chunkSize int

	mu     sync.Mutex
	active *runContext

	// handoff is held while a run emits its final events, so the next run
	// cannot start in between.
	handoff sync.Mutex
}

// runContext is the state of the active run. The aggregate and rows live on
// the run's own stack and are never shared.
type runContext struct {
	id        string
	phase     Phase
	cancelled atomic.Bool
	done      int
	total     int
	sink      Sink
}

type EngineOption func(*Engine)

func WithChunkSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

func NewEngine(compiler Compiler, validator ChunkValidator, opts ...EngineOption) *Engine {
	e := &Engine{
		compiler:  compiler,
		validator: validator,
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate runs a full validation. chunkSize below 1 uses the engine
// default. sink may be nil. On error no done event is emitted and no
// partial result is returned.
func (e *Engine) Validate(ctx context.Context, doc string, elements []Element, chunkSize int, sink Sink) (*Result, error) {
	if strings.TrimSpace(doc) == "" {
		metrics.IncreaseValidationRunsMetric(string(KindEmptyInput))
		return nil, ErrEmptyInput
	}

	rc, err := e.begin(sink)
	if err != nil {
		return nil, err
	}
	defer e.end(rc)

	return e.execute(ctx, rc, doc, elements, chunkSize)
}

// Cancel asks the active run to stop at its next chunk boundary. It does
// nothing when no run is active.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		return
	}
	e.active.cancelled.Store(true)
	zap.S().Named("validation").Infow("cancellation requested", "run_id", e.active.id)
}

func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		return PhaseIdle
	}
	return e.active.phase
}

// Active returns the id of the running validation, if any.
func (e *Engine) Active() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		return "", false
	}
	return e.active.id, true
}

func (e *Engine) begin(sink Sink) (*runContext, error) {
	e.handoff.Lock()
	defer e.handoff.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != nil {
		return nil, ErrRunActive
	}
	if sink == nil {
		sink = func(Event) {}
	}
	e.active = &runContext{id: uuid.NewString(), phase: PhaseIdle, sink: sink}
	return e.active, nil
}

// end emits the final events of rc and then releases the engine. Calling it
// again for the same run only emits the given events.
func (e *Engine) end(rc *runContext, final ...Event) {
	e.handoff.Lock()
	defer e.handoff.Unlock()

	for _, ev := range final {
		rc.sink(ev)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rc.phase = PhaseIdle
	if e.active == rc {
		e.active = nil
	}
}

func (e *Engine) setPhase(rc *runContext, phase Phase) {
	e.mu.Lock()
	rc.phase = phase
	e.mu.Unlock()

	rc.sink(Event{Type: EventPhase, RunID: rc.id, Label: phase})
}

func (rc *runContext) progress(done, total int) {
	rc.done, rc.total = done, total
	rc.sink(Event{Type: EventProgress, RunID: rc.id, Done: done, Total: total})
}

func (e *Engine) execute(ctx context.Context, rc *runContext, doc string, elements []Element, chunkSize int) (*Result, error) {
	logger := zap.S().Named("validation").With("run_id", rc.id)
	start := time.Now()

	result, err := e.run(ctx, rc, doc, elements, chunkSize)
	if err != nil {
		kind := KindOf(err)
		metrics.IncreaseValidationRunsMetric(string(kind))
		if kind == KindCancelled {
			logger.Infow("validation cancelled", "done", rc.done, "total", rc.total)
		} else {
			logger.Errorw("validation failed", "kind", kind, "error", err)
		}
		return nil, err
	}

	metrics.IncreaseValidationRunsMetric("completed")
	logger.Infow("validation finished",
		"elements", len(elements),
		"rules", len(result.Rules),
		"rows", len(result.Rows),
		"duration", time.Since(start))
	return result, nil
}

func (e *Engine) run(ctx context.Context, rc *runContext, doc string, elements []Element, chunkSize int) (*Result, error) {
	if chunkSize < 1 {
		chunkSize = e.chunkSize
	}

	e.setPhase(rc, PhaseCompiling)
	if err := ids.CheckWellFormed(doc); err != nil {
		return nil, NewMalformedSpecificationError(err)
	}
	specs, err := e.compiler.Compile(ctx, doc)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewCancellationError(ctx.Err())
		}
		return nil, NewMalformedSpecificationError(err)
	}
	if len(specs) == 0 {
		return nil, NewNoSpecificationsError()
	}

	total := len(elements)
	e.setPhase(rc, PhaseValidating)
	rc.progress(0, total)

	agg := NewAggregate()
	rows := []DetailRow{}

	for begin := 0; begin < total; begin += chunkSize {
		if rc.cancelled.Swap(false) {
			return nil, NewCancellationError(errCancelRequested)
		}
		if err := ctx.Err(); err != nil {
			return nil, NewCancellationError(err)
		}

		end := min(begin+chunkSize, total)
		chunkStart := time.Now()
		res, err := e.validator.ValidateChunk(ctx, specs, elements[begin:end])
		metrics.ObserveChunkDurationMetric(time.Since(chunkStart).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				return nil, NewCancellationError(ctx.Err())
			}
			return nil, NewFailedError(err)
		}
		if res == nil {
			res = &ChunkResult{}
		}

		for _, r := range res.Rules {
			agg.Add(r)
		}
		rows = append(rows, res.Rows...)
		rc.progress(end, total)
	}

	e.setPhase(rc, PhaseFinalizing)
	result := &Result{RunID: rc.id, Rules: agg.Rules(), Rows: rows}
	e.end(rc,
		Event{Type: EventDone, RunID: rc.id, Rules: result.Rules, Rows: result.Rows},
		Event{Type: EventPhase, RunID: rc.id, Label: PhaseIdle})
	return result, nil
}
