package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kubev2v/ids-validator/internal/extract"
	"github.com/kubev2v/ids-validator/pkg/metrics"
	"go.uber.org/zap"
)

// Pool fans batches of raw element records out to a fixed set of execution
// units and reassembles their results in input order.
type Pool struct {
	unitCount int
	batchSize int
	progress  ProgressFunc
	batchFn   BatchFunc
	unitInit  func(unitID int) error

	// mu serializes Initialize and Process.
	mu          sync.Mutex
	initialized bool
	units       []*unit
	replies     chan Message

	ctx        context.Context
	cancel     context.CancelFunc
	quit       chan struct{}
	terminate  sync.Once
	terminated atomic.Bool
	wg         sync.WaitGroup

	running   atomic.Int32
	processed atomic.Int64
	skipped   atomic.Int64
}

type unit struct {
	id    int
	inbox chan Message
}

type Stats struct {
	Units        int   `json:"units"`
	BatchSize    int   `json:"batchSize"`
	RunningUnits int   `json:"runningUnits"`
	Processed    int64 `json:"processed"`
	Skipped      int64 `json:"skipped"`
}

func New(opts ...Option) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		unitCount: DefaultUnitCount(),
		batchSize: DefaultBatchSize,
		batchFn:   extract.Batch,
		ctx:       ctx,
		cancel:    cancel,
		quit:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Initialize starts the execution units and blocks until every unit is ready.
// When a unit fails to start, the units already running are stopped before
// the *PoolInitError is returned.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.terminated.Load() {
		return ErrPoolTerminated
	}
	if p.initialized {
		return ErrAlreadyInitialized
	}

	logger := zap.S().Named("pool")
	p.replies = make(chan Message, p.unitCount)
	for i := 0; i < p.unitCount; i++ {
		u := &unit{id: i, inbox: make(chan Message, 1)}
		p.units = append(p.units, u)
		p.wg.Add(1)
		p.running.Add(1)
		go p.run(u)
	}

	for ready := 0; ready < p.unitCount; {
		select {
		case msg := <-p.replies:
			switch msg.Type {
			case MessageReady:
				ready++
			case MessageError:
				p.Terminate()
				p.wg.Wait()
				logger.Errorw("unit failed to start", "unit_id", msg.UnitID, "error", msg.Error)
				return NewPoolInitError(msg.UnitID, errors.New(msg.Error))
			}
		case <-ctx.Done():
			p.Terminate()
			p.wg.Wait()
			return NewPoolInitError(-1, ctx.Err())
		case <-p.quit:
			p.wg.Wait()
			return ErrPoolTerminated
		}
	}

	p.initialized = true
	metrics.UpdatePoolUnitsMetric(p.unitCount)
	logger.Infow("worker pool started", "units", p.unitCount, "batch_size", p.batchSize)
	return nil
}

// Process extracts elements and returns the processed elements in input
// order. Any batch failure fails the whole call and no partial output is
// returned.
func (p *Pool) Process(ctx context.Context, elements []extract.RawElementRecord) ([]extract.ProcessedElement, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.terminated.Load() {
		return nil, ErrPoolTerminated
	}
	if !p.initialized {
		return nil, ErrNotInitialized
	}

	batches := Split(elements, p.batchSize)
	if len(batches) == 0 {
		return []extract.ProcessedElement{}, nil
	}

	metrics.SetPoolProcessActiveMetric(true)
	defer metrics.SetPoolProcessActiveMetric(false)

	logger := zap.S().Named("pool")
	logger.Debugw("processing elements", "elements", len(elements), "batches", len(batches))

	pending := batches
	results := make(map[int][]extract.ProcessedElement, len(batches))
	inFlight := 0

	for _, u := range p.units {
		if len(pending) == 0 {
			break
		}
		if err := p.dispatch(u, pending[0]); err != nil {
			return nil, err
		}
		pending = pending[1:]
		inFlight++
	}

	var failure error
	completed := 0
	done := ctx.Done()

	for inFlight > 0 {
		select {
		case msg := <-p.replies:
			inFlight--
			switch msg.Type {
			case MessageBatchComplete:
				metrics.IncreasePoolBatchesMetric(metrics.BatchStateComplete)
				if failure != nil {
					logger.Debugw("discarding batch after failure", "batch_id", msg.BatchID)
					continue
				}
				results[msg.BatchID] = msg.Results
				p.record(msg)
				completed++
				if p.progress != nil {
					p.progress(completed, len(batches))
				}
				if len(pending) > 0 {
					if err := p.dispatch(p.units[msg.UnitID], pending[0]); err != nil {
						return nil, err
					}
					pending = pending[1:]
					inFlight++
				}
			case MessageError:
				metrics.IncreasePoolBatchesMetric(metrics.BatchStateError)
				logger.Errorw("batch failed", "batch_id", msg.BatchID, "unit_id", msg.UnitID, "error", msg.Error)
				if failure == nil {
					failure = NewBatchProcessingError(msg.BatchID, msg.UnitID, msg.Error)
					pending = nil
				}
			}
		case <-done:
			if failure == nil {
				failure = ctx.Err()
				pending = nil
			}
			done = nil
		case <-p.quit:
			return nil, ErrPoolTerminated
		}
	}

	if failure != nil {
		return nil, failure
	}

	total := 0
	for _, r := range results {
		total += len(r)
	}
	out := make([]extract.ProcessedElement, 0, total)
	for id := range batches {
		out = append(out, results[id]...)
	}
	return out, nil
}

// Terminate stops every unit. A Process call in flight fails with
// ErrPoolTerminated. It is safe to call more than once and before or after a
// failed Initialize; it does not wait for units to exit.
func (p *Pool) Terminate() {
	p.terminate.Do(func() {
		p.terminated.Store(true)
		close(p.quit)
		p.cancel()
		metrics.UpdatePoolUnitsMetric(0)
		zap.S().Named("pool").Debug("worker pool terminated")
	})
}

func (p *Pool) Stats() Stats {
	return Stats{
		Units:        p.unitCount,
		BatchSize:    p.batchSize,
		RunningUnits: int(p.running.Load()),
		Processed:    p.processed.Load(),
		Skipped:      p.skipped.Load(),
	}
}

func (p *Pool) record(msg Message) {
	p.processed.Add(int64(len(msg.Results)))
	p.skipped.Add(int64(len(msg.Skipped)))
	metrics.AddElementsMetric(metrics.ElementExtracted, len(msg.Results))
	metrics.AddElementsMetric(metrics.ElementSkipped, len(msg.Skipped))
}

func (p *Pool) dispatch(u *unit, b Batch) error {
	msg := Message{Type: MessageProcessBatch, BatchID: b.ID, Elements: b.Elements}
	select {
	case u.inbox <- msg:
		return nil
	case <-p.quit:
		return ErrPoolTerminated
	}
}

func (p *Pool) run(u *unit) {
	defer p.wg.Done()
	defer p.running.Add(-1)

	if p.unitInit != nil {
		if err := p.unitInit(u.id); err != nil {
			p.reply(Message{Type: MessageError, BatchID: -1, UnitID: u.id, Error: err.Error()})
			return
		}
	}
	if !p.reply(Message{Type: MessageReady, UnitID: u.id}) {
		return
	}

	for {
		select {
		case <-p.quit:
			return
		case msg := <-u.inbox:
			if !p.reply(p.handle(u, msg)) {
				return
			}
		}
	}
}

func (p *Pool) reply(msg Message) bool {
	select {
	case p.replies <- msg:
		return true
	case <-p.quit:
		return false
	}
}

func (p *Pool) handle(u *unit, msg Message) (reply Message) {
	reply = Message{BatchID: msg.BatchID, UnitID: u.id}
	defer func() {
		if r := recover(); r != nil {
			reply = Message{
				Type:    MessageError,
				BatchID: msg.BatchID,
				UnitID:  u.id,
				Error:   fmt.Sprintf("unit panicked: %v", r),
			}
		}
	}()

	if msg.Type != MessageProcessBatch {
		reply.Type = MessageError
		reply.Error = fmt.Sprintf("unexpected message type %q", msg.Type)
		return reply
	}

	outcome, err := p.batchFn(p.ctx, msg.BatchID, msg.Elements)
	if err != nil {
		reply.Type = MessageError
		reply.Error = err.Error()
		return reply
	}

	reply.Type = MessageBatchComplete
	reply.Results = outcome.Elements
	reply.Skipped = outcome.Skipped
	return reply
}
