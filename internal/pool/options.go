package pool

import (
	"context"
	"runtime"

	"github.com/kubev2v/ids-validator/internal/extract"
)

const DefaultBatchSize = 500

// BatchFunc is the work a unit runs for every batch it receives.
type BatchFunc func(ctx context.Context, batchID int, records []extract.RawElementRecord) (extract.BatchOutcome, error)

// ProgressFunc is called by the dispatcher after every completed batch.
type ProgressFunc func(completed, total int)

type Option func(*Pool)

func DefaultUnitCount() int {
	return max(runtime.NumCPU()-1, 1)
}

// WithUnitCount sets the number of execution units. Values below 1 keep the default.
func WithUnitCount(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.unitCount = n
		}
	}
}

// WithBatchSize sets the number of elements per batch. Values below 1 keep the default.
func WithBatchSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithProgress(fn ProgressFunc) Option {
	return func(p *Pool) {
		p.progress = fn
	}
}

func WithBatchFunc(fn BatchFunc) Option {
	return func(p *Pool) {
		if fn != nil {
			p.batchFn = fn
		}
	}
}

// WithUnitInit registers a hook run by every unit before it reports ready.
// A returned error fails Initialize.
func WithUnitInit(fn func(unitID int) error) Option {
	return func(p *Pool) {
		p.unitInit = fn
	}
}
