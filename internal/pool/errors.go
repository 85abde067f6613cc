package pool

import (
	"errors"
	"fmt"
)

var (
	ErrPoolTerminated     = errors.New("worker pool terminated")
	ErrNotInitialized     = errors.New("worker pool is not initialized")
	ErrAlreadyInitialized = errors.New("worker pool is already initialized")
)

// PoolInitError is returned by Initialize when a unit could not be started.
type PoolInitError struct {
	UnitID int
	error
}

func NewPoolInitError(unitID int, cause error) *PoolInitError {
	return &PoolInitError{UnitID: unitID, error: fmt.Errorf("failed to start unit %d: %w", unitID, cause)}
}

func (e *PoolInitError) Unwrap() error {
	return e.error
}

// BatchProcessingError is returned by Process when a unit reported a failure for a batch.
type BatchProcessingError struct {
	BatchID int
	UnitID  int
	error
}

func NewBatchProcessingError(batchID, unitID int, message string) *BatchProcessingError {
	return &BatchProcessingError{
		BatchID: batchID,
		UnitID:  unitID,
		error:   fmt.Errorf("batch %d failed on unit %d: %s", batchID, unitID, message),
	}
}

func (e *BatchProcessingError) Unwrap() error {
	return e.error
}
