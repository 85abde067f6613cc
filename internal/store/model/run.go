package model

import (
	"time"

	"github.com/google/uuid"
)

// Run status constants
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// Run is the persisted summary of one validation run.
type Run struct {
	ID            uuid.UUID  `gorm:"primaryKey;type:text" json:"id"`
	Status        string     `gorm:"not null;index" json:"status"`
	RequestID     *string    `json:"requestId,omitempty"`
	Elements      int        `json:"elements"`
	Rules         int        `json:"rules"`
	Passed        int        `json:"passed"`
	Failed        int        `json:"failed"`
	NotApplicable int        `json:"notApplicable"`
	Error         *string    `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
}

type RunList []Run

func (r Run) Finished() bool {
	return r.Status != RunStatusRunning
}

// RunStats holds the counters exported by the run collector.
type RunStats struct {
	Total         int
	TotalByStatus map[string]int
	// Elements is the number of elements over all completed runs.
	Elements int
}

func NewRunStats(runs RunList) RunStats {
	stats := RunStats{TotalByStatus: make(map[string]int)}
	for _, r := range runs {
		stats.Total++
		stats.TotalByStatus[r.Status]++
		if r.Status == RunStatusCompleted {
			stats.Elements += r.Elements
		}
	}
	return stats
}
