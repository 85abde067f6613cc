package pool

import "github.com/kubev2v/ids-validator/internal/extract"

type MessageType string

const (
	MessageProcessBatch  MessageType = "process-batch"
	MessageBatchComplete MessageType = "batch-complete"
	MessageError         MessageType = "error"
	MessageReady         MessageType = "ready"
)

// Message is exchanged between the dispatcher and the execution units.
// Units never share memory with the dispatcher beyond what a message carries.
type Message struct {
	Type     MessageType                `json:"type"`
	BatchID  int                        `json:"batchId"`
	Elements []extract.RawElementRecord `json:"elements,omitempty"`
	Results  []extract.ProcessedElement `json:"results,omitempty"`
	Skipped  []extract.Skip             `json:"skipped,omitempty"`
	Error    string                     `json:"error,omitempty"`
	UnitID   int                        `json:"-"`
}

type Batch struct {
	ID       int
	Elements []extract.RawElementRecord
}

// Split partitions elements into contiguous batches of at most size elements.
// Batch ids follow input order starting at 0.
func Split(elements []extract.RawElementRecord, size int) []Batch {
	if size < 1 {
		size = 1
	}
	batches := make([]Batch, 0, (len(elements)+size-1)/size)
	for start := 0; start < len(elements); start += size {
		end := min(start+size, len(elements))
		batches = append(batches, Batch{ID: len(batches), Elements: elements[start:end]})
	}
	return batches
}
