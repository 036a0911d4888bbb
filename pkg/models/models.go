package models

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// IDField is the body field the pipeline fills with the document identifier
const IDField = "id"

// Mapping is the opaque index-creation body (settings and field mappings)
type Mapping map[string]interface{}

// Document is a single document read from a source index
type Document struct {
	ID     string                 `json:"id"`
	Source map[string]interface{} `json:"source"`
}

// Action is a pending write of one document into the destination index
type Action struct {
	Index  string                 `json:"index"`
	ID     string                 `json:"id"`
	Source map[string]interface{} `json:"source"`
}

// NewAction builds the write action for doc targeting index. The body is copied
// and its id field set to the document identifier.
func NewAction(index string, doc Document) Action {
	body := make(map[string]interface{}, len(doc.Source)+1)
	for k, v := range doc.Source {
		body[k] = v
	}
	body[IDField] = doc.ID

	return Action{
		Index:  index,
		ID:     doc.ID,
		Source: body,
	}
}

// ItemFailure describes a document the destination rejected inside a bulk call
type ItemFailure struct {
	ID     string `json:"id"`
	Status int    `json:"status,omitempty"`
	Reason string `json:"reason"`
}

func (f ItemFailure) Error() string {
	if f.Status != 0 {
		return fmt.Sprintf("document %s: %d %s", f.ID, f.Status, f.Reason)
	}
	return fmt.Sprintf("document %s: %s", f.ID, f.Reason)
}

// BulkReport contains the per-document outcome of a single bulk call
type BulkReport struct {
	Attempted int           `json:"attempted"`
	Failures  []ItemFailure `json:"failures,omitempty"`
}

// Succeeded returns the number of documents the destination accepted
func (r BulkReport) Succeeded() int {
	return r.Attempted - len(r.Failures)
}

// Err aggregates the document failures, or returns nil when there are none
func (r BulkReport) Err() error {
	var result *multierror.Error
	for _, f := range r.Failures {
		result = multierror.Append(result, f)
	}
	return result.ErrorOrNil()
}

// BatchResult contains the result of flushing one batch
type BatchResult struct {
	Sequence int           `json:"sequence"`
	Size     int           `json:"size"`
	Report   BulkReport    `json:"report"`
	Duration time.Duration `json:"duration"`
}

// TransferResult contains the overall result of a migration run
type TransferResult struct {
	RunID            string        `json:"runId,omitempty"`
	SourceIndex      string        `json:"sourceIndex"`
	DestinationIndex string        `json:"destinationIndex"`
	DocumentsScanned int           `json:"documentsScanned"`
	DocumentsWritten int           `json:"documentsWritten"`
	DocumentsFailed  int           `json:"documentsFailed"`
	Batches          int           `json:"batches"`
	Failures         []ItemFailure `json:"failures,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// Success reports whether every scanned document was accepted by the destination
func (r TransferResult) Success() bool {
	return r.DocumentsFailed == 0
}
