package activities

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mouradhm/index-transfert/pkg/backend"
	"github.com/mouradhm/index-transfert/pkg/models"
)

// maxRecordedFailures bounds the failures kept in a TransferResult. Counts stay exact.
const maxRecordedFailures = 1000

// BatchObserver is notified after every flushed batch. Observer errors are
// logged and do not stop the migration.
type BatchObserver interface {
	BatchFlushed(ctx context.Context, result models.BatchResult) error
}

// ObserverFunc adapts a function to BatchObserver
type ObserverFunc func(ctx context.Context, result models.BatchResult) error

func (f ObserverFunc) BatchFlushed(ctx context.Context, result models.BatchResult) error {
	return f(ctx, result)
}

// MigrateOptions contains the optional settings of Migrate
type MigrateOptions struct {
	// RunID is copied into the result.
	RunID string

	// Strict aborts the run on the first batch with rejected documents.
	Strict bool

	Observers []BatchObserver
	Logger    hclog.Logger
}

// migration is the state of a single Migrate call.
type migration struct {
	dst       backend.Backend
	dstIndex  string
	opts      MigrateOptions
	logger    hclog.Logger
	result    models.TransferResult
	observers []BatchObserver
}

// Migrate copies every document of srcIndex into dstIndex. Documents are
// written in batches of batchSize; a final partial batch is written once the
// scan is exhausted. Reading and writing are strictly sequential.
func Migrate(
	ctx context.Context,
	src backend.Backend,
	dst backend.Backend,
	srcIndex string,
	dstIndex string,
	batchSize int,
	opts MigrateOptions,
) (models.TransferResult, error) {
	start := time.Now()

	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("migrate")

	m := &migration{
		dst:      dst,
		dstIndex: dstIndex,
		opts:     opts,
		logger:   logger,
		result: models.TransferResult{
			RunID:            opts.RunID,
			SourceIndex:      srcIndex,
			DestinationIndex: dstIndex,
		},
		observers: append([]BatchObserver{newProgress(logger)}, opts.Observers...),
	}

	result, err := m.run(ctx, src, srcIndex, batchSize)
	result.Duration = time.Since(start)
	return result, err
}

func (m *migration) run(ctx context.Context, src backend.Backend, srcIndex string, batchSize int) (models.TransferResult, error) {
	if batchSize <= 0 {
		return m.result, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	m.logger.Info("starting migration", "source", srcIndex, "destination", m.dstIndex, "batch_size", batchSize)

	cursor, err := src.Scan(ctx, srcIndex)
	if err != nil {
		return m.result, newError("scan "+srcIndex, ErrScan, err)
	}
	defer func() {
		if err := cursor.Close(ctx); err != nil {
			m.logger.Warn("error closing scan", "index", srcIndex, "error", err)
		}
	}()

	batch := make([]models.Action, 0, batchSize)
	for cursor.Next(ctx) {
		m.result.DocumentsScanned++
		batch = append(batch, models.NewAction(m.dstIndex, cursor.Document()))

		if len(batch) == batchSize {
			if err := m.flush(ctx, batch); err != nil {
				return m.result, err
			}
			batch = make([]models.Action, 0, batchSize)
		}
	}

	if err := cursor.Err(); err != nil {
		return m.result, newError("continue scan of "+srcIndex, ErrScan, err)
	}

	// write the remaining documents
	if len(batch) > 0 {
		if err := m.flush(ctx, batch); err != nil {
			return m.result, err
		}
	}

	m.logger.Info("migration completed",
		"scanned", m.result.DocumentsScanned,
		"written", m.result.DocumentsWritten,
		"failed", m.result.DocumentsFailed,
		"batches", m.result.Batches)
	return m.result, nil
}

// flush writes one batch and notifies the observers.
func (m *migration) flush(ctx context.Context, batch []models.Action) error {
	sequence := m.result.Batches + 1
	start := time.Now()

	report, err := m.dst.Bulk(ctx, batch)
	if err != nil {
		return newError(fmt.Sprintf("bulk write batch %d", sequence), ErrBulkWrite, err)
	}
	if report.Attempted == 0 {
		report.Attempted = len(batch)
	}

	m.result.Batches = sequence
	m.result.DocumentsWritten += report.Succeeded()
	m.result.DocumentsFailed += len(report.Failures)
	for _, f := range report.Failures {
		if len(m.result.Failures) >= maxRecordedFailures {
			break
		}
		m.result.Failures = append(m.result.Failures, f)
	}

	batchResult := models.BatchResult{
		Sequence: sequence,
		Size:     len(batch),
		Report:   report,
		Duration: time.Since(start),
	}
	for _, o := range m.observers {
		if err := o.BatchFlushed(ctx, batchResult); err != nil {
			m.logger.Warn("batch observer failed", "batch", sequence, "error", err)
		}
	}

	if len(report.Failures) > 0 {
		m.logger.Warn("documents rejected by destination",
			"batch", sequence,
			"failed", len(report.Failures),
			"first", report.Failures[0].Error())
		if m.opts.Strict {
			return newError(fmt.Sprintf("bulk write batch %d", sequence), ErrDocumentWrite, report.Err())
		}
	}
	return nil
}
