package activities

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/mouradhm/index-transfert/pkg/models"
)

// progressEvery is the number of batches between info-level progress lines.
const progressEvery = 10

// progress logs every flushed batch at debug level and a running total at info
// level every progressEvery batches.
type progress struct {
	logger  hclog.Logger
	written int
	failed  int
}

func newProgress(logger hclog.Logger) *progress {
	return &progress{logger: logger}
}

func (p *progress) BatchFlushed(ctx context.Context, result models.BatchResult) error {
	p.written += result.Report.Succeeded()
	p.failed += len(result.Report.Failures)

	p.logger.Debug("batch written",
		"batch", result.Sequence,
		"size", result.Size,
		"failed", len(result.Report.Failures),
		"duration", result.Duration)

	if result.Sequence%progressEvery == 0 {
		p.logger.Info("progress", "batches", result.Sequence, "written", p.written, "failed", p.failed)
	}
	return nil
}
