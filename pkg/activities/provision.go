package activities

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/mouradhm/index-transfert/pkg/backend"
	"github.com/mouradhm/index-transfert/pkg/models"
)

// EnsureIndex creates index on dst with mapping as the creation body when it
// does not exist yet. An existing index is never modified. It reports whether
// the index was created.
func EnsureIndex(ctx context.Context, dst backend.Backend, index string, mapping models.Mapping, logger hclog.Logger) (bool, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("provision")

	exists, err := dst.IndexExists(ctx, index)
	if err != nil {
		return false, newError("check index "+index, ErrProvision, err)
	}
	if exists {
		logger.Info("destination index already exists", "index", index)
		return false, nil
	}

	logger.Info("creating destination index", "index", index, "backend", dst.Name())
	if err := dst.CreateIndex(ctx, index, mapping); err != nil {
		return false, newError("create index "+index, ErrProvision, err)
	}
	return true, nil
}
