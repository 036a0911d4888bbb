package activities

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mouradhm/index-transfert/pkg/models"
)

func TestEnsureIndex(t *testing.T) {
	mapping := models.Mapping{"mappings": map[string]interface{}{"properties": map[string]interface{}{}}}

	t.Run("creates missing index once", func(t *testing.T) {
		dst := newFakeBackend()
		ctx := context.Background()

		created, err := EnsureIndex(ctx, dst, "products", mapping, nil)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = EnsureIndex(ctx, dst, "products", mapping, nil)
		require.NoError(t, err)
		assert.False(t, created)

		assert.Equal(t, []string{"products"}, dst.creates)
	})

	t.Run("existing index is left untouched", func(t *testing.T) {
		dst := newFakeBackend()
		dst.seed("products", docs(2)...)

		created, err := EnsureIndex(context.Background(), dst, "products", mapping, nil)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Empty(t, dst.creates)
		assert.Len(t, dst.indexes["products"], 2)
	})

	t.Run("existence check fails", func(t *testing.T) {
		dst := newFakeBackend()
		dst.existsErr = errors.New("403 forbidden")

		_, err := EnsureIndex(context.Background(), dst, "products", mapping, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrProvision)
		assert.Empty(t, dst.creates)
	})

	t.Run("creation fails", func(t *testing.T) {
		dst := newFakeBackend()
		dst.createErr = errors.New("mapper_parsing_exception")

		_, err := EnsureIndex(context.Background(), dst, "products", mapping, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrProvision)
		assert.Contains(t, err.Error(), "create index products")
		assert.Contains(t, err.Error(), "mapper_parsing_exception")
	})
}

func TestError(t *testing.T) {
	cause := errors.New("boom")
	err := newError("scan src", ErrScan, cause)

	assert.Equal(t, "scan src: scan error: boom", err.Error())
	assert.ErrorIs(t, err, ErrScan)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrBulkWrite)

	assert.Equal(t, "connect: connection error", newError("connect", ErrConnection, nil).Error())
}
