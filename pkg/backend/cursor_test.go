package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mouradhm/index-transfert/pkg/models"
)

func docs(ids ...string) []models.Document {
	out := make([]models.Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Document{ID: id, Source: map[string]interface{}{}})
	}
	return out
}

func collect(t *testing.T, c Cursor) []string {
	t.Helper()
	var ids []string
	for c.Next(context.Background()) {
		ids = append(ids, c.Document().ID)
	}
	return ids
}

func TestPagedCursor(t *testing.T) {
	pages := [][]models.Document{docs("3", "4"), docs("5"), nil}
	fetches := 0
	fetch := func(ctx context.Context) ([]models.Document, error) {
		page := pages[fetches]
		fetches++
		return page, nil
	}
	released := 0
	release := func(ctx context.Context) error {
		released++
		return nil
	}

	c := NewPagedCursor(docs("1", "2"), fetch, release)

	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, collect(t, c))
	assert.NoError(t, c.Err())
	assert.Equal(t, 3, fetches)
	assert.False(t, c.Next(context.Background()), "exhausted cursor stays exhausted")
	assert.Equal(t, 3, fetches)

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, 1, released)
}

func TestPagedCursor_Empty(t *testing.T) {
	c := NewPagedCursor(nil, func(ctx context.Context) ([]models.Document, error) {
		return nil, nil
	}, nil)

	assert.Empty(t, collect(t, c))
	assert.NoError(t, c.Err())
	assert.NoError(t, c.Close(context.Background()))
}

func TestPagedCursor_FetchError(t *testing.T) {
	boom := errors.New("scroll expired")
	c := NewPagedCursor(docs("1"), func(ctx context.Context) ([]models.Document, error) {
		return nil, boom
	}, nil)

	assert.Equal(t, []string{"1"}, collect(t, c))
	assert.ErrorIs(t, c.Err(), boom)
}

func TestPagedCursor_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewPagedCursor(nil, func(ctx context.Context) ([]models.Document, error) {
		t.Fatal("fetch must not run on a canceled context")
		return nil, nil
	}, nil)

	assert.False(t, c.Next(ctx))
	assert.ErrorIs(t, c.Err(), context.Canceled)
}
