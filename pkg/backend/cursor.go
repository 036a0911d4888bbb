package backend

import (
	"context"

	"github.com/mouradhm/index-transfert/pkg/models"
)

// PageFunc fetches the next page of a scan. An empty page ends the scan.
type PageFunc func(ctx context.Context) ([]models.Document, error)

// PagedCursor adapts a page-at-a-time scan to the Cursor interface. A page is
// only fetched once every document of the previous page has been consumed.
type PagedCursor struct {
	fetch   PageFunc
	release func(ctx context.Context) error

	page []models.Document
	pos  int
	cur  models.Document
	done bool
	err  error
}

// NewPagedCursor returns a cursor that first yields first, then pages from fetch.
// release, if not nil, is called once by Close.
func NewPagedCursor(first []models.Document, fetch PageFunc, release func(ctx context.Context) error) *PagedCursor {
	return &PagedCursor{
		fetch:   fetch,
		release: release,
		page:    first,
	}
}

func (c *PagedCursor) Next(ctx context.Context) bool {
	for {
		if c.err != nil || c.done {
			return false
		}
		if c.pos < len(c.page) {
			c.cur = c.page[c.pos]
			c.pos++
			return true
		}
		if err := ctx.Err(); err != nil {
			c.err = err
			return false
		}

		page, err := c.fetch(ctx)
		if err != nil {
			c.err = err
			return false
		}
		if len(page) == 0 {
			c.done = true
			return false
		}
		c.page, c.pos = page, 0
	}
}

func (c *PagedCursor) Document() models.Document {
	return c.cur
}

func (c *PagedCursor) Err() error {
	return c.err
}

func (c *PagedCursor) Close(ctx context.Context) error {
	c.done = true
	if c.release == nil {
		return nil
	}
	release := c.release
	c.release = nil
	return release(ctx)
}
