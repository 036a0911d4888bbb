// Package backend defines the capability surface the migration pipeline needs from a
// document-index service. Each supported service family lives in its own sub-package.
package backend

import (
	"context"
	"errors"

	"github.com/mouradhm/index-transfert/pkg/models"
)

// Supported backend kinds.
const (
	KindElasticsearch = "elasticsearch"
	KindOpenSearch    = "opensearch"
	KindMongoDB       = "mongodb"
	KindBleve         = "bleve"
	KindMeilisearch   = "meilisearch"
)

// Kinds lists every backend kind that can be configured.
var Kinds = []string{KindElasticsearch, KindOpenSearch, KindMongoDB, KindBleve, KindMeilisearch}

// ErrIndexNotFound is returned by Scan when the requested index does not exist.
var ErrIndexNotFound = errors.New("index not found")

// Backend is a client handle to one index service endpoint.
type Backend interface {
	// Name returns the backend kind.
	Name() string

	// IndexExists reports whether index exists.
	IndexExists(ctx context.Context, index string) (bool, error)

	// CreateIndex creates index using mapping as the full creation payload.
	CreateIndex(ctx context.Context, index string, mapping models.Mapping) error

	// Scan opens a match-everything scan over index.
	Scan(ctx context.Context, index string) (Cursor, error)

	// Bulk upserts actions by identifier. A returned error means the call itself
	// failed; documents rejected by the service are listed in the report.
	Bulk(ctx context.Context, actions []models.Action) (models.BulkReport, error)

	// Close releases the handle.
	Close(ctx context.Context) error
}

// Cursor is a lazy sequence of scanned documents.
type Cursor interface {
	// Next advances to the next document, fetching a new page when needed.
	// It returns false when the scan is exhausted or failed; check Err.
	Next(ctx context.Context) bool

	// Document returns the current document.
	Document() models.Document

	// Err returns the error that stopped the scan, if any.
	Err() error

	// Close releases server-side scan resources.
	Close(ctx context.Context) error
}
