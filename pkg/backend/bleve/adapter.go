// Package bleve implements backend.Backend on embedded Bleve indexes, either on
// disk under a base directory or in memory.
package bleve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/hashicorp/go-multierror"

	"github.com/mouradhm/index-transfert/pkg/backend"
	"github.com/mouradhm/index-transfert/pkg/models"
)

// MemoryPath selects in-memory indexes instead of a directory.
const MemoryPath = "mem://"

const defaultPageSize = 1000

// sourcePrefix namespaces the original document bodies in the internal store.
const sourcePrefix = "_source:"

// Config contains Bleve configuration.
type Config struct {
	Path     string // base directory for all indexes, or MemoryPath
	PageSize int
}

// Adapter implements backend.Backend for Bleve.
type Adapter struct {
	root     string
	memory   bool
	pageSize int

	mu      sync.Mutex
	indexes map[string]bleve.Index
}

// NewAdapter creates a new Bleve adapter. Indexes are opened lazily.
func NewAdapter(cfg *Config) (*Adapter, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("bleve index path required")
	}

	a := &Adapter{
		root:     cfg.Path,
		memory:   cfg.Path == MemoryPath,
		pageSize: cfg.PageSize,
		indexes:  make(map[string]bleve.Index),
	}
	if a.pageSize <= 0 {
		a.pageSize = defaultPageSize
	}
	return a, nil
}

// Name returns the provider name.
func (a *Adapter) Name() string {
	return backend.KindBleve
}

func (a *Adapter) path(index string) string {
	return filepath.Join(a.root, index+".bleve")
}

// IndexExists reports whether the index is open or present on disk.
func (a *Adapter) IndexExists(ctx context.Context, index string) (bool, error) {
	a.mu.Lock()
	_, open := a.indexes[index]
	a.mu.Unlock()
	if open || a.memory {
		return open, nil
	}

	_, err := os.Stat(a.path(index))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to check index %s: %w", index, err)
	}
}

// buildMapping decodes the mapping document into a Bleve index mapping. An empty
// document selects Bleve's default dynamic mapping.
func buildMapping(doc models.Mapping) (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	if len(doc) == 0 {
		return im, nil
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mapping: %w", err)
	}
	if err := json.Unmarshal(raw, im); err != nil {
		return nil, fmt.Errorf("failed to decode bleve mapping: %w", err)
	}
	if err := im.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bleve mapping: %w", err)
	}
	return im, nil
}

// CreateIndex creates the index with the decoded mapping.
func (a *Adapter) CreateIndex(ctx context.Context, index string, doc models.Mapping) error {
	im, err := buildMapping(doc)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.indexes[index]; ok {
		return nil
	}

	var idx bleve.Index
	if a.memory {
		idx, err = bleve.NewMemOnly(im)
	} else {
		if err := os.MkdirAll(a.root, 0o755); err != nil {
			return fmt.Errorf("failed to create index directory: %w", err)
		}
		idx, err = bleve.New(a.path(index), im)
		if errors.Is(err, bleve.ErrorIndexPathExists) {
			idx, err = bleve.Open(a.path(index))
		}
	}
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", index, err)
	}

	a.indexes[index] = idx
	return nil
}

// open returns the handle of an existing index.
func (a *Adapter) open(index string) (bleve.Index, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if idx, ok := a.indexes[index]; ok {
		return idx, nil
	}
	if a.memory {
		return nil, fmt.Errorf("%w: %s", backend.ErrIndexNotFound, index)
	}

	idx, err := bleve.Open(a.path(index))
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		return nil, fmt.Errorf("%w: %s", backend.ErrIndexNotFound, index)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open index %s: %w", index, err)
	}
	a.indexes[index] = idx
	return idx, nil
}

// Scan pages through the index ordered by _id using search-after.
func (a *Adapter) Scan(ctx context.Context, index string) (backend.Cursor, error) {
	idx, err := a.open(index)
	if err != nil {
		return nil, err
	}

	s := &scan{index: idx, size: a.pageSize}
	first, err := s.next(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", index, err)
	}
	return backend.NewPagedCursor(first, s.next, nil), nil
}

type scan struct {
	index bleve.Index
	size  int
	after string
	done  bool
}

func (s *scan) next(ctx context.Context) ([]models.Document, error) {
	if s.done {
		return nil, nil
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), s.size, 0, false)
	req.Fields = []string{"*"}
	req.SortBy([]string{"_id"})
	if s.after != "" {
		req.SetSearchAfter([]string{s.after})
	}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(res.Hits) < s.size {
		s.done = true
	}

	docs := make([]models.Document, 0, len(res.Hits))
	for _, hit := range res.Hits {
		source, err := s.source(hit.ID, hit.Fields)
		if err != nil {
			return nil, err
		}
		docs = append(docs, models.Document{ID: hit.ID, Source: source})
		s.after = hit.ID
	}
	return docs, nil
}

// source returns the body stored by Bulk, falling back to the stored fields of
// documents indexed by other writers.
func (s *scan) source(id string, fields map[string]interface{}) (map[string]interface{}, error) {
	raw, err := s.index.GetInternal([]byte(sourcePrefix + id))
	if err != nil {
		return nil, fmt.Errorf("failed to read source of %s: %w", id, err)
	}
	if len(raw) == 0 {
		if fields == nil {
			fields = map[string]interface{}{}
		}
		return fields, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body map[string]interface{}
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode source of %s: %w", id, err)
	}
	return body, nil
}

// Bulk indexes actions in a single Bleve batch, keeping each original body in
// the internal store.
func (a *Adapter) Bulk(ctx context.Context, actions []models.Action) (models.BulkReport, error) {
	report := models.BulkReport{Attempted: len(actions)}
	if len(actions) == 0 {
		return report, nil
	}

	// all actions of a batch target the same index
	idx, err := a.open(actions[0].Index)
	if err != nil {
		return models.BulkReport{}, err
	}

	batch := idx.NewBatch()
	for _, action := range actions {
		if action.Index != actions[0].Index {
			report.Failures = append(report.Failures, models.ItemFailure{
				ID:     action.ID,
				Reason: fmt.Sprintf("mixed target index %s", action.Index),
			})
			continue
		}
		raw, err := json.Marshal(action.Source)
		if err != nil {
			report.Failures = append(report.Failures, models.ItemFailure{ID: action.ID, Reason: err.Error()})
			continue
		}
		if err := batch.Index(action.ID, action.Source); err != nil {
			report.Failures = append(report.Failures, models.ItemFailure{ID: action.ID, Reason: err.Error()})
			continue
		}
		batch.SetInternal([]byte(sourcePrefix+action.ID), raw)
	}

	if err := idx.Batch(batch); err != nil {
		return models.BulkReport{}, fmt.Errorf("failed to apply batch: %w", err)
	}
	return report, nil
}

// Close closes every open index.
func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var result *multierror.Error
	for name, idx := range a.indexes {
		if err := idx.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close index %s: %w", name, err))
		}
		delete(a.indexes, name)
	}
	return result.ErrorOrNil()
}
