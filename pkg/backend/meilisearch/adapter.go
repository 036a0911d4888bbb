// Package meilisearch implements backend.Backend for Meilisearch indexes.
package meilisearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/meilisearch/meilisearch-go"

	"github.com/mouradhm/index-transfert/pkg/backend"
	"github.com/mouradhm/index-transfert/pkg/models"
)

const (
	defaultPageSize     = 1000
	defaultTaskInterval = 50 * time.Millisecond
)

// indexExistsCode is the error code of an index creation task on an existing uid.
const indexExistsCode = "index_already_exists"

// Config contains Meilisearch configuration.
type Config struct {
	Host   string
	APIKey string

	// Transport defaults to backend.InsecureTransport().
	Transport http.RoundTripper

	PageSize     int
	TaskInterval time.Duration
	Logger       hclog.Logger
}

func (c *Config) validate() error {
	if c.Host == "" {
		return fmt.Errorf("meilisearch host required")
	}
	return nil
}

// Adapter implements backend.Backend for Meilisearch. Documents are keyed by
// the id body field.
type Adapter struct {
	client       meilisearch.ServiceManager
	pageSize     int64
	taskInterval time.Duration
	logger       hclog.Logger
}

// NewAdapter creates a new Meilisearch adapter and checks the server health.
func NewAdapter(cfg *Config) (*Adapter, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid meilisearch config: %w", err)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = backend.InsecureTransport()
	}

	client := meilisearch.New(cfg.Host,
		meilisearch.WithAPIKey(cfg.APIKey),
		meilisearch.WithCustomClient(&http.Client{Transport: transport}),
	)

	if _, err := client.Health(); err != nil {
		return nil, fmt.Errorf("failed to connect to meilisearch: %w", err)
	}

	a := &Adapter{
		client:       client,
		pageSize:     int64(cfg.PageSize),
		taskInterval: cfg.TaskInterval,
		logger:       cfg.Logger,
	}
	if a.pageSize <= 0 {
		a.pageSize = defaultPageSize
	}
	if a.taskInterval <= 0 {
		a.taskInterval = defaultTaskInterval
	}
	if a.logger == nil {
		a.logger = hclog.NewNullLogger()
	}
	a.logger = a.logger.Named(backend.KindMeilisearch)
	return a, nil
}

// Name returns the provider name.
func (a *Adapter) Name() string {
	return backend.KindMeilisearch
}

func isNotFound(err error) bool {
	var apiErr *meilisearch.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IndexExists reports whether the index exists.
func (a *Adapter) IndexExists(ctx context.Context, index string) (bool, error) {
	_, err := a.client.GetIndexWithContext(ctx, index)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check index %s: %w", index, err)
	}
	return true, nil
}

// settings decodes the mapping document into index settings.
func settings(mapping models.Mapping) (*meilisearch.Settings, error) {
	if len(mapping) == 0 {
		return nil, nil
	}

	raw, err := json.Marshal(mapping)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mapping: %w", err)
	}
	var s meilisearch.Settings
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("invalid meilisearch settings: %w", err)
	}
	return &s, nil
}

// CreateIndex creates the index with id as primary key and applies the mapping
// as index settings.
func (a *Adapter) CreateIndex(ctx context.Context, index string, mapping models.Mapping) error {
	s, err := settings(mapping)
	if err != nil {
		return err
	}

	info, err := a.client.CreateIndexWithContext(ctx, &meilisearch.IndexConfig{
		Uid:        index,
		PrimaryKey: models.IDField,
	})
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", index, err)
	}
	task, err := a.wait(ctx, info)
	if err != nil && task != nil && task.Error.Code == indexExistsCode {
		a.logger.Warn("index already exists, leaving it untouched", "index", index)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", index, err)
	}

	if s == nil {
		return nil
	}
	info, err = a.client.Index(index).UpdateSettingsWithContext(ctx, s)
	if err != nil {
		return fmt.Errorf("failed to apply settings to %s: %w", index, err)
	}
	if _, err := a.wait(ctx, info); err != nil {
		return fmt.Errorf("failed to apply settings to %s: %w", index, err)
	}
	return nil
}

// wait blocks until the task is processed and turns a failed task into an
// error. The task is returned whenever it was read, failed or not.
func (a *Adapter) wait(ctx context.Context, info *meilisearch.TaskInfo) (*meilisearch.Task, error) {
	task, err := a.client.WaitForTaskWithContext(ctx, info.TaskUID, a.taskInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for task %d: %w", info.TaskUID, err)
	}
	if task.Status == meilisearch.TaskStatusFailed {
		return task, fmt.Errorf("task %d failed: %s: %s", info.TaskUID, task.Error.Code, task.Error.Message)
	}
	return task, nil
}

// Scan pages through the index by offset.
func (a *Adapter) Scan(ctx context.Context, index string) (backend.Cursor, error) {
	s := &scan{adapter: a, index: index}
	first, err := s.next(ctx)
	if isNotFound(err) {
		return nil, fmt.Errorf("failed to scan %s: %w", index, backend.ErrIndexNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", index, err)
	}
	return backend.NewPagedCursor(first, s.next, nil), nil
}

type scan struct {
	adapter *Adapter
	index   string
	offset  int64
	done    bool
}

func (s *scan) next(ctx context.Context) ([]models.Document, error) {
	if s.done {
		return nil, nil
	}

	var res meilisearch.DocumentsResult
	query := &meilisearch.DocumentsQuery{Offset: s.offset, Limit: s.adapter.pageSize}
	if err := s.adapter.client.Index(s.index).GetDocumentsWithContext(ctx, query, &res); err != nil {
		return nil, err
	}

	docs, err := decodeDocuments(res.Results)
	if err != nil {
		return nil, err
	}
	s.offset += int64(len(docs))
	if int64(len(docs)) < s.adapter.pageSize {
		s.done = true
	}
	return docs, nil
}

// decodeDocuments re-reads documents through JSON so numbers are kept as
// json.Number whatever representation the client returned.
func decodeDocuments(results interface{}) ([]models.Document, error) {
	raw, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("failed to encode documents: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var bodies []map[string]interface{}
	if err := dec.Decode(&bodies); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}

	docs := make([]models.Document, 0, len(bodies))
	for _, body := range bodies {
		var id string
		switch v := body[models.IDField].(type) {
		case string:
			id = v
		case json.Number:
			id = v.String()
		default:
			return nil, fmt.Errorf("document without %s field", models.IDField)
		}
		docs = append(docs, models.Document{ID: id, Source: body})
	}
	return docs, nil
}

// Bulk adds or replaces the documents and waits for the task. A failed task
// rejects every document of the call.
func (a *Adapter) Bulk(ctx context.Context, actions []models.Action) (models.BulkReport, error) {
	report := models.BulkReport{Attempted: len(actions)}
	if len(actions) == 0 {
		return report, nil
	}

	// all actions of a batch target the same index
	index := actions[0].Index
	docs := make([]map[string]interface{}, 0, len(actions))
	for _, action := range actions {
		docs = append(docs, action.Source)
	}

	primaryKey := models.IDField
	info, err := a.client.Index(index).AddDocumentsWithContext(ctx, docs, &primaryKey)
	if err != nil {
		return models.BulkReport{}, fmt.Errorf("failed to add documents: %w", err)
	}

	task, err := a.wait(ctx, info)
	if task == nil {
		return models.BulkReport{}, err
	}
	if err != nil {
		for _, action := range actions {
			report.Failures = append(report.Failures, models.ItemFailure{ID: action.ID, Reason: err.Error()})
		}
	}
	return report, nil
}

// Close is a no-op.
func (a *Adapter) Close(ctx context.Context) error {
	return nil
}
