// Package elastic implements backend.Backend for Elasticsearch and OpenSearch.
// Both services share the scroll, bulk and index REST surface; only the client
// library differs.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"

	"github.com/mouradhm/index-transfert/pkg/backend"
	"github.com/mouradhm/index-transfert/pkg/models"
)

const (
	DefaultPageSize   = 1000
	DefaultKeepAlive  = 5 * time.Minute
	DefaultMaxRetries = 3
)

// retryStatuses are the transient statuses retried by the transport.
var retryStatuses = []int{
	http.StatusTooManyRequests,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// Config contains the settings shared by the Elasticsearch and OpenSearch adapters.
type Config struct {
	Addresses []string
	Username  string
	Password  string

	// Transport defaults to backend.InsecureTransport().
	Transport http.RoundTripper

	// MaxRetries is the number of transport retries for transient failures.
	// Zero selects DefaultMaxRetries; a negative value disables retries.
	MaxRetries int

	PageSize  int
	KeepAlive time.Duration
	Logger    hclog.Logger
}

func (c Config) withDefaults() Config {
	if c.Transport == nil {
		c.Transport = backend.InsecureTransport()
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.Logger == nil {
		c.Logger = hclog.NewNullLogger()
	}
	return c
}

func (c Config) validate() error {
	if len(c.Addresses) == 0 || c.Addresses[0] == "" {
		return fmt.Errorf("address required")
	}
	return nil
}

// transportRetries maps MaxRetries onto the client settings. The transports
// attempt a request maxRetries+1 times and never at all when it is negative,
// so a disabled schedule is expressed with disable and a positive count.
func (c Config) transportRetries() (maxRetries int, disable bool) {
	if c.MaxRetries < 0 {
		return 1, true
	}
	return c.MaxRetries, false
}

// newRetryBackoff returns an exponential RetryBackoff function for the client
// transports. The schedule restarts on the first attempt of every request.
func newRetryBackoff() func(attempt int) time.Duration {
	var mu sync.Mutex
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0

	return func(attempt int) time.Duration {
		mu.Lock()
		defer mu.Unlock()
		if attempt == 1 {
			b.Reset()
		}
		return b.NextBackOff()
	}
}

// api is the REST surface used by the adapter, bound to a concrete client library.
type api interface {
	exists(ctx context.Context, index string) (*response, error)
	create(ctx context.Context, index string, body io.Reader) (*response, error)
	search(ctx context.Context, index string, body io.Reader, size int, keepAlive time.Duration) (*response, error)
	scroll(ctx context.Context, scrollID string, keepAlive time.Duration) (*response, error)
	clearScroll(ctx context.Context, scrollID string) (*response, error)
	bulk(ctx context.Context, body io.Reader) (*response, error)
}

// Adapter implements backend.Backend over the Elasticsearch REST API.
type Adapter struct {
	name      string
	api       api
	pageSize  int
	keepAlive time.Duration
	logger    hclog.Logger
}

func newAdapter(name string, cfg Config, api api) *Adapter {
	return &Adapter{
		name:      name,
		api:       api,
		pageSize:  cfg.PageSize,
		keepAlive: cfg.KeepAlive,
		logger:    cfg.Logger.Named(name),
	}
}

// Name returns the backend kind.
func (a *Adapter) Name() string {
	return a.name
}

// IndexExists checks the index with a HEAD request.
func (a *Adapter) IndexExists(ctx context.Context, index string) (bool, error) {
	res, err := a.api.exists(ctx, index)
	if err != nil {
		return false, fmt.Errorf("failed to check index %s: %w", index, err)
	}
	defer res.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return false, nil
	case res.IsError():
		return false, responseError("failed to check index "+index, res)
	}
	return true, nil
}

// CreateIndex creates index with mapping as the request body. An index created
// concurrently by someone else is not an error.
func (a *Adapter) CreateIndex(ctx context.Context, index string, mapping models.Mapping) error {
	var body io.Reader
	if len(mapping) > 0 {
		raw, err := json.Marshal(mapping)
		if err != nil {
			return fmt.Errorf("failed to encode mapping for %s: %w", index, err)
		}
		body = bytes.NewReader(raw)
	}

	res, err := a.api.create(ctx, index, body)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", index, err)
	}
	defer res.Close()

	if !res.IsError() {
		return nil
	}
	errType, reason := readError(res)
	if errType == "resource_already_exists_exception" {
		a.logger.Warn("index already exists, leaving it untouched", "index", index)
		return nil
	}
	if errType != "" {
		return fmt.Errorf("failed to create index %s: [%d] %s: %s", index, res.StatusCode, errType, reason)
	}
	return fmt.Errorf("failed to create index %s: [%d] %s", index, res.StatusCode, reason)
}

// Scan opens a scroll over index. The first page is fetched eagerly so a
// missing index or a rejected query fails here rather than on the first Next.
func (a *Adapter) Scan(ctx context.Context, index string) (backend.Cursor, error) {
	res, err := a.api.search(ctx, index, bytes.NewReader(matchAllQuery), a.pageSize, a.keepAlive)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", index, err)
	}
	defer res.Close()

	if res.IsError() {
		return nil, scanError(index, res)
	}
	scrollID, docs, err := decodeSearch(res.Body)
	if err != nil {
		return nil, err
	}

	s := &scroll{adapter: a, index: index, id: scrollID}
	return backend.NewPagedCursor(docs, s.next, s.clear), nil
}

// Bulk writes actions as "index" operations, which upsert by _id.
func (a *Adapter) Bulk(ctx context.Context, actions []models.Action) (models.BulkReport, error) {
	if len(actions) == 0 {
		return models.BulkReport{}, nil
	}

	body, err := encodeBulk(actions)
	if err != nil {
		return models.BulkReport{}, err
	}

	res, err := a.api.bulk(ctx, body)
	if err != nil {
		return models.BulkReport{}, fmt.Errorf("failed to execute bulk request: %w", err)
	}
	defer res.Close()

	if res.IsError() {
		return models.BulkReport{}, responseError("bulk request rejected", res)
	}
	return decodeBulk(actions, res.Body)
}

// Close is a no-op; the HTTP clients hold no per-handle resources.
func (a *Adapter) Close(ctx context.Context) error {
	return nil
}

type scroll struct {
	adapter *Adapter
	index   string
	id      string
}

func (s *scroll) next(ctx context.Context) ([]models.Document, error) {
	if s.id == "" {
		return nil, nil
	}

	res, err := s.adapter.api.scroll(ctx, s.id, s.adapter.keepAlive)
	if err != nil {
		return nil, fmt.Errorf("failed to continue scan of %s: %w", s.index, err)
	}
	defer res.Close()

	if res.IsError() {
		return nil, responseError("failed to continue scan of "+s.index, res)
	}
	scrollID, docs, err := decodeSearch(res.Body)
	if err != nil {
		return nil, err
	}
	if scrollID != "" {
		s.id = scrollID
	}
	return docs, nil
}

func (s *scroll) clear(ctx context.Context) error {
	if s.id == "" {
		return nil
	}
	id := s.id
	s.id = ""

	res, err := s.adapter.api.clearScroll(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to clear scroll: %w", err)
	}
	defer res.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return responseError("failed to clear scroll", res)
	}
	return nil
}
