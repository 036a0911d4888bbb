package elastic

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/opensearch-project/opensearch-go"
	"github.com/opensearch-project/opensearch-go/opensearchapi"

	"github.com/mouradhm/index-transfert/pkg/backend"
)

// NewOpenSearch creates an adapter backed by the OpenSearch client.
func NewOpenSearch(cfg Config) (*Adapter, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid opensearch config: %w", err)
	}
	cfg = cfg.withDefaults()
	maxRetries, disableRetry := cfg.transportRetries()

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses:            cfg.Addresses,
		Username:             cfg.Username,
		Password:             cfg.Password,
		Transport:            cfg.Transport,
		RetryOnStatus:        retryStatuses,
		EnableRetryOnTimeout: true,
		DisableRetry:         disableRetry,
		MaxRetries:           maxRetries,
		RetryBackoff:         newRetryBackoff(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	return newAdapter(backend.KindOpenSearch, cfg, &osAPI{client: client}), nil
}

type osAPI struct {
	client *opensearch.Client
}

func fromOS(res *opensearchapi.Response, err error) (*response, error) {
	if err != nil {
		return nil, err
	}
	return &response{StatusCode: res.StatusCode, Body: res.Body}, nil
}

func (o *osAPI) exists(ctx context.Context, index string) (*response, error) {
	c := o.client
	return fromOS(c.Indices.Exists([]string{index}, c.Indices.Exists.WithContext(ctx)))
}

func (o *osAPI) create(ctx context.Context, index string, body io.Reader) (*response, error) {
	c := o.client
	opts := []func(*opensearchapi.IndicesCreateRequest){c.Indices.Create.WithContext(ctx)}
	if body != nil {
		opts = append(opts, c.Indices.Create.WithBody(body))
	}
	return fromOS(c.Indices.Create(index, opts...))
}

func (o *osAPI) search(ctx context.Context, index string, body io.Reader, size int, keepAlive time.Duration) (*response, error) {
	c := o.client
	return fromOS(c.Search(
		c.Search.WithContext(ctx),
		c.Search.WithIndex(index),
		c.Search.WithBody(body),
		c.Search.WithSize(size),
		c.Search.WithScroll(keepAlive),
	))
}

func (o *osAPI) scroll(ctx context.Context, scrollID string, keepAlive time.Duration) (*response, error) {
	c := o.client
	return fromOS(c.Scroll(
		c.Scroll.WithContext(ctx),
		c.Scroll.WithScrollID(scrollID),
		c.Scroll.WithScroll(keepAlive),
	))
}

func (o *osAPI) clearScroll(ctx context.Context, scrollID string) (*response, error) {
	c := o.client
	return fromOS(c.ClearScroll(
		c.ClearScroll.WithContext(ctx),
		c.ClearScroll.WithScrollID(scrollID),
	))
}

func (o *osAPI) bulk(ctx context.Context, body io.Reader) (*response, error) {
	c := o.client
	return fromOS(c.Bulk(body, c.Bulk.WithContext(ctx)))
}
