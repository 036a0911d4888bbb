package activities

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/mouradhm/index-transfert/pkg/backend"
	"github.com/mouradhm/index-transfert/pkg/backend/bleve"
	"github.com/mouradhm/index-transfert/pkg/backend/elastic"
	"github.com/mouradhm/index-transfert/pkg/backend/meilisearch"
	"github.com/mouradhm/index-transfert/pkg/backend/mongodb"
	"github.com/mouradhm/index-transfert/pkg/config"
)

// Connection holds the source and destination handles of one run
type Connection struct {
	Source      backend.Backend
	Destination backend.Backend
}

// Close releases both handles
func (c *Connection) Close(ctx context.Context) error {
	var result *multierror.Error
	if c.Source != nil {
		if err := c.Source.Close(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("error closing source: %w", err))
		}
	}
	if c.Destination != nil {
		if err := c.Destination.Close(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("error closing destination: %w", err))
		}
	}
	return result.ErrorOrNil()
}

type connectOptions struct {
	transport http.RoundTripper
	logger    hclog.Logger
}

// ConnectOption customizes Connect
type ConnectOption func(*connectOptions)

// WithTransport replaces the HTTP transport of HTTP-based backends. The default
// transport skips certificate verification.
func WithTransport(rt http.RoundTripper) ConnectOption {
	return func(o *connectOptions) {
		o.transport = rt
	}
}

// WithLogger sets the logger handed to the backends
func WithLogger(logger hclog.Logger) ConnectOption {
	return func(o *connectOptions) {
		o.logger = logger
	}
}

// Connect builds the source and destination handles. Each side authenticates
// only when both its username and password are set.
func Connect(ctx context.Context, cfg *config.Config, opts ...ConnectOption) (*Connection, error) {
	o := connectOptions{logger: hclog.NewNullLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.Named("connect")

	logger.Info("connecting to source", "kind", cfg.Source.Kind, "index", cfg.Source.Index,
		"authenticated", cfg.Source.HasCredentials())
	src, err := open(ctx, cfg.Source, cfg.Scan, o)
	if err != nil {
		return nil, newError("connect source", ErrConnection, err)
	}

	logger.Info("connecting to destination", "kind", cfg.Destination.Kind, "index", cfg.Destination.Index,
		"authenticated", cfg.Destination.HasCredentials())
	dst, err := open(ctx, cfg.Destination, cfg.Scan, o)
	if err != nil {
		if cerr := src.Close(ctx); cerr != nil {
			logger.Warn("error closing source", "error", cerr)
		}
		return nil, newError("connect destination", ErrConnection, err)
	}

	return &Connection{Source: src, Destination: dst}, nil
}

// open builds the handle of one endpoint.
func open(ctx context.Context, e config.Endpoint, scan config.Scan, o connectOptions) (backend.Backend, error) {
	var username, password string
	if e.HasCredentials() {
		username, password = e.Username, e.Password
	}

	switch e.Kind {
	case backend.KindElasticsearch, backend.KindOpenSearch:
		retries := e.Retries()
		if retries == 0 {
			retries = -1
		}
		cfg := elastic.Config{
			Addresses:  splitAddresses(e.ConnStr),
			Username:   username,
			Password:   password,
			Transport:  o.transport,
			MaxRetries: retries,
			PageSize:   scan.PageSize,
			KeepAlive:  scan.KeepAlive,
			Logger:     o.logger,
		}
		if e.Kind == backend.KindOpenSearch {
			return elastic.NewOpenSearch(cfg)
		}
		return elastic.NewElasticsearch(cfg)

	case backend.KindMongoDB:
		return mongodb.NewAdapter(ctx, &mongodb.Config{
			URI:      e.ConnStr,
			Database: e.Database,
			Username: username,
			Password: password,
			PageSize: scan.PageSize,
			Logger:   o.logger,
		})

	case backend.KindBleve:
		return bleve.NewAdapter(&bleve.Config{
			Path:     e.ConnStr,
			PageSize: scan.PageSize,
		})

	case backend.KindMeilisearch:
		return meilisearch.NewAdapter(&meilisearch.Config{
			Host:      e.ConnStr,
			APIKey:    password,
			Transport: o.transport,
			PageSize:  scan.PageSize,
			Logger:    o.logger,
		})
	}

	return nil, fmt.Errorf("unsupported backend kind %q (supported: %s)", e.Kind, strings.Join(backend.Kinds, ", "))
}

// splitAddresses accepts a comma-separated list of node URLs.
func splitAddresses(connStr string) []string {
	var addresses []string
	for _, a := range strings.Split(connStr, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addresses = append(addresses, a)
		}
	}
	return addresses
}
