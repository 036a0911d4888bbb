// Package mongodb implements backend.Backend for MongoDB collections.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mouradhm/index-transfert/pkg/backend"
	"github.com/mouradhm/index-transfert/pkg/models"
)

const defaultBatchSize = 1000

// codeNamespaceExists is returned by the create command for an existing collection.
const codeNamespaceExists = 48

// indexesKey holds the index definitions inside a mapping document.
const indexesKey = "indexes"

// Config contains MongoDB configuration.
type Config struct {
	URI      string
	Database string
	Username string
	Password string
	PageSize int
	Logger   hclog.Logger
}

// Adapter implements backend.Backend on the collections of one database.
type Adapter struct {
	client   *mongo.Client
	db       *mongo.Database
	pageSize int
	logger   hclog.Logger
}

// clientOptions builds the driver options from cfg.
func clientOptions(cfg *Config) (*options.ClientOptions, error) {
	clientOptions := options.Client().ApplyURI(cfg.URI)
	clientOptions.SetConnectTimeout(10 * time.Second)

	clientOptions.SetMaxPoolSize(100)
	clientOptions.SetMinPoolSize(10)
	clientOptions.SetMaxConnIdleTime(30 * time.Second)
	clientOptions.SetRetryWrites(true)
	clientOptions.SetRetryReads(true)
	clientOptions.SetCompressors([]string{"snappy"})

	if cfg.Username != "" && cfg.Password != "" {
		clientOptions.SetAuth(options.Credential{
			Username: cfg.Username,
			Password: cfg.Password,
		})
	}

	// TLS stays opt-in through the URI; when enabled, certificates are not verified
	if clientOptions.TLSConfig != nil {
		clientOptions.TLSConfig.InsecureSkipVerify = true
	}

	if err := clientOptions.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mongodb options: %w", err)
	}
	return clientOptions, nil
}

// NewAdapter connects to MongoDB and verifies the connection with a ping.
func NewAdapter(ctx context.Context, cfg *Config) (*Adapter, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongodb uri required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("mongodb database required")
	}

	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	a := &Adapter{
		client:   client,
		db:       client.Database(cfg.Database),
		pageSize: cfg.PageSize,
		logger:   cfg.Logger,
	}
	if a.pageSize <= 0 {
		a.pageSize = defaultBatchSize
	}
	if a.logger == nil {
		a.logger = hclog.NewNullLogger()
	}
	a.logger = a.logger.Named(backend.KindMongoDB)
	return a, nil
}

// Name returns the backend kind.
func (a *Adapter) Name() string {
	return backend.KindMongoDB
}

// IndexExists reports whether the collection exists.
func (a *Adapter) IndexExists(ctx context.Context, index string) (bool, error) {
	collections, err := a.db.ListCollectionNames(ctx, bson.M{"name": index})
	if err != nil {
		return false, fmt.Errorf("failed to check collection %s: %w", index, err)
	}
	return len(collections) > 0, nil
}

// createCommand builds the create command: every top-level mapping key other
// than "indexes" is passed through as a create option, in sorted key order.
func createCommand(index string, mapping models.Mapping) bson.D {
	cmd := bson.D{{Key: "create", Value: index}}

	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		if k == indexesKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		cmd = append(cmd, bson.E{Key: k, Value: mapping[k]})
	}
	return cmd
}

// CreateIndex creates the collection and the indexes listed in the mapping.
func (a *Adapter) CreateIndex(ctx context.Context, index string, mapping models.Mapping) error {
	indexes, err := indexModels(mapping[indexesKey])
	if err != nil {
		return fmt.Errorf("invalid indexes for %s: %w", index, err)
	}

	err = a.db.RunCommand(ctx, createCommand(index, mapping)).Err()
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == codeNamespaceExists {
		a.logger.Warn("collection already exists, leaving it untouched", "collection", index)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", index, err)
	}

	if len(indexes) > 0 {
		if _, err := a.db.Collection(index).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
		a.logger.Info("created indexes", "collection", index, "count", len(indexes))
	}
	return nil
}

// Scan iterates over the whole collection.
func (a *Adapter) Scan(ctx context.Context, index string) (backend.Cursor, error) {
	exists, err := a.IndexExists(ctx, index)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", backend.ErrIndexNotFound, index)
	}

	findOptions := options.Find().
		SetNoCursorTimeout(true).
		SetBatchSize(int32(a.pageSize))

	cur, err := a.db.Collection(index).Find(ctx, bson.D{}, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to execute find: %w", err)
	}
	return &cursor{cur: cur}, nil
}

// Bulk replaces or inserts every document by _id in one unordered bulk write.
func (a *Adapter) Bulk(ctx context.Context, actions []models.Action) (models.BulkReport, error) {
	if len(actions) == 0 {
		return models.BulkReport{}, nil
	}

	writes := make([]mongo.WriteModel, 0, len(actions))
	for _, action := range actions {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "_id", Value: action.ID}}).
			SetReplacement(action.Source).
			SetUpsert(true))
	}

	// documents must land in one collection per call
	coll := a.db.Collection(actions[0].Index)
	_, err := coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	return bulkReport(actions, err)
}

// bulkReport splits a BulkWrite error into per-document failures and a
// call-level error.
func bulkReport(actions []models.Action, err error) (models.BulkReport, error) {
	report := models.BulkReport{Attempted: len(actions)}
	if err == nil {
		return report, nil
	}

	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil {
		return models.BulkReport{}, fmt.Errorf("failed to execute bulk write: %w", err)
	}

	for _, we := range bwe.WriteErrors {
		failure := models.ItemFailure{Status: we.Code, Reason: we.Message}
		if we.Index >= 0 && we.Index < len(actions) {
			failure.ID = actions[we.Index].ID
		}
		report.Failures = append(report.Failures, failure)
	}
	return report, nil
}

// Close disconnects the client.
func (a *Adapter) Close(ctx context.Context) error {
	if err := a.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("error disconnecting from MongoDB: %w", err)
	}
	return nil
}

type cursor struct {
	cur *mongo.Cursor
	doc models.Document
	err error
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.err != nil || !c.cur.Next(ctx) {
		return false
	}

	var raw bson.M
	if err := c.cur.Decode(&raw); err != nil {
		c.err = fmt.Errorf("failed to decode document: %w", err)
		return false
	}
	c.doc = toDocument(raw)
	return true
}

func (c *cursor) Document() models.Document {
	return c.doc
}

func (c *cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	if err := c.cur.Err(); err != nil {
		return fmt.Errorf("cursor error: %w", err)
	}
	return nil
}

func (c *cursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}
