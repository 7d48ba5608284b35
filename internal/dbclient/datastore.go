package dbclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"docloader/internal/domain"
)

// ErrNotFound is returned by FetchOne when no document matches.
var ErrNotFound = errors.New("document not found")

// Drivers accepted by NewDatastore.
const (
	DriverMongoDB = "mongodb"
	DriverMemory  = "memory"
)

// Options configures a Datastore connection. Password is resolved
// separately from the secret store.
type Options struct {
	Driver   string        `yaml:"driver"`
	URI      string        `yaml:"uri"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Database string        `yaml:"database"`
	Username string        `yaml:"username"`
	Password string        `yaml:"-"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Datastore abstracts the document store. One Datastore is bound to one
// database and is safe for concurrent use by all workers.
type Datastore interface {
	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Database is the bound database name.
	Database() string

	// CreateCollection creates a collection, with a $jsonSchema validator
	// when validator is non-nil.
	CreateCollection(ctx context.Context, collection string, validator map[string]any) error

	// CollectionExists reports whether a collection is present.
	CollectionExists(ctx context.Context, collection string) (bool, error)

	// DropCollection removes a collection and its documents.
	DropCollection(ctx context.Context, collection string) error

	// UpdateValidator replaces the validator of an existing collection.
	UpdateValidator(ctx context.Context, collection string, validator map[string]any) error

	// CreateIndex creates a secondary index.
	CreateIndex(ctx context.Context, collection string, idx domain.IndexDefinition) error

	// InsertMany performs an unordered insert of documents that already carry
	// their _id. It returns the ids actually stored; on partial failure the
	// ids are returned together with the error.
	InsertMany(ctx context.Context, collection string, docs []domain.Document) ([]any, error)

	// InsertOne stores a single document.
	InsertOne(ctx context.Context, collection string, doc domain.Document) (any, error)

	// DeleteMany deletes every document matching the key values of docs.
	DeleteMany(ctx context.Context, collection string, docs []domain.Document, keyAttrs []string) (int64, error)

	// FetchOne returns the first document with key == value.
	FetchOne(ctx context.Context, collection, key string, value any) (domain.Document, error)

	// Close releases the connection.
	Close(ctx context.Context) error
}

// NewDatastore creates a Datastore for the configured driver.
func NewDatastore(ctx context.Context, opts Options, logger *zap.Logger) (Datastore, error) {
	switch opts.Driver {
	case "", DriverMongoDB:
		return NewMongoStore(ctx, opts, logger)
	case DriverMemory:
		return NewMemoryStore(opts.Database), nil
	default:
		return nil, domain.ConfigErrorf("datastore", "unsupported driver: %s", opts.Driver)
	}
}

// KeySelectors builds one equality selector per distinct key tuple of
// docs. Documents lacking a key attribute are skipped.
func KeySelectors(docs []domain.Document, keyAttrs []string) ([]map[string]any, error) {
	if len(keyAttrs) == 0 {
		return nil, fmt.Errorf("key selectors: no key attributes")
	}
	seen := map[string]bool{}
	var out []map[string]any
	for _, d := range docs {
		vals, err := d.KeyValues(keyAttrs)
		if err != nil {
			continue
		}
		k := domain.JoinKey(vals)
		if seen[k] {
			continue
		}
		seen[k] = true
		sel := make(map[string]any, len(keyAttrs))
		for i, a := range keyAttrs {
			sel[a] = vals[i]
		}
		out = append(out, sel)
	}
	return out, nil
}
