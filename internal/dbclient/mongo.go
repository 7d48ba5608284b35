package dbclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"docloader/internal/domain"
)

// MongoStore implements Datastore for MongoDB.
type MongoStore struct {
	client *mongo.Client
	dbName string
	logger *zap.Logger
}

// NewMongoStore connects to MongoDB. Options.URI may be a full connection
// string (with an optional <password> placeholder) or empty, in which case
// the URI is built from Host and Port.
func NewMongoStore(ctx context.Context, opts Options, logger *zap.Logger) (*MongoStore, error) {
	logger = logger.Named("mongo")
	uri := buildMongoURI(opts)
	if opts.Database == "" {
		return nil, domain.ConfigErrorf("datastore", "database name required")
	}

	logURI := uri
	if opts.Password != "" && strings.Contains(logURI, opts.Password) {
		logURI = strings.ReplaceAll(logURI, opts.Password, "***")
	}
	logger.Info("connecting", zap.String("uri", logURI), zap.String("database", opts.Database))

	clientOpts := options.Client().ApplyURI(uri)
	if opts.Timeout > 0 {
		clientOpts.SetTimeout(opts.Timeout)
	}
	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	s := &MongoStore{client: client, dbName: opts.Database, logger: logger}
	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return s, nil
}

func buildMongoURI(opts Options) string {
	if strings.HasPrefix(opts.URI, "mongodb+srv://") || strings.HasPrefix(opts.URI, "mongodb://") {
		uri := opts.URI
		if opts.Password != "" {
			uri = strings.ReplaceAll(uri, "<password>", opts.Password)
			uri = strings.ReplaceAll(uri, "<db_password>", opts.Password)
		}
		return uri
	}
	host := opts.Host
	if host == "" {
		host = "localhost"
	}
	port := opts.Port
	if port == 0 {
		port = 27017
	}
	if opts.Username != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s:%d", opts.Username, opts.Password, host, port)
	}
	return fmt.Sprintf("mongodb://%s:%d", host, port)
}

func (m *MongoStore) db() *mongo.Database {
	return m.client.Database(m.dbName)
}

func (m *MongoStore) Database() string { return m.dbName }

func (m *MongoStore) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoStore) CreateCollection(ctx context.Context, collection string, validator map[string]any) error {
	opts := options.CreateCollection()
	if validator != nil {
		opts.SetValidator(bson.M{"$jsonSchema": validator}).
			SetValidationLevel("strict").
			SetValidationAction("error")
	}
	if err := m.db().CreateCollection(ctx, collection, opts); err != nil {
		return fmt.Errorf("create collection %s: %w", collection, err)
	}
	m.logger.Info("collection created", zap.String("collection", collection), zap.Bool("validator", validator != nil))
	return nil
}

func (m *MongoStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	names, err := m.db().ListCollectionNames(ctx, bson.M{"name": collection})
	if err != nil {
		return false, fmt.Errorf("list collections: %w", err)
	}
	return len(names) > 0, nil
}

func (m *MongoStore) DropCollection(ctx context.Context, collection string) error {
	if err := m.db().Collection(collection).Drop(ctx); err != nil {
		return fmt.Errorf("drop collection %s: %w", collection, err)
	}
	m.logger.Info("collection dropped", zap.String("collection", collection))
	return nil
}

func (m *MongoStore) UpdateValidator(ctx context.Context, collection string, validator map[string]any) error {
	cmd := bson.D{
		{Key: "collMod", Value: collection},
		{Key: "validator", Value: bson.M{"$jsonSchema": validator}},
		{Key: "validationLevel", Value: "strict"},
		{Key: "validationAction", Value: "error"},
	}
	if err := m.db().RunCommand(ctx, cmd).Err(); err != nil {
		return fmt.Errorf("update validator %s: %w", collection, err)
	}
	return nil
}

func (m *MongoStore) CreateIndex(ctx context.Context, collection string, idx domain.IndexDefinition) error {
	keys := bson.D{}
	for _, a := range idx.Attributes {
		keys = append(keys, bson.E{Key: a, Value: 1})
	}
	model := mongo.IndexModel{Keys: keys, Options: options.Index().SetName(idx.Name)}
	if _, err := m.db().Collection(collection).Indexes().CreateOne(ctx, model); err != nil {
		return fmt.Errorf("create index %s on %s: %w", idx.Name, collection, err)
	}
	return nil
}

func (m *MongoStore) InsertMany(ctx context.Context, collection string, docs []domain.Document) ([]any, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	batch := make([]any, len(docs))
	for i, d := range docs {
		batch[i] = ToBSON(d)
	}
	res, err := m.db().Collection(collection).InsertMany(ctx, batch, options.InsertMany().SetOrdered(false))
	if err == nil {
		return res.InsertedIDs, nil
	}

	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) {
		// Outcome unknown; the caller reconciles by re-reading.
		if res != nil {
			return res.InsertedIDs, err
		}
		return nil, err
	}
	failed := make(map[int]bool, len(bwe.WriteErrors))
	for _, we := range bwe.WriteErrors {
		failed[we.Index] = true
	}
	ids := make([]any, 0, len(docs)-len(failed))
	for i, d := range docs {
		if !failed[i] {
			ids = append(ids, d[domain.IDKey])
		}
	}
	m.logger.Warn("bulk insert partially failed",
		zap.String("collection", collection),
		zap.Int("attempted", len(docs)),
		zap.Int("failed", len(failed)),
	)
	return ids, err
}

func (m *MongoStore) InsertOne(ctx context.Context, collection string, doc domain.Document) (any, error) {
	res, err := m.db().Collection(collection).InsertOne(ctx, ToBSON(doc))
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", collection, err)
	}
	return res.InsertedID, nil
}

func (m *MongoStore) DeleteMany(ctx context.Context, collection string, docs []domain.Document, keyAttrs []string) (int64, error) {
	sels, err := KeySelectors(docs, keyAttrs)
	if err != nil {
		return 0, err
	}
	var total int64
	coll := m.db().Collection(collection)
	for _, sel := range sels {
		res, err := coll.DeleteMany(ctx, bson.M(sel))
		if err != nil {
			return total, fmt.Errorf("delete from %s: %w", collection, err)
		}
		total += res.DeletedCount
	}
	return total, nil
}

func (m *MongoStore) FetchOne(ctx context.Context, collection, key string, value any) (domain.Document, error) {
	var out bson.M
	err := m.db().Collection(collection).FindOne(ctx, bson.M{key: value}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch from %s: %w", collection, err)
	}
	return domain.Document(FromBSON(out).(map[string]any)), nil
}

func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// ── BSON conversion ────────────────────────────────────────

// ToBSON converts nested maps into bson.D with sorted keys (_id first), so
// identical documents always encode to identical bytes.
func ToBSON(v any) any {
	switch x := v.(type) {
	case domain.Document:
		return ToBSON(map[string]any(x))
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i] == domain.IDKey || keys[j] == domain.IDKey {
				return keys[i] == domain.IDKey
			}
			return keys[i] < keys[j]
		})
		d := make(bson.D, 0, len(keys))
		for _, k := range keys {
			d = append(d, bson.E{Key: k, Value: ToBSON(x[k])})
		}
		return d
	case []any:
		a := make(bson.A, len(x))
		for i, e := range x {
			a[i] = ToBSON(e)
		}
		return a
	default:
		return v
	}
}

// FromBSON converts decoded BSON containers into plain maps and slices.
func FromBSON(v any) any {
	switch x := v.(type) {
	case bson.M:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = FromBSON(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = FromBSON(e)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = FromBSON(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = FromBSON(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = FromBSON(e)
		}
		return out
	default:
		return v
	}
}

// Normalize round-trips doc through BSON encoding, yielding the shape a
// stored document decodes to. Used to compare submitted and stored documents.
func Normalize(doc domain.Document) (map[string]any, error) {
	b, err := bson.Marshal(ToBSON(doc))
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var m bson.M
	if err := bson.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return FromBSON(m).(map[string]any), nil
}
