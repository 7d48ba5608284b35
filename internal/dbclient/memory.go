package dbclient

import (
	"context"
	"fmt"
	"sync"

	"docloader/internal/domain"
)

// MemoryStore is an in-process Datastore. It keeps insertion order per
// collection and exposes hooks for injecting write failures and storage
// corruption.
type MemoryStore struct {
	mu          sync.Mutex
	dbName      string
	collections map[string]*memCollection

	// FailInsert, when set, rejects individual documents on insert.
	FailInsert func(collection string, doc domain.Document) error
	// OnStore, when set, may rewrite a document as it is stored.
	OnStore func(collection string, doc domain.Document) domain.Document
}

type memCollection struct {
	validator map[string]any
	indexes   []domain.IndexDefinition
	docs      []domain.Document
}

// NewMemoryStore returns an empty store bound to dbName.
func NewMemoryStore(dbName string) *MemoryStore {
	return &MemoryStore{dbName: dbName, collections: map[string]*memCollection{}}
}

func (s *MemoryStore) Database() string { return s.dbName }

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreateCollection(_ context.Context, collection string, validator map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection]; ok {
		return fmt.Errorf("create collection %s: already exists", collection)
	}
	s.collections[collection] = &memCollection{validator: validator}
	return nil
}

func (s *MemoryStore) DropCollection(_ context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, collection)
	return nil
}

func (s *MemoryStore) UpdateValidator(_ context.Context, collection string, validator map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coll(collection).validator = validator
	return nil
}

func (s *MemoryStore) CreateIndex(_ context.Context, collection string, idx domain.IndexDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	c.indexes = append(c.indexes, idx)
	return nil
}

func (s *MemoryStore) InsertMany(ctx context.Context, collection string, docs []domain.Document) ([]any, error) {
	var (
		ids      []any
		firstErr error
		failed   int
	)
	for _, d := range docs {
		id, err := s.InsertOne(ctx, collection, d)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ids = append(ids, id)
	}
	if firstErr != nil {
		return ids, fmt.Errorf("bulk insert %s: %d of %d failed: %w", collection, failed, len(docs), firstErr)
	}
	return ids, nil
}

func (s *MemoryStore) InsertOne(_ context.Context, collection string, doc domain.Document) (any, error) {
	if s.FailInsert != nil {
		if err := s.FailInsert(collection, doc); err != nil {
			return nil, err
		}
	}
	stored := domain.Document(deepCopy(map[string]any(doc)).(map[string]any))
	if s.OnStore != nil {
		stored = s.OnStore(collection, stored)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	c.docs = append(c.docs, stored)
	return doc[domain.IDKey], nil
}

func (s *MemoryStore) DeleteMany(_ context.Context, collection string, docs []domain.Document, keyAttrs []string) (int64, error) {
	sels, err := KeySelectors(docs, keyAttrs)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	var deleted int64
	kept := c.docs[:0]
	for _, d := range c.docs {
		if matchesAny(d, sels) {
			deleted++
			continue
		}
		kept = append(kept, d)
	}
	c.docs = kept
	return deleted, nil
}

func (s *MemoryStore) FetchOne(_ context.Context, collection, key string, value any) (domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		return nil, ErrNotFound
	}
	for _, d := range c.docs {
		if v, ok := d.Lookup(key); ok && fmt.Sprint(v) == fmt.Sprint(value) {
			return domain.Document(deepCopy(map[string]any(d)).(map[string]any)), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Close(context.Context) error { return nil }

// Documents returns a copy of a collection's documents in insertion order.
func (s *MemoryStore) Documents(collection string) []domain.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		return nil
	}
	out := make([]domain.Document, len(c.docs))
	for i, d := range c.docs {
		out[i] = domain.Document(deepCopy(map[string]any(d)).(map[string]any))
	}
	return out
}

// Validator returns the validator a collection was created with.
func (s *MemoryStore) Validator(collection string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[collection]; ok {
		return c.validator
	}
	return nil
}

// Indexes returns the indexes created on a collection.
func (s *MemoryStore) Indexes(collection string) []domain.IndexDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[collection]; ok {
		return append([]domain.IndexDefinition(nil), c.indexes...)
	}
	return nil
}

func (s *MemoryStore) CollectionExists(_ context.Context, collection string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.collections[collection]
	return ok, nil
}

func (s *MemoryStore) coll(name string) *memCollection {
	c, ok := s.collections[name]
	if !ok {
		c = &memCollection{}
		s.collections[name] = c
	}
	return c
}

func matchesAny(d domain.Document, sels []map[string]any) bool {
	for _, sel := range sels {
		match := true
		for k, want := range sel {
			v, ok := d.Lookup(k)
			if !ok || fmt.Sprint(v) != fmt.Sprint(want) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func deepCopy(v any) any {
	switch x := v.(type) {
	case domain.Document:
		return deepCopy(map[string]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}
