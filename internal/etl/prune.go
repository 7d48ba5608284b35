package etl

import (
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"docloader/internal/domain"
)

// DocumentSize returns the encoded BSON size of doc.
func DocumentSize(doc domain.Document) (int, error) {
	b, err := bson.Marshal(map[string]any(doc))
	if err != nil {
		return 0, fmt.Errorf("encode document: %w", err)
	}
	return len(b), nil
}

// PruneDocument drops the largest top-level fields of doc until it encodes
// within limit bytes. Roots of the keep paths are never dropped. It
// returns the dropped keys.
func PruneDocument(doc domain.Document, limit int, keep []string) ([]string, error) {
	size, err := DocumentSize(doc)
	if err != nil || size <= limit {
		return nil, err
	}

	protected := map[string]bool{domain.IDKey: true}
	for _, k := range keep {
		protected[strings.SplitN(k, ".", 2)[0]] = true
	}
	type field struct {
		key  string
		size int
	}
	var fields []field
	for k, v := range doc {
		if protected[k] {
			continue
		}
		b, err := bson.Marshal(bson.M{k: v})
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", k, err)
		}
		fields = append(fields, field{key: k, size: len(b)})
	}
	sort.Slice(fields, func(i, j int) bool {
		if fields[i].size != fields[j].size {
			return fields[i].size > fields[j].size
		}
		return fields[i].key < fields[j].key
	})

	var dropped []string
	for _, f := range fields {
		if size <= limit {
			break
		}
		delete(doc, f.key)
		dropped = append(dropped, f.key)
		if size, err = DocumentSize(doc); err != nil {
			return dropped, err
		}
	}
	return dropped, nil
}
