package etl

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"docloader/internal/dbclient"
	"docloader/internal/domain"
)

var entryKey = []string{"entry.id"}

func entryDoc(id string, extra map[string]any) domain.Document {
	d := domain.Document{"entry": map[string]any{"id": id}}
	for k, v := range extra {
		d[k] = v
	}
	return d
}

func submissions(ids ...string) []Submission {
	out := make([]Submission, len(ids))
	for i, id := range ids {
		out[i] = Submission{Locator: "loc-" + id, Docs: []domain.Document{entryDoc(id, map[string]any{"n": int64(i)})}}
	}
	return out
}

func failOn(id string) func(string, domain.Document) error {
	return func(_ string, d domain.Document) error {
		if v, _ := d.Lookup("entry.id"); v == id {
			return errors.New("E11000 duplicate key")
		}
		return nil
	}
}

func TestWritePartialFailure(t *testing.T) {
	store := dbclient.NewMemoryStore("test")
	store.FailInsert = failOn("2")
	w := NewDocumentWriter(store, zap.NewNop())

	res := w.Write(context.Background(), "c", entryKey, entryKey, submissions("1", "2", "3"), WriteOptions{Mode: domain.LoadFull})
	assert.Equal(t, 2, res.Loaded)
	require.Len(t, res.Failed, 1)
	reason := res.Failed["loc-2"]
	assert.Equal(t, domain.StageInsert, reason.Stage)
	assert.Equal(t, "c", reason.Collection)
	assert.Contains(t, reason.Message, "insert c: 2/3")
	assert.Len(t, store.Documents("c"), 2)
}

func TestWriteSalvage(t *testing.T) {
	store := dbclient.NewMemoryStore("test")
	var (
		mu    sync.Mutex
		tries = map[string]int{}
	)
	store.FailInsert = func(_ string, d domain.Document) error {
		v, _ := d.Lookup("entry.id")
		mu.Lock()
		defer mu.Unlock()
		tries[v.(string)]++
		if v == "2" && tries["2"] == 1 {
			return errors.New("transient")
		}
		return nil
	}
	w := NewDocumentWriter(store, zap.NewNop())

	res := w.Write(context.Background(), "c", entryKey, entryKey, submissions("1", "2", "3"), WriteOptions{Mode: domain.LoadFull, Salvage: true})
	assert.Empty(t, res.Failed)
	assert.Equal(t, 3, res.Loaded)
	assert.Equal(t, 2, tries["2"])
	assert.Len(t, store.Documents("c"), 3)
}

func TestWriteMissingKeyFailsLocator(t *testing.T) {
	store := dbclient.NewMemoryStore("test")
	w := NewDocumentWriter(store, zap.NewNop())

	subs := submissions("1")
	subs = append(subs, Submission{Locator: "bad", Docs: []domain.Document{
		entryDoc("9", nil),
		{"entity": []any{}},
	}})
	res := w.Write(context.Background(), "c", entryKey, entryKey, subs, WriteOptions{Mode: domain.LoadFull})
	assert.Equal(t, 1, res.Loaded)
	require.Contains(t, res.Failed, "bad")
	assert.Contains(t, res.Failed["bad"].Message, `document key "entry.id" not found`)

	docs := store.Documents("c")
	require.Len(t, docs, 1, "every document of a failed locator is withheld")
	id, _ := docs[0].Lookup("entry.id")
	assert.Equal(t, "1", id)
}

func TestWriteReplaceMode(t *testing.T) {
	store := dbclient.NewMemoryStore("test")
	w := NewDocumentWriter(store, zap.NewNop())
	ctx := context.Background()

	res := w.Write(ctx, "c", entryKey, entryKey, submissions("1", "2"), WriteOptions{Mode: domain.LoadFull})
	require.Equal(t, 2, res.Loaded)

	updated := []Submission{{Locator: "loc-1", Docs: []domain.Document{entryDoc("1", map[string]any{"n": int64(42)})}}}
	res = w.Write(ctx, "c", entryKey, entryKey, updated, WriteOptions{Mode: domain.LoadReplace})
	require.Empty(t, res.Failed)

	docs := store.Documents("c")
	require.Len(t, docs, 2)
	doc, err := store.FetchOne(ctx, "c", "entry.id", "1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), doc["n"])
}

type failingDeleteStore struct {
	*dbclient.MemoryStore
}

func (s failingDeleteStore) DeleteMany(context.Context, string, []domain.Document, []string) (int64, error) {
	return 0, errors.New("not primary")
}

func TestWriteReplaceDeleteFailure(t *testing.T) {
	store := failingDeleteStore{dbclient.NewMemoryStore("test")}
	w := NewDocumentWriter(store, zap.NewNop())

	res := w.Write(context.Background(), "c", entryKey, entryKey, submissions("1", "2"), WriteOptions{Mode: domain.LoadReplace})
	assert.Zero(t, res.Loaded)
	require.Len(t, res.Failed, 2)
	assert.Equal(t, domain.StageDelete, res.Failed["loc-1"].Stage)
	assert.Empty(t, store.Documents("c"))
}

func TestWriteReadBack(t *testing.T) {
	store := dbclient.NewMemoryStore("test")
	w := NewDocumentWriter(store, zap.NewNop())
	opts := WriteOptions{Mode: domain.LoadFull, ReadBack: true}

	nested := entryDoc("1", map[string]any{
		"entity": []any{map[string]any{"id": "1", "formula_weight": 1000.5, "ids": []any{int64(1), nil}}},
	})
	res := w.Write(context.Background(), "c", entryKey, entryKey, []Submission{{Locator: "ok", Docs: []domain.Document{nested}}}, opts)
	assert.Zero(t, res.ReadBackMismatches)

	store.OnStore = func(_ string, d domain.Document) domain.Document {
		d["tampered"] = true
		return d
	}
	res = w.Write(context.Background(), "c", entryKey, entryKey, submissions("2"), opts)
	assert.Equal(t, 1, res.Loaded)
	assert.Equal(t, 1, res.ReadBackMismatches)
}

func TestWritePrunesOversizedDocuments(t *testing.T) {
	store := dbclient.NewMemoryStore("test")
	w := NewDocumentWriter(store, zap.NewNop())

	big := entryDoc("1", map[string]any{"blob": strings.Repeat("x", 4096)})
	res := w.Write(context.Background(), "c", entryKey, entryKey,
		[]Submission{{Locator: "big", Docs: []domain.Document{big}}},
		WriteOptions{Mode: domain.LoadFull, PruneBytes: 1024})
	assert.Equal(t, 1, res.Pruned)
	assert.Equal(t, 1, res.Loaded)
	assert.NotContains(t, store.Documents("c")[0], "blob")
}

func TestWriteReplaceKeysThroughListTables(t *testing.T) {
	store := dbclient.NewMemoryStore("test")
	w := NewDocumentWriter(store, zap.NewNop())
	listDoc := func(n int64) []Submission {
		return []Submission{{Locator: "loc-7", Docs: []domain.Document{
			{"entry": []any{map[string]any{"id": "7"}}, "n": n},
		}}}
	}
	opts := WriteOptions{Mode: domain.LoadReplace, ReadBack: true}

	res := w.Write(context.Background(), "c", entryKey, entryKey, listDoc(1), opts)
	require.Empty(t, res.Failed)
	res = w.Write(context.Background(), "c", entryKey, entryKey, listDoc(2), opts)
	require.Empty(t, res.Failed)
	assert.Equal(t, 1, res.Loaded)
	assert.Zero(t, res.ReadBackMismatches)

	docs := store.Documents("c")
	require.Len(t, docs, 1)
	assert.Equal(t, int64(2), docs[0]["n"])
}
