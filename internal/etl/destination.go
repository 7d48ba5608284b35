package etl

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"docloader/internal/dbclient"
	"docloader/internal/domain"
	"docloader/internal/metrics"
)

// ── Destination ────────────────────────────────────────────
// The DocumentWriter persists one chunk of documents into one
// collection and classifies every contributing locator.
//
// Replace mode deletes by natural key before inserting; inserts are
// unordered and a short count is reconciled by re-reading, never
// assumed all-or-nothing.

// Submission is the document set produced by one locator.
type Submission struct {
	Locator string
	Docs    []domain.Document
}

// WriteOptions controls one write.
type WriteOptions struct {
	Mode       domain.LoadMode
	ReadBack   bool
	Salvage    bool
	PruneBytes int // 0 disables size governance
}

// WriteResult classifies the locators of one write.
type WriteResult struct {
	Failed             map[string]domain.FailureReason
	Loaded             int
	Pruned             int
	ReadBackMismatches int
}

// DocumentWriter writes documents through a Datastore.
type DocumentWriter struct {
	store  dbclient.Datastore
	logger *zap.Logger
	newID  func() any
}

// NewDocumentWriter returns a writer over store.
func NewDocumentWriter(store dbclient.Datastore, logger *zap.Logger) *DocumentWriter {
	return &DocumentWriter{
		store:  store,
		logger: logger.Named("writer"),
		newID:  func() any { return bson.NewObjectID() },
	}
}

type attempt struct {
	locator string
	key     string
	doc     domain.Document
}

// Write persists subs into collection. keyNames identify documents,
// replaceNames select the documents deleted in replace mode.
func (w *DocumentWriter) Write(ctx context.Context, collection string, keyNames, replaceNames []string, subs []Submission, opts WriteOptions) WriteResult {
	res := WriteResult{Failed: map[string]domain.FailureReason{}}
	fail := func(loc, stage, msg string) {
		if _, ok := res.Failed[loc]; !ok {
			res.Failed[loc] = domain.FailureReason{Stage: stage, Collection: collection, Message: msg}
		}
	}

	var attempts []attempt
	for _, sub := range subs {
		for _, d := range sub.Docs {
			if opts.PruneBytes > 0 {
				if dropped, err := PruneDocument(d, opts.PruneBytes, keyNames); err != nil {
					w.logger.Warn("prune failed", zap.String("locator", sub.Locator), zap.Error(err))
				} else if len(dropped) > 0 {
					res.Pruned++
					metrics.CounterDocumentsPruned.Inc()
					w.logger.Warn("document pruned",
						zap.String("locator", sub.Locator),
						zap.String("collection", collection),
						zap.Strings("fields", dropped),
					)
				}
			}
			key, err := d.NaturalKey(keyNames)
			if err != nil {
				fail(sub.Locator, domain.StageInsert, err.Error())
				continue
			}
			doc := d.ShallowCopy()
			doc[domain.IDKey] = w.newID()
			attempts = append(attempts, attempt{locator: sub.Locator, key: key, doc: doc})
		}
	}
	// Drop every document of a locator that already failed key extraction.
	kept := attempts[:0]
	for _, a := range attempts {
		if _, bad := res.Failed[a.locator]; !bad {
			kept = append(kept, a)
		}
	}
	attempts = kept
	if len(attempts) == 0 {
		return res
	}

	docs := make([]domain.Document, len(attempts))
	for i, a := range attempts {
		docs[i] = a.doc
	}

	if opts.Mode == domain.LoadReplace {
		n, err := w.store.DeleteMany(ctx, collection, docs, replaceNames)
		if err != nil {
			pf := &domain.PersistenceFailure{Collection: collection, Op: "delete", Attempted: len(docs), Err: err}
			for _, a := range attempts {
				fail(a.locator, domain.StageDelete, pf.Error())
			}
			return res
		}
		metrics.CounterDocumentsDeleted.WithLabelValues(collection).Add(float64(n))
	}

	ids, insertErr := w.store.InsertMany(ctx, collection, docs)
	if insertErr != nil && opts.Salvage {
		ids = w.salvage(ctx, collection, attempts, ids)
	}

	inserted := map[string]bool{}
	if len(ids) >= len(docs) {
		for _, a := range attempts {
			inserted[a.key] = true
		}
	} else {
		probe := ids
		if len(probe) == 0 {
			// Outcome unknown: probe every attempted id.
			for _, a := range attempts {
				probe = append(probe, a.doc[domain.IDKey])
			}
		}
		inserted = w.reconcile(ctx, collection, keyNames, probe)
	}

	var stored []attempt
	for _, a := range attempts {
		if inserted[a.key] {
			stored = append(stored, a)
			continue
		}
		pf := &domain.PersistenceFailure{
			Collection: collection, Op: "insert", Attempted: len(docs), Succeeded: len(inserted), Err: insertErr,
		}
		fail(a.locator, domain.StageInsert, pf.Error())
	}
	for _, a := range stored {
		if _, bad := res.Failed[a.locator]; !bad {
			res.Loaded++
		}
	}
	metrics.CounterDocumentsInserted.WithLabelValues(collection).Add(float64(len(stored)))
	if len(stored) < len(attempts) {
		w.logger.Warn("insert short",
			zap.String("collection", collection),
			zap.Int("attempted", len(attempts)),
			zap.Int("stored", len(stored)),
			zap.Error(insertErr),
		)
	}

	if opts.ReadBack {
		for _, a := range stored {
			if err := w.readBack(ctx, collection, a.doc); err != nil {
				res.ReadBackMismatches++
				metrics.CounterReadBackMismatches.WithLabelValues(collection).Inc()
				w.logger.Warn("read-back check failed", zap.String("locator", a.locator), zap.Error(err))
			}
		}
	}
	return res
}

// salvage retries, one at a time, the documents missing from ids.
func (w *DocumentWriter) salvage(ctx context.Context, collection string, attempts []attempt, ids []any) []any {
	have := make(map[string]bool, len(ids))
	for _, id := range ids {
		have[fmt.Sprint(id)] = true
	}
	out := append([]any(nil), ids...)
	for _, a := range attempts {
		id := a.doc[domain.IDKey]
		if have[fmt.Sprint(id)] {
			continue
		}
		if _, err := w.store.FetchOne(ctx, collection, domain.IDKey, id); err == nil {
			out = append(out, id)
			continue
		}
		if _, err := w.store.InsertOne(ctx, collection, a.doc); err != nil {
			w.logger.Debug("salvage insert failed", zap.String("locator", a.locator), zap.Error(err))
			continue
		}
		out = append(out, id)
	}
	return out
}

// reconcile re-reads inserted documents by id and returns their natural keys.
func (w *DocumentWriter) reconcile(ctx context.Context, collection string, keyNames []string, ids []any) map[string]bool {
	keys := make(map[string]bool, len(ids))
	for _, id := range ids {
		doc, err := w.store.FetchOne(ctx, collection, domain.IDKey, id)
		if err != nil {
			if !errors.Is(err, dbclient.ErrNotFound) {
				w.logger.Warn("reconcile fetch failed", zap.String("collection", collection), zap.Error(err))
			}
			continue
		}
		k, err := doc.NaturalKey(keyNames)
		if err != nil {
			continue
		}
		keys[k] = true
	}
	return keys
}

// readBack refetches doc by its assigned id and deep-compares it with the
// submitted document.
func (w *DocumentWriter) readBack(ctx context.Context, collection string, doc domain.Document) error {
	id := doc[domain.IDKey]
	stored, err := w.store.FetchOne(ctx, collection, domain.IDKey, id)
	if err != nil {
		return &domain.ReadBackMismatch{Collection: collection, ID: id, Diff: err.Error()}
	}
	want, err := dbclient.Normalize(doc)
	if err != nil {
		return err
	}
	got, err := dbclient.Normalize(stored)
	if err != nil {
		return err
	}
	if diff := cmp.Diff(want, got); diff != "" {
		return &domain.ReadBackMismatch{Collection: collection, ID: id, Diff: diff}
	}
	return nil
}
