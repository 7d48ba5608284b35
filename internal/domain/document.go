package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Document is the load unit: an arbitrary nested map.
type Document map[string]any

// IDKey is the storage-assigned identifier field.
const IDKey = "_id"

// Lookup reads a dot-separated path ("entry.id") through nested maps.
// A one-element list on the path is stepped through; longer lists end
// the walk.
func (d Document) Lookup(path string) (any, bool) {
	var cur any = map[string]any(d)
	for _, part := range strings.Split(path, ".") {
		if l, ok := cur.([]any); ok && len(l) == 1 {
			cur = l[0]
		}
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// KeyValues returns the natural-key tuple for keyNames.
func (d Document) KeyValues(keyNames []string) ([]any, error) {
	out := make([]any, 0, len(keyNames))
	for _, k := range keyNames {
		v, ok := d.Lookup(k)
		if !ok {
			return nil, fmt.Errorf("document key %q not found", k)
		}
		out = append(out, v)
	}
	return out, nil
}

// NaturalKey renders the key tuple as one comparable string.
func (d Document) NaturalKey(keyNames []string) (string, error) {
	vals, err := d.KeyValues(keyNames)
	if err != nil {
		return "", err
	}
	return JoinKey(vals), nil
}

// ShallowCopy copies the top level of the document.
func (d Document) ShallowCopy() Document {
	out := make(Document, len(d)+1)
	for k, v := range d {
		out[k] = v
	}
	return out
}

// JoinKey renders a value tuple as a single map key.
func JoinKey(vals []any) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "\x1f")
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	}
	return nil, false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ── Load outcome ───────────────────────────────────────────

// LoadMode selects how a collection is prepared before inserts.
type LoadMode string

const (
	LoadFull    LoadMode = "full"    // drop and recreate, then insert
	LoadReplace LoadMode = "replace" // delete by natural key, then insert
)

// Pipeline stages named in failure reasons.
const (
	StageResolve = "resolve"
	StageMap     = "map"
	StageReshape = "reshape"
	StageEnrich  = "enrich"
	StageDelete  = "delete"
	StageInsert  = "insert"
	StageWorker  = "worker"
)

// FailureReason explains why one locator failed for one collection.
type FailureReason struct {
	Stage      string `json:"stage"`
	Collection string `json:"collection,omitempty"`
	Message    string `json:"message"`
}

func (r FailureReason) String() string {
	if r.Collection == "" {
		return r.Stage + ": " + r.Message
	}
	return r.Collection + "/" + r.Stage + ": " + r.Message
}

// LocatorStatus classifies one locator after a run.
type LocatorStatus string

const (
	LocatorSucceeded LocatorStatus = "succeeded"
	LocatorFailed    LocatorStatus = "failed"
	LocatorRejected  LocatorStatus = "rejected" // excluded by a data selector
)

// LocatorResult is the per-locator outcome across all target collections.
type LocatorResult struct {
	Locator string          `json:"locator"`
	Status  LocatorStatus   `json:"status"`
	Reasons []FailureReason `json:"reasons,omitempty"`
}

// CollectionStatus is the per-collection status record of a run.
type CollectionStatus struct {
	Collection string    `json:"collection"`
	Success    bool      `json:"success"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
	Loaded     int       `json:"loaded"`
	Failed     int       `json:"failed"`
}

// LoadOutcome aggregates a batch run.
type LoadOutcome struct {
	RunID              string             `json:"runId"`
	Database           string             `json:"database"`
	Mode               LoadMode           `json:"mode"`
	Success            bool               `json:"success"`
	Locators           []LocatorResult    `json:"locators"`
	Collections        []CollectionStatus `json:"collections"`
	ReadBackMismatches int                `json:"readBackMismatches"`
	StartedAt          time.Time          `json:"startedAt"`
	FinishedAt         time.Time          `json:"finishedAt"`
}

// Succeeded returns the locators that every collection accepted.
func (o *LoadOutcome) Succeeded() []string {
	return o.withStatus(LocatorSucceeded)
}

// Failed returns the failed locators.
func (o *LoadOutcome) Failed() []string {
	return o.withStatus(LocatorFailed)
}

// Rejected returns the locators excluded by data selectors.
func (o *LoadOutcome) Rejected() []string {
	return o.withStatus(LocatorRejected)
}

func (o *LoadOutcome) withStatus(s LocatorStatus) []string {
	var out []string
	for _, r := range o.Locators {
		if r.Status == s {
			out = append(out, r.Locator)
		}
	}
	return out
}
