package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"docloader/internal/domain"
)

// ── Engine ─────────────────────────────────────────────────
// Runs the per-worker unit over one chunk of locators:
// resolve → methods → map → reshape → enrich → persist.
//
// Stages within one locator are strictly sequential. Errors are
// isolated per locator and recorded as structured reasons.

// LocatorResolver reads a locator into a container.
type LocatorResolver interface {
	Resolve(ctx context.Context, loc domain.Locator) (*domain.Container, error)
}

// Engine holds the shared, read-only pipeline stages.
type Engine struct {
	Catalog  SchemaCatalog
	Resolver LocatorResolver
	Methods  *MethodRunner
	Mapper   *DataMapper
	Reshaper *DocumentReshaper
	Selector *DataSelector
	Writer   *DocumentWriter
	Logger   *zap.Logger
}

// ChunkOptions configures one chunk run.
type ChunkOptions struct {
	Collections    []string
	Write          WriteOptions
	LocatorTimeout time.Duration
	Run            RunInfo
}

// ChunkResult is the outcome of one chunk.
type ChunkResult struct {
	Locators           []string
	Rejected           map[string]bool
	Failures           map[string][]domain.FailureReason
	Loaded             map[string]int
	Failed             map[string]int
	ReadBackMismatches int
}

func newChunkResult(locs []domain.Locator) *ChunkResult {
	r := &ChunkResult{
		Rejected: map[string]bool{},
		Failures: map[string][]domain.FailureReason{},
		Loaded:   map[string]int{},
		Failed:   map[string]int{},
	}
	for _, l := range locs {
		r.Locators = append(r.Locators, l.String())
	}
	return r
}

func (r *ChunkResult) fail(loc string, reason domain.FailureReason) {
	r.Failures[loc] = append(r.Failures[loc], reason)
	if reason.Collection != "" {
		r.Failed[reason.Collection]++
	}
}

type unit struct {
	locator   string
	container *domain.Container
}

// ProcessChunk runs the pipeline for locs into every target collection.
func (e *Engine) ProcessChunk(ctx context.Context, locs []domain.Locator, opts ChunkOptions) *ChunkResult {
	res := newChunkResult(locs)
	logger := e.Logger.Named("engine")

	var units []unit
	for _, loc := range locs {
		name := loc.String()
		c, err := e.prepare(ctx, loc, opts.LocatorTimeout)
		switch {
		case errors.Is(err, domain.ErrSelectorRejected):
			res.Rejected[name] = true
			logger.Debug("locator rejected", zap.String("locator", name), zap.Error(err))
		case err != nil:
			res.fail(name, domain.FailureReason{Stage: domain.StageResolve, Message: err.Error()})
			logger.Warn("locator unreadable", zap.String("locator", name), zap.Error(err))
		default:
			units = append(units, unit{locator: name, container: c})
		}
	}
	if len(units) == 0 {
		return res
	}

	for _, coll := range opts.Collections {
		var subs []Submission
		for _, u := range units {
			docs, reason := e.build(u.container, coll, opts.Run)
			if reason != nil {
				res.fail(u.locator, *reason)
				logger.Warn("document build failed", zap.String("locator", u.locator), zap.String("collection", coll), zap.String("reason", reason.Message))
				continue
			}
			subs = append(subs, Submission{Locator: u.locator, Docs: docs})
		}
		if len(subs) == 0 {
			continue
		}
		wr := e.Writer.Write(ctx, coll,
			e.Catalog.DocumentKeyAttributeNames(coll),
			e.Catalog.DocumentReplaceAttributeNames(coll),
			subs, opts.Write)
		for loc, reason := range wr.Failed {
			res.fail(loc, reason)
		}
		res.Loaded[coll] += wr.Loaded
		res.ReadBackMismatches += wr.ReadBackMismatches
	}
	return res
}

// prepare resolves a locator, applies compute rules, then data selectors.
// Selectors see categories that rules add.
func (e *Engine) prepare(ctx context.Context, loc domain.Locator, timeout time.Duration) (*domain.Container, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	c, err := e.Resolver.Resolve(ctx, loc)
	if err != nil {
		return nil, err
	}
	if e.Methods != nil {
		e.Methods.Apply(ctx, c)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("locator deadline: %w", err)
	}
	if err := e.Selector.Test(c); err != nil {
		return nil, err
	}
	return c, nil
}

// build maps, reshapes and enriches one container for one collection.
func (e *Engine) build(c *domain.Container, coll string, run RunInfo) ([]domain.Document, *domain.FailureReason) {
	data, err := e.Mapper.MapCollection(c, coll)
	if err != nil {
		return nil, &domain.FailureReason{Stage: domain.StageMap, Collection: coll, Message: err.Error()}
	}
	docs, err := e.Reshaper.Reshape(data, coll)
	if err != nil {
		return nil, &domain.FailureReason{Stage: domain.StageReshape, Collection: coll, Message: err.Error()}
	}
	for _, d := range docs {
		if err := e.Reshaper.Enrich(d, coll, run); err != nil {
			return nil, &domain.FailureReason{Stage: domain.StageEnrich, Collection: coll, Message: err.Error()}
		}
	}
	return docs, nil
}
