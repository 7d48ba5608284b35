package etl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"docloader/internal/catalog"
	"docloader/internal/dbclient"
	"docloader/internal/domain"
	"docloader/internal/metrics"
)

// ── Batch Loader ───────────────────────────────────────────
// Setup runs once, single-writer, before any worker starts. The
// locator list is split into outer steps capped by MaxStepLength;
// each step is cut into sub-chunks processed by a fixed-size pool.

// BatchConfig holds the run values of one batch.
type BatchConfig struct {
	Mode                  domain.LoadMode
	Workers               int
	ChunkSize             int
	MaxStepLength         int
	PruneDocumentSizeMB   float64
	ValidationLevel       string
	ReadBackCheck         bool
	UpdateSchemaOnReplace bool
	Salvage               bool
	LocatorTimeout        time.Duration
	BatchTimeout          time.Duration
	Collections           []string
	FailedLocatorsPath    string
	SaveLocatorsPath      string
}

// DefaultBatchConfig returns the loader defaults.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Mode:                  domain.LoadFull,
		Workers:               4,
		ChunkSize:             15,
		MaxStepLength:         2000,
		ValidationLevel:       catalog.ValidationMin,
		UpdateSchemaOnReplace: true,
		LocatorTimeout:        2 * time.Minute,
	}
}

// BatchLoader drives the engine over a locator list.
type BatchLoader struct {
	engine *Engine
	store  dbclient.Datastore
	cfg    BatchConfig
	logger *zap.Logger

	now      func() time.Time
	newRunID func() string
}

// NewBatchLoader validates cfg against the catalog.
func NewBatchLoader(engine *Engine, store dbclient.Datastore, cfg BatchConfig, logger *zap.Logger) (*BatchLoader, error) {
	switch cfg.Mode {
	case domain.LoadFull, domain.LoadReplace:
	default:
		return nil, domain.ConfigErrorf("load mode", "unknown mode %q", cfg.Mode)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if len(cfg.Collections) == 0 {
		cfg.Collections = engine.Catalog.CollectionNames()
	}
	if len(cfg.Collections) == 0 {
		return nil, domain.ConfigErrorf("collections", "no target collections")
	}
	for _, c := range cfg.Collections {
		if _, err := engine.Catalog.Collection(c); err != nil {
			return nil, err
		}
	}
	return &BatchLoader{
		engine:   engine,
		store:    store,
		cfg:      cfg,
		logger:   logger.Named("loader"),
		now:      time.Now,
		newRunID: func() string { return uuid.New().String() },
	}, nil
}

// Config returns the effective configuration.
func (b *BatchLoader) Config() BatchConfig { return b.cfg }

// Load runs one batch. Only setup-time errors are returned; per-locator
// outcomes are reported in the LoadOutcome.
func (b *BatchLoader) Load(ctx context.Context, locs []domain.Locator) (*domain.LoadOutcome, error) {
	if len(locs) == 0 {
		return nil, domain.ConfigErrorf("locators", "empty locator list")
	}
	start := b.now()
	out := &domain.LoadOutcome{
		RunID:     b.newRunID(),
		Database:  b.store.Database(),
		Mode:      b.cfg.Mode,
		StartedAt: start,
	}

	if err := b.setup(ctx); err != nil {
		return nil, err
	}

	if b.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.BatchTimeout)
		defer cancel()
	}

	opts := ChunkOptions{
		Collections:    b.cfg.Collections,
		LocatorTimeout: b.cfg.LocatorTimeout,
		Run:            RunInfo{RunID: out.RunID, LoadTime: start},
		Write: WriteOptions{
			Mode:       b.cfg.Mode,
			ReadBack:   b.cfg.ReadBackCheck,
			Salvage:    b.cfg.Salvage,
			PruneBytes: int(b.cfg.PruneDocumentSizeMB * 1024 * 1024),
		},
	}

	agg := newChunkResult(nil)
	var mu sync.Mutex
	for step, list := range OuterLists(locs, b.cfg.MaxStepLength, b.cfg.Workers) {
		chunks := SubChunks(list, b.cfg.ChunkSize, b.cfg.Workers)
		b.logger.Info("step started",
			zap.String("run", out.RunID),
			zap.Int("step", step),
			zap.Int("locators", len(list)),
			zap.Int("chunks", len(chunks)),
		)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.cfg.Workers)
		for _, chunk := range chunks {
			g.Go(func() error {
				res := b.runChunk(gctx, chunk, opts)
				mu.Lock()
				mergeChunk(agg, res)
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	b.finish(out, locs, agg)
	b.writeOutputs(out, locs)
	metrics.HistogramBatchDuration.WithLabelValues(string(b.cfg.Mode)).Observe(out.FinishedAt.Sub(start).Seconds())
	b.logger.Info("batch finished",
		zap.String("run", out.RunID),
		zap.Bool("success", out.Success),
		zap.Int("succeeded", len(out.Succeeded())),
		zap.Int("failed", len(out.Failed())),
		zap.Int("rejected", len(out.Rejected())),
		zap.Duration("elapsed", out.FinishedAt.Sub(start)),
	)
	return out, nil
}

// setup prepares every target collection before workers start.
func (b *BatchLoader) setup(ctx context.Context) error {
	for _, coll := range b.cfg.Collections {
		validator, err := b.engine.Catalog.ValidatorSchema(coll, b.cfg.ValidationLevel)
		if err != nil {
			return err
		}
		def, err := b.engine.Catalog.Collection(coll)
		if err != nil {
			return err
		}
		create := b.cfg.Mode == domain.LoadFull
		if b.cfg.Mode == domain.LoadFull {
			if err := b.store.DropCollection(ctx, coll); err != nil {
				return fmt.Errorf("setup %s: %w", coll, err)
			}
		} else {
			exists, err := b.store.CollectionExists(ctx, coll)
			if err != nil {
				return fmt.Errorf("setup %s: %w", coll, err)
			}
			create = !exists
			if exists && b.cfg.UpdateSchemaOnReplace && validator != nil {
				if err := b.store.UpdateValidator(ctx, coll, validator); err != nil {
					return fmt.Errorf("setup %s: %w", coll, err)
				}
			}
		}
		if !create {
			continue
		}
		if err := b.store.CreateCollection(ctx, coll, validator); err != nil {
			return fmt.Errorf("setup %s: %w", coll, err)
		}
		for _, idx := range def.Indexes {
			if err := b.store.CreateIndex(ctx, coll, idx); err != nil {
				return fmt.Errorf("setup %s: %w", coll, err)
			}
		}
	}
	return nil
}

// runChunk isolates one worker: a panic or an expired batch deadline fails
// the chunk's locators instead of the run.
func (b *BatchLoader) runChunk(ctx context.Context, chunk []domain.Locator, opts ChunkOptions) (res *ChunkResult) {
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("worker panic", zap.Any("panic", p), zap.Int("locators", len(chunk)))
			res = failedChunk(chunk, fmt.Sprintf("worker panic: %v", p))
		}
	}()
	if err := ctx.Err(); err != nil {
		return failedChunk(chunk, "batch deadline: "+err.Error())
	}
	return b.engine.ProcessChunk(ctx, chunk, opts)
}

func failedChunk(chunk []domain.Locator, msg string) *ChunkResult {
	res := newChunkResult(chunk)
	for _, l := range res.Locators {
		res.fail(l, domain.FailureReason{Stage: domain.StageWorker, Message: msg})
	}
	return res
}

func mergeChunk(dst, src *ChunkResult) {
	dst.Locators = append(dst.Locators, src.Locators...)
	for l := range src.Rejected {
		dst.Rejected[l] = true
	}
	for l, rs := range src.Failures {
		dst.Failures[l] = append(dst.Failures[l], rs...)
	}
	for c, n := range src.Loaded {
		dst.Loaded[c] += n
	}
	for c, n := range src.Failed {
		dst.Failed[c] += n
	}
	dst.ReadBackMismatches += src.ReadBackMismatches
}

// finish classifies every locator and builds per-collection status.
func (b *BatchLoader) finish(out *domain.LoadOutcome, locs []domain.Locator, agg *ChunkResult) {
	out.FinishedAt = b.now()
	out.ReadBackMismatches = agg.ReadBackMismatches

	unscoped := 0
	for _, l := range locs {
		name := l.String()
		r := domain.LocatorResult{Locator: name}
		switch {
		case agg.Rejected[name]:
			r.Status = domain.LocatorRejected
		case len(agg.Failures[name]) > 0:
			r.Status = domain.LocatorFailed
			r.Reasons = agg.Failures[name]
			for _, reason := range r.Reasons {
				if reason.Collection == "" {
					unscoped++
					break
				}
			}
		default:
			r.Status = domain.LocatorSucceeded
		}
		metrics.CounterLocatorsProcessed.WithLabelValues(string(r.Status)).Inc()
		out.Locators = append(out.Locators, r)
	}

	for _, coll := range b.cfg.Collections {
		failed := agg.Failed[coll] + unscoped
		out.Collections = append(out.Collections, domain.CollectionStatus{
			Collection: coll,
			Success:    failed == 0,
			StartTime:  out.StartedAt,
			EndTime:    out.FinishedAt,
			Loaded:     agg.Loaded[coll],
			Failed:     failed,
		})
	}
	out.Success = len(out.Failed()) == 0 && out.ReadBackMismatches == 0
}

// writeOutputs writes the failed-locator list (plus structured reasons) and
// the optional saved locator list. Output errors are logged only.
func (b *BatchLoader) writeOutputs(out *domain.LoadOutcome, locs []domain.Locator) {
	if p := b.cfg.FailedLocatorsPath; p != "" {
		failed := out.Failed()
		if err := writeLines(p, failed); err != nil {
			b.logger.Error("write failed locators", zap.String("path", p), zap.Error(err))
		}
		reasons := map[string][]domain.FailureReason{}
		for _, r := range out.Locators {
			if r.Status == domain.LocatorFailed {
				reasons[r.Locator] = r.Reasons
			}
		}
		if data, err := json.MarshalIndent(reasons, "", "  "); err == nil {
			if err := os.WriteFile(p+".json", data, 0o644); err != nil {
				b.logger.Error("write failure reasons", zap.String("path", p+".json"), zap.Error(err))
			}
		}
	}
	if p := b.cfg.SaveLocatorsPath; p != "" {
		all := make([]string, len(locs))
		for i, l := range locs {
			all[i] = l.String()
		}
		if err := writeLines(p, all); err != nil {
			b.logger.Error("save locator list", zap.String("path", p), zap.Error(err))
		}
	}
}

// writeLines writes de-duplicated lines in first-seen order.
func writeLines(path string, lines []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	seen := map[string]bool{}
	var sb strings.Builder
	for _, l := range lines {
		if seen[l] {
			continue
		}
		seen[l] = true
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

// ── Sharding ───────────────────────────────────────────────

// OuterLists splits locs into strided sublists of at most about maxStep
// locators. Short lists are returned whole.
func OuterLists(locs []domain.Locator, maxStep, workers int) [][]domain.Locator {
	if maxStep <= 0 || len(locs) <= maxStep {
		return [][]domain.Locator{locs}
	}
	n := len(locs) / maxStep
	if n < workers {
		n = workers
	}
	if n > len(locs) {
		n = len(locs)
	}
	return strided(locs, n)
}

// SubChunks cuts one outer list into worker units: contiguous chunks of
// chunkSize, or one strided list per worker when chunkSize is unset.
func SubChunks(locs []domain.Locator, chunkSize, workers int) [][]domain.Locator {
	if len(locs) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		if workers <= 0 {
			workers = 1
		}
		if workers > len(locs) {
			workers = len(locs)
		}
		return strided(locs, workers)
	}
	var out [][]domain.Locator
	for i := 0; i < len(locs); i += chunkSize {
		end := i + chunkSize
		if end > len(locs) {
			end = len(locs)
		}
		out = append(out, locs[i:end])
	}
	return out
}

func strided(locs []domain.Locator, n int) [][]domain.Locator {
	out := make([][]domain.Locator, n)
	for i, l := range locs {
		out[i%n] = append(out[i%n], l)
	}
	return out
}
