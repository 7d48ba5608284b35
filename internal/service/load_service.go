package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"docloader/internal/domain"
)

// ─────────────────────────────────────────────────────────────
// Load Service: scheduled and file-triggered batch runs
// ─────────────────────────────────────────────────────────────

// Event names emitted by the LoadService.
const (
	EventLoadStarted   = "load:started"
	EventLoadCompleted = "load:completed"
	EventLoadFailed    = "load:failed"
)

// ErrRunInProgress is returned when a batch already runs against the
// same database.
var ErrRunInProgress = errors.New("load already running")

// Loader runs one batch.
type Loader interface {
	Load(ctx context.Context, locs []domain.Locator) (*domain.LoadOutcome, error)
}

// StatusRecorder persists batch outcomes.
type StatusRecorder interface {
	RecordRun(o *domain.LoadOutcome) error
}

// Options configures a LoadService.
type Options struct {
	Database   string
	RunTimeout time.Duration
	Debounce   time.Duration
}

// LoadSummary is the payload of completion events.
type LoadSummary struct {
	RunID     string `json:"runId"`
	Database  string `json:"database"`
	Success   bool   `json:"success"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Rejected  int    `json:"rejected"`
}

// LoadService runs batches on demand, on a cron schedule, or when the
// locator list file changes. At most one batch runs per database.
type LoadService struct {
	loader  Loader
	status  StatusRecorder
	emitter EventEmitter
	logger  *zap.Logger
	opts    Options
	running runGuard

	mu          sync.Mutex
	watchCancel context.CancelFunc
	watcher     *fsnotify.Watcher
	cronSched   *cron.Cron
}

// NewLoadService creates a LoadService. status may be nil.
func NewLoadService(loader Loader, status StatusRecorder, emitter EventEmitter, logger *zap.Logger, opts Options) *LoadService {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	return &LoadService{
		loader:  loader,
		status:  status,
		emitter: emitter,
		logger:  logger.Named("service"),
		opts:    opts,
	}
}

// ── Run ────────────────────────────────────────────────────

// RunLoad reads the locator list at path and runs one batch over it.
func (s *LoadService) RunLoad(ctx context.Context, path string) (*domain.LoadOutcome, error) {
	if !s.running.TryLock(s.opts.Database) {
		since, _ := s.running.Since(s.opts.Database)
		return nil, fmt.Errorf("database %s (since %s): %w",
			s.opts.Database, since.Format(time.RFC3339), ErrRunInProgress)
	}
	defer s.running.Unlock(s.opts.Database)

	locs, err := readLocatorFile(path)
	if err != nil {
		return nil, err
	}

	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}

	s.emitter.Emit(ctx, EventLoadStarted, map[string]any{
		"database": s.opts.Database,
		"locators": len(locs),
		"source":   path,
	})

	out, err := s.loader.Load(ctx, locs)
	if err != nil {
		s.emitter.Emit(ctx, EventLoadFailed, map[string]any{"database": s.opts.Database, "error": err.Error()})
		return nil, err
	}

	if s.status != nil {
		if err := s.status.RecordRun(out); err != nil {
			s.logger.Error("record run status failed", zap.String("run", out.RunID), zap.Error(err))
		}
	}

	s.emitter.Emit(ctx, EventLoadCompleted, LoadSummary{
		RunID:     out.RunID,
		Database:  out.Database,
		Success:   out.Success,
		Succeeded: len(out.Succeeded()),
		Failed:    len(out.Failed()),
		Rejected:  len(out.Rejected()),
	})
	return out, nil
}

func readLocatorFile(path string) ([]domain.Locator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open locator list: %w", err)
	}
	defer f.Close()
	locs, err := domain.ReadLocators(f)
	if err != nil {
		return nil, fmt.Errorf("read locator list %s: %w", path, err)
	}
	return locs, nil
}

// ── Watchers (cron + file_watch) ──────────────────────────

// Schedule runs the batch over path on every tick of the cron
// expression. A previous schedule is replaced.
func (s *LoadService) Schedule(ctx context.Context, expr, path string) error {
	c := cron.New()
	_, err := c.AddFunc(expr, func() {
		s.logger.Info("cron: running load", zap.String("locators", path))
		if _, err := s.RunLoad(ctx, path); err != nil {
			s.logger.Warn("cron: load failed", zap.String("locators", path), zap.Error(err))
		}
	})
	if err != nil {
		return domain.ConfigErrorf("schedule", "invalid cron expression %q: %v", expr, err)
	}

	s.mu.Lock()
	if s.cronSched != nil {
		s.cronSched.Stop()
	}
	s.cronSched = c
	s.mu.Unlock()

	c.Start()
	s.logger.Info("cron: scheduled", zap.String("expr", expr))
	return nil
}

// Watch reruns the batch whenever the locator list file at path is
// written or created. Bursts of events are debounced.
func (s *LoadService) Watch(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch path %q: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch dir %q: %w", filepath.Dir(absPath), err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.stopWatcherLocked()
	s.watcher = watcher
	s.watchCancel = cancel
	s.mu.Unlock()

	go func() {
		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()
		for {
			select {
			case <-watchCtx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if name, _ := filepath.Abs(event.Name); name != absPath {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(s.opts.Debounce, func() {
					s.logger.Info("watcher: locator list changed", zap.String("path", absPath))
					if _, err := s.RunLoad(ctx, absPath); err != nil {
						s.logger.Warn("watcher: load failed", zap.String("path", absPath), zap.Error(err))
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("watcher: error", zap.Error(err))
			}
		}
	}()

	s.logger.Info("watcher: watching", zap.String("path", absPath))
	return nil
}

// Running lists the databases with a batch in flight.
func (s *LoadService) Running() []string {
	return s.running.Active()
}

// WaitRunning blocks until all running batches finish or ctx is cancelled.
// Used for graceful shutdown.
func (s *LoadService) WaitRunning(ctx context.Context) {
	s.running.WaitAll(ctx)
}

// Stop tears down the watcher and the scheduler.
func (s *LoadService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatcherLocked()
	if s.cronSched != nil {
		<-s.cronSched.Stop().Done()
		s.cronSched = nil
	}
}

func (s *LoadService) stopWatcherLocked() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
}
