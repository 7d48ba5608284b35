package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"docloader/internal/domain"
	"docloader/internal/service"
)

// ─────────────────────────────────────────────────────────────
// LoadService tests
// A fake Loader stands in for the BatchLoader:
//   - RunLoad reads the list, records status, emits events
//   - one run per database at a time
//   - file watching triggers a run
// ─────────────────────────────────────────────────────────────

type fakeLoader struct {
	mu      sync.Mutex
	calls   [][]domain.Locator
	block   chan struct{}
	err     error
	started chan struct{}
}

func (f *fakeLoader) Load(ctx context.Context, locs []domain.Locator) (*domain.LoadOutcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, locs)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	out := &domain.LoadOutcome{RunID: "run-1", Database: "pdbx", Success: true}
	for _, l := range locs {
		out.Locators = append(out.Locators, domain.LocatorResult{Locator: l.String(), Status: domain.LocatorSucceeded})
	}
	return out, nil
}

func (f *fakeLoader) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeStatus struct {
	runs []*domain.LoadOutcome
}

func (f *fakeStatus) RecordRun(o *domain.LoadOutcome) error {
	f.runs = append(f.runs, o)
	return nil
}

func writeList(t *testing.T, dir string, lines string) string {
	t.Helper()
	path := filepath.Join(dir, "locators.txt")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))
	return path
}

func TestLoadService_RunLoad(t *testing.T) {
	loader := &fakeLoader{}
	status := &fakeStatus{}
	emitter := &service.MockEmitter{}
	svc := service.NewLoadService(loader, status, emitter, zap.NewNop(), service.Options{Database: "pdbx"})

	path := writeList(t, t.TempDir(), "a.json\n# comment\nb.json|aux.json\n")
	out, err := svc.RunLoad(context.Background(), path)
	require.NoError(t, err)

	assert.Len(t, out.Succeeded(), 2)
	require.Len(t, loader.calls, 1)
	assert.Equal(t, []string{"aux.json"}, loader.calls[0][1].Auxiliary)
	assert.Len(t, status.runs, 1)
	assert.Equal(t, []string{service.EventLoadStarted, service.EventLoadCompleted}, emitter.Names())

	summary, ok := emitter.Events[1].Data.(service.LoadSummary)
	require.True(t, ok)
	assert.Equal(t, 2, summary.Succeeded)
	assert.True(t, summary.Success)
}

func TestLoadService_RunLoad_LoaderError(t *testing.T) {
	loader := &fakeLoader{err: errors.New("setup failed")}
	emitter := &service.MockEmitter{}
	svc := service.NewLoadService(loader, nil, emitter, zap.NewNop(), service.Options{Database: "pdbx"})

	_, err := svc.RunLoad(context.Background(), writeList(t, t.TempDir(), "a.json\n"))
	require.Error(t, err)
	assert.Equal(t, []string{service.EventLoadStarted, service.EventLoadFailed}, emitter.Names())
}

func TestLoadService_RunLoad_MissingList(t *testing.T) {
	svc := service.NewLoadService(&fakeLoader{}, nil, &service.MockEmitter{}, zap.NewNop(), service.Options{Database: "pdbx"})
	_, err := svc.RunLoad(context.Background(), filepath.Join(t.TempDir(), "none.txt"))
	assert.ErrorContains(t, err, "open locator list")
}

func TestLoadService_OneRunPerDatabase(t *testing.T) {
	loader := &fakeLoader{block: make(chan struct{}), started: make(chan struct{}, 1)}
	svc := service.NewLoadService(loader, nil, &service.MockEmitter{}, zap.NewNop(), service.Options{Database: "pdbx"})
	path := writeList(t, t.TempDir(), "a.json\n")

	errc := make(chan error, 1)
	go func() {
		_, err := svc.RunLoad(context.Background(), path)
		errc <- err
	}()
	<-loader.started

	_, err := svc.RunLoad(context.Background(), path)
	assert.ErrorIs(t, err, service.ErrRunInProgress)
	assert.Equal(t, []string{"pdbx"}, svc.Running())

	close(loader.block)
	require.NoError(t, <-errc)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	svc.WaitRunning(ctx)
	assert.Equal(t, 1, loader.Calls())
	assert.Empty(t, svc.Running())
}

func TestLoadService_Schedule_InvalidExpression(t *testing.T) {
	svc := service.NewLoadService(&fakeLoader{}, nil, &service.MockEmitter{}, zap.NewNop(), service.Options{})
	err := svc.Schedule(context.Background(), "not a cron", "x.txt")
	assert.True(t, domain.IsConfigurationError(err))
	svc.Stop()
}

func TestLoadService_Watch_TriggersRun(t *testing.T) {
	loader := &fakeLoader{}
	svc := service.NewLoadService(loader, nil, &service.MockEmitter{}, zap.NewNop(),
		service.Options{Database: "pdbx", Debounce: 20 * time.Millisecond})
	defer svc.Stop()

	dir := t.TempDir()
	path := filepath.Join(dir, "locators.txt")
	require.NoError(t, svc.Watch(context.Background(), path))

	require.NoError(t, os.WriteFile(path, []byte("a.json\n"), 0o644))
	require.Eventually(t, func() bool { return loader.Calls() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestLoadService_Stop_Idempotent(t *testing.T) {
	svc := service.NewLoadService(&fakeLoader{}, nil, &service.MockEmitter{}, zap.NewNop(), service.Options{})
	svc.Stop()
	svc.Stop()
}
