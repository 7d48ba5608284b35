package app

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"docloader/internal/catalog"
	"docloader/internal/config"
	"docloader/internal/dbclient"
	"docloader/internal/domain"
	"docloader/internal/etl"
	"docloader/internal/etl/sources"
	"docloader/internal/helpers"
	"docloader/internal/secret"
	"docloader/internal/storage"
)

// App wires the configured components together. Commands build one App,
// call Startup, and Shutdown when done.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	secrets  secret.SecretStore
	catalog  *catalog.Catalog
	store    dbclient.Datastore
	statusDB *storage.DB
	status   *storage.StatusStore
	loader   *etl.BatchLoader
}

// New creates an App over cfg.
func New(cfg *config.Config, logger *zap.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Startup opens the catalog, the datastore and the status store, and
// builds the pipeline.
func (a *App) Startup(ctx context.Context) error {
	secrets, err := secret.New(a.cfg.Secrets.Store)
	if err != nil {
		return domain.ConfigErrorf("secrets.store", "%v", err)
	}
	a.secrets = secrets

	cat, err := catalog.Load(a.cfg.CatalogPath)
	if err != nil {
		return err
	}
	a.catalog = cat
	a.logger.Info("catalog loaded", zap.String("catalog", cat.String()))

	dsOpts := a.cfg.Datastore
	if dsOpts.Password, err = secret.Lookup(secrets, a.cfg.Secrets.DatastorePasswordKey, dsOpts.Password); err != nil {
		return err
	}
	store, err := dbclient.NewDatastore(ctx, dsOpts, a.logger)
	if err != nil {
		return fmt.Errorf("open datastore: %w", err)
	}
	a.store = store

	if err := a.openStatus(); err != nil {
		return err
	}

	loader, err := a.buildLoader(ctx)
	if err != nil {
		return err
	}
	a.loader = loader
	return nil
}

// openStatus opens the status store when one is configured.
func (a *App) openStatus() error {
	if a.cfg.Status.Driver == "" {
		return nil
	}
	opts := a.cfg.Status.Options
	var err error
	if opts.Password, err = secret.Lookup(a.secrets, a.cfg.Status.PasswordKey, opts.Password); err != nil {
		return err
	}
	db, err := storage.Open(opts)
	if err != nil {
		return fmt.Errorf("open status store: %w", err)
	}
	a.statusDB = db
	a.status = storage.NewStatusStore(db)
	return nil
}

func (a *App) buildLoader(ctx context.Context) (*etl.BatchLoader, error) {
	srcCfg := a.cfg.Sources
	if srcCfg.S3 != nil {
		s3cfg := *srcCfg.S3
		key, err := secret.Lookup(a.secrets, "s3.secret_access_key", "")
		if err != nil {
			return nil, err
		}
		s3cfg.SecretAccessKey = key
		srcCfg.S3 = &s3cfg
	}
	resolver, err := sources.NewRegistry(ctx, srcCfg, a.logger)
	if err != nil {
		return nil, err
	}

	resources := helpers.NewResourceProvider(a.cfg.Resources, a.logger)
	methods, err := etl.NewMethodRunner(a.catalog.Methods(), helpers.Table(resources), a.logger)
	if err != nil {
		return nil, err
	}
	reshaper, err := etl.NewDocumentReshaper(a.catalog, etl.DocumentStyle(a.cfg.Load.DocumentStyle), a.logger)
	if err != nil {
		return nil, err
	}
	selector, err := etl.NewDataSelector(a.catalog, a.cfg.Load.DataSelectors)
	if err != nil {
		return nil, err
	}
	tr := etl.NewAttributeTransform(a.catalog.Tables(), a.cfg.Transform)

	engine := &etl.Engine{
		Catalog:  a.catalog,
		Resolver: resolver,
		Methods:  methods,
		Mapper:   etl.NewDataMapper(a.catalog, tr, a.logger),
		Reshaper: reshaper,
		Selector: selector,
		Writer:   etl.NewDocumentWriter(a.store, a.logger),
		Logger:   a.logger,
	}
	return etl.NewBatchLoader(engine, a.store, a.cfg.BatchConfig(), a.logger)
}

// Loader returns the batch loader built by Startup.
func (a *App) Loader() *etl.BatchLoader { return a.loader }

// Status returns the status store, or nil when none is configured.
func (a *App) Status() *storage.StatusStore { return a.status }

// RunFile loads the locator list at path in one batch and records the
// outcome.
func (a *App) RunFile(ctx context.Context, path string) (*domain.LoadOutcome, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open locator list: %w", err)
	}
	locs, err := domain.ReadLocators(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("read locator list: %w", err)
	}
	out, err := a.loader.Load(ctx, locs)
	if err != nil {
		return nil, err
	}
	if a.status != nil {
		if err := a.status.RecordRun(out); err != nil {
			a.logger.Error("record run status failed", zap.String("run", out.RunID), zap.Error(err))
		}
	}
	return out, nil
}

// Shutdown releases every open resource.
func (a *App) Shutdown(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			a.logger.Warn("close datastore", zap.Error(err))
		}
	}
	if a.statusDB != nil {
		a.statusDB.Close()
	}
}
