package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"bankbridge/internal/domain/banking"
	"bankbridge/internal/domain/banksync"
	"bankbridge/internal/domain/credential"
	"bankbridge/internal/domain/reconciliation"
	"bankbridge/internal/domain/store"
	"bankbridge/internal/domain/tenant"
	"bankbridge/internal/domain/webhook"
	"bankbridge/internal/infrastructure/bankapi"
	"bankbridge/internal/infrastructure/crypto"
	"bankbridge/internal/infrastructure/memstore"
	"bankbridge/internal/infrastructure/postgres"
	httphandlers "bankbridge/internal/interfaces/http"
	"bankbridge/internal/interfaces/scheduler"
	"bankbridge/internal/shared/config"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB      *postgres.DB
	Store   store.Store
	Tenants *tenant.Registry

	Credentials *credential.Manager
	Runner      *banksync.Runner
	Jobs        *banksync.JobRepository
	Scheduler   *scheduler.Scheduler

	// Handlers
	WebhookHandler *httphandlers.WebhookHandler
	HealthHandler  *httphandlers.HealthHandler
	AdminHandler   *httphandlers.AdminHandler
	ReportHandler  *httphandlers.ReportHandler
}

// NewDependencies initializes all application dependencies. The scheduler
// is created but not started.
func NewDependencies(cfg *config.Config, startedAt time.Time) (*Dependencies, error) {
	deps := &Dependencies{
		Tenants: tenant.NewRegistry(cfg.Tenants),
	}
	log.Printf("Loaded %d tenants: %v", deps.Tenants.Len(), deps.Tenants.IDs())

	docs, db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	deps.Store = docs
	deps.DB = db

	tokens, err := newTokenStore(cfg, docs)
	if err != nil {
		deps.Close()
		return nil, err
	}

	deps.Credentials = credential.NewManager(deps.Tenants, tokens, credential.Config{
		TokenURL: cfg.Provider.TokenURL(),
		Audience: cfg.Provider.Audience,
		HTTPClient: &http.Client{
			Timeout:   bankapi.RequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	})
	client := bankapi.NewClient(cfg.Provider.APIURL, deps.Credentials, cfg.Provider.RateLimitRPS)

	// Repositories
	transactionRepo := banking.NewTransactionRepository(docs)
	accountRepo := banking.NewAccountRepository(docs)
	invoiceRepo := banking.NewInvoiceRepository(docs)
	matchRepo := banking.NewMatchRepository(docs)
	deps.Jobs = banksync.NewJobRepository(docs)

	// Services
	engine := reconciliation.NewEngine(transactionRepo, invoiceRepo, matchRepo)
	deps.Runner = banksync.NewRunner(
		deps.Jobs,
		banksync.NewTransactionSyncService(client, transactionRepo),
		banksync.NewAccountSyncService(client, accountRepo),
		engine,
	)

	var resync webhook.AccountResyncer
	if cfg.Scheduler.Enabled {
		deps.Scheduler, err = scheduler.NewScheduler(scheduler.Config{
			TransactionInterval: cfg.Scheduler.TransactionInterval,
			AccountInterval:     cfg.Scheduler.AccountInterval,
			ReconciliationTime:  &scheduler.ScheduleTime{Hour: cfg.Scheduler.ReconciliationHour},
			WorkerCount:         cfg.Scheduler.WorkerCount,
			JobDelay:            cfg.Scheduler.JobDelay,
			QueueSize:           cfg.Scheduler.QueueSize,
			RunOnStartup:        cfg.Scheduler.RunOnStartup,
		}, deps.Runner, deps.Tenants.IDs)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to create scheduler: %w", err)
		}
		resync = deps.Scheduler
	}

	// Handlers
	deps.WebhookHandler = httphandlers.NewWebhookHandler(
		webhook.NewValidator(deps.Tenants),
		webhook.NewDispatcher(transactionRepo, accountRepo, resync),
		deps.Tenants,
		cfg.WebhookURL,
	)
	deps.HealthHandler = httphandlers.NewHealthHandler(startedAt)
	deps.AdminHandler = httphandlers.NewAdminHandler(deps.Credentials, deps.Runner, deps.Jobs, engine, deps.Tenants)
	deps.ReportHandler = httphandlers.NewReportHandler(banksync.NewStatsService(accountRepo, transactionRepo), deps.Tenants)

	return deps, nil
}

// Close releases the database connection and token timers.
func (d *Dependencies) Close() {
	if d.Credentials != nil {
		d.Credentials.Shutdown()
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}
}

// openStore returns the document store selected by STORE_DRIVER. The
// postgres driver runs pending migrations first.
func openStore(cfg *config.Config) (store.Store, *postgres.DB, error) {
	switch cfg.Store.Driver {
	case "memory":
		log.Println("Using in-memory document store; data is lost on restart")
		return memstore.New(), nil, nil
	case "postgres":
		db, err := postgres.New(cfg.Database.ConnectionString())
		if err != nil {
			return nil, nil, err
		}
		log.Println("Connected to database")
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return postgres.NewDocumentStore(db), db, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.Store.Driver)
	}
}

// newTokenStore persists tokens encrypted when ENCRYPTION_KEY is set and
// keeps them in memory otherwise.
func newTokenStore(cfg *config.Config, docs store.Store) (credential.TokenStore, error) {
	if cfg.Encryption.Key == "" {
		log.Println("ENCRYPTION_KEY not set; tokens are kept in memory only")
		return credential.NewMemoryTokenStore(), nil
	}
	sealer, err := crypto.NewTenantSealer(cfg.Encryption.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token encryption: %w", err)
	}
	return credential.NewPersistentTokenStore(docs, sealer), nil
}
