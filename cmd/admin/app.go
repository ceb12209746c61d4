package main

import (
	"fmt"
	"log"

	"bankbridge/internal/domain/banking"
	"bankbridge/internal/domain/banksync"
	"bankbridge/internal/domain/credential"
	"bankbridge/internal/domain/reconciliation"
	"bankbridge/internal/domain/store"
	"bankbridge/internal/domain/tenant"
	"bankbridge/internal/infrastructure/bankapi"
	"bankbridge/internal/infrastructure/crypto"
	"bankbridge/internal/infrastructure/memstore"
	"bankbridge/internal/infrastructure/postgres"
	"bankbridge/internal/shared/config"
)

// app is the subset of the service the CLI commands drive.
type app struct {
	cfg         *config.Config
	db          *postgres.DB
	tenants     *tenant.Registry
	credentials *credential.Manager
	runner      *banksync.Runner
	engine      *reconciliation.Engine
	stats       *banksync.StatsService
	cleanup     *banksync.CleanupService
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, tenants: tenant.NewRegistry(cfg.Tenants)}

	var docs store.Store
	switch cfg.Store.Driver {
	case "memory":
		log.Println("Using in-memory document store; results are discarded on exit")
		docs = memstore.New()
	case "postgres":
		a.db, err = postgres.New(cfg.Database.ConnectionString())
		if err != nil {
			return nil, err
		}
		docs = postgres.NewDocumentStore(a.db)
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.Store.Driver)
	}

	var tokens credential.TokenStore = credential.NewMemoryTokenStore()
	if cfg.Encryption.Key != "" {
		sealer, err := crypto.NewTenantSealer(cfg.Encryption.Key)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize token encryption: %w", err)
		}
		tokens = credential.NewPersistentTokenStore(docs, sealer)
	}

	a.credentials = credential.NewManager(a.tenants, tokens, credential.Config{
		TokenURL: cfg.Provider.TokenURL(),
		Audience: cfg.Provider.Audience,
	})
	client := bankapi.NewClient(cfg.Provider.APIURL, a.credentials, cfg.Provider.RateLimitRPS)

	transactionRepo := banking.NewTransactionRepository(docs)
	accountRepo := banking.NewAccountRepository(docs)
	a.engine = reconciliation.NewEngine(transactionRepo, banking.NewInvoiceRepository(docs), banking.NewMatchRepository(docs))
	a.runner = banksync.NewRunner(
		banksync.NewJobRepository(docs),
		banksync.NewTransactionSyncService(client, transactionRepo),
		banksync.NewAccountSyncService(client, accountRepo),
		a.engine,
	)
	a.stats = banksync.NewStatsService(accountRepo, transactionRepo)
	a.cleanup = banksync.NewCleanupService(transactionRepo)

	return a, nil
}

func (a *app) close() {
	if a.credentials != nil {
		a.credentials.Shutdown()
	}
	if a.db != nil {
		a.db.Close()
	}
}

// resolveTenants returns the canonical ids selected by --tenant or --all.
func (a *app) resolveTenants(tenantFlag string, all bool) ([]string, error) {
	if all {
		ids := a.tenants.IDs()
		if len(ids) == 0 {
			return nil, fmt.Errorf("no tenants configured")
		}
		return ids, nil
	}
	if tenantFlag == "" {
		return nil, fmt.Errorf("either --tenant or --all is required")
	}
	cred, ok := a.tenants.Get(tenantFlag)
	if !ok {
		return nil, fmt.Errorf("unknown tenant %q", tenantFlag)
	}
	return []string{cred.TenantID}, nil
}
