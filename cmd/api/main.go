package main

import (
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/labstack/gommon/log"

	"github.com/harlowe/fundbooks/pkg/config"
	"github.com/harlowe/fundbooks/pkg/funds"
	"github.com/harlowe/fundbooks/pkg/ledger"
	"github.com/harlowe/fundbooks/pkg/reconcile"
	"github.com/harlowe/fundbooks/pkg/recurring"
	"github.com/harlowe/fundbooks/pkg/store"
	"github.com/harlowe/fundbooks/pkg/tuition"
)

func main() {
	cfgPath := os.Getenv("FUNDBOOKS_CONFIG")
	if cfgPath == "" {
		cfgPath = "fundbooks.yaml"
	}
	cfg := config.Default()
	if _, err := os.Stat(cfgPath); err == nil {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", cfgPath, err)
		}
		cfg = loaded
	}

	dbPath := os.Getenv("FUNDBOOKS_DB")
	if dbPath == "" {
		dbPath = "fundbooks.db"
	}
	sqliteStore, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize SQLite store: %v", err)
	}
	defer sqliteStore.Close()

	server, err := NewServer(sqliteStore, cfg)
	if err != nil {
		log.Fatalf("Failed to build server: %v", err)
	}
	router := mux.NewRouter()
	server.Routes(router)

	// Generate due recurring documents in the background. Generation is
	// idempotent per due date, so an overlapping tick cannot double-post.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for range ticker.C {
			due, err := server.recurring.DueTemplates(time.Now())
			if err != nil {
				log.Errorf("listing due templates: %v", err)
				continue
			}
			for _, tpl := range due {
				if _, err := server.recurring.Generate(tpl.ID); err != nil {
					log.Errorf("generating from template %s: %v", tpl.ID, err)
				}
			}
		}
	}()

	addr := os.Getenv("FUNDBOOKS_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	log.Infof("Server starting on %s", addr)
	log.Fatal(http.ListenAndServe(addr, router))
}

// NewServer wires the services over one storage backend.
func NewServer(s store.Storage, cfg *config.Config) (*Server, error) {
	epsilon, err := cfg.Epsilon()
	if err != nil {
		return nil, err
	}
	tolerance, err := cfg.AmountTolerance()
	if err != nil {
		return nil, err
	}

	ledgerSvc := ledger.NewService(s, epsilon)

	var fundsSvc *funds.Service
	if cfg.Funds.ClearingAccountID != "" {
		clearingID, err := config.AccountID(cfg.Funds.ClearingAccountID)
		if err != nil {
			return nil, err
		}
		fundsSvc = funds.NewService(s, ledgerSvc, clearingID, cfg.OverdraftAllowed)
	}

	var tuitionSvc *tuition.Service
	if cfg.Tuition.ExpenseAccountID != "" {
		accounts := tuition.Accounts{}
		if accounts.ExpenseAccountID, err = config.AccountID(cfg.Tuition.ExpenseAccountID); err != nil {
			return nil, err
		}
		if accounts.PayableAccountID, err = config.AccountID(cfg.Tuition.PayableAccountID); err != nil {
			return nil, err
		}
		if accounts.CashAccountID, err = config.AccountID(cfg.Tuition.CashAccountID); err != nil {
			return nil, err
		}
		if accounts.FundID, err = config.AccountID(cfg.Tuition.FundID); err != nil {
			return nil, err
		}
		tuitionSvc = tuition.NewService(s, ledgerSvc, accounts)
	}

	return &Server{
		storage:   s,
		ledger:    ledgerSvc,
		funds:     fundsSvc,
		recurring: recurring.NewService(s, ledgerSvc),
		tuition:   tuitionSvc,
		reconcile: reconcile.NewService(s, ledgerSvc, cfg.Matching.DateWindowDays, epsilon, tolerance),
	}, nil
}
