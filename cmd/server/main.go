/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the trading core server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment configuration (.env honored)
  2. Parse command-line flags (flags override env)
  3. Initialize SQLite store
  4. Wire allocation engine, reconstructor, payable ledger
  5. Start the posting outbox drainer
  6. Start HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: PORT env or 8080)
  -db      SQLite database path (default: DB_PATH env or trade.db)
           Use ":memory:" for an in-memory database
  -policy  expense allocation strategy: uniform | value-weighted

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the outbox drainer
  4. Close database connection

SEE ALSO:
  - api/server.go: Router configuration
  - payables/outbox.go: Posting drainer
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/trade-core/allocation"
	"github.com/warp/trade-core/api"
	"github.com/warp/trade-core/config"
	"github.com/warp/trade-core/inventory"
	"github.com/warp/trade-core/logging"
	"github.com/warp/trade-core/payables"
	"github.com/warp/trade-core/store/sqlite"
)

func main() {
	cfg := config.Load()

	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	policyName := flag.String("policy", allocation.PolicyUniform, "expense allocation strategy")
	flag.Parse()

	log := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	policy, err := allocation.ByName(*policyName)
	if err != nil {
		log.Fatal().Err(err).Str("policy", *policyName).Msg("unknown allocation policy")
	}

	engine := allocation.NewEngine(store, policy, log)
	recon := inventory.NewReconstructor(store)
	ledger := payables.NewMemory()

	drainer := payables.NewDrainer(store, ledger, log)
	drainer.Interval = cfg.OutboxInterval
	drainer.Start()
	defer drainer.Stop()

	handler := api.NewHandler(store, engine, recon, ledger, log)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", *port).Str("policy", policy.Name()).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
