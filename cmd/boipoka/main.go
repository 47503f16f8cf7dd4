// cmd/boipoka/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/platform/config"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/platform/telemetry"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/server"
	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/store"

	_ "time/tzdata"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "boipoka",
		Short:         "Boipoka library borrowing service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		serveCmd(),
		migrateCmd(),
		createAdminCmd(),
		syncCatalogCmd(),
		checkCmd(),
		flushMailCmd(),
	)
	return root
}

// env is what every command needs: configuration, a logger and a migrated
// database.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *store.DB
}

func open(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := telemetry.NewLogger(os.Stderr, cfg.Debug)
	slog.SetDefault(logger)

	db, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, db: db}, nil
}

func (e *env) app() (*server.App, error) {
	return server.New(e.cfg, e.db, e.logger)
}
