package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/aspis-finance/treasury/admin/internal/admin"
	"github.com/aspis-finance/treasury/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	// PostgreSQL configuration
	pgHostFlag := flag.String("pg-host", "localhost", "PostgreSQL host (or set POSTGRES_HOST env var)")
	pgPortFlag := flag.String("pg-port", "5432", "PostgreSQL port (or set POSTGRES_PORT env var)")
	pgDatabaseFlag := flag.String("pg-database", "treasury", "PostgreSQL database name (or set POSTGRES_DB env var)")
	pgUsernameFlag := flag.String("pg-username", "treasury", "PostgreSQL username (or set POSTGRES_USER env var)")
	pgPasswordFlag := flag.String("pg-password", "", "PostgreSQL password (or set POSTGRES_PASSWORD env var)")
	pgSSLModeFlag := flag.String("pg-sslmode", "disable", "PostgreSQL sslmode (or set POSTGRES_SSLMODE env var)")

	// Commands
	pgMigrateFlag := flag.Bool("pg-migrate", false, "Run all pending PostgreSQL migrations using goose")
	pgMigrateDownFlag := flag.Bool("pg-migrate-down", false, "Roll back the last PostgreSQL migration")
	pgMigrateStatusFlag := flag.Bool("pg-migrate-status", false, "Show PostgreSQL migration status")
	resetDBFlag := flag.Bool("reset-db", false, "Drop all tables from the database")
	dryRunFlag := flag.Bool("dry-run", false, "Dry run mode - show what would be done without actually executing")
	yesFlag := flag.Bool("yes", false, "Skip confirmation prompt (use with caution)")

	flag.Parse()

	log := logger.New(*verboseFlag)

	// Override PostgreSQL flags with environment variables if set
	if envHost := os.Getenv("POSTGRES_HOST"); envHost != "" {
		*pgHostFlag = envHost
	}
	if envPort := os.Getenv("POSTGRES_PORT"); envPort != "" {
		*pgPortFlag = envPort
	}
	if envDatabase := os.Getenv("POSTGRES_DB"); envDatabase != "" {
		*pgDatabaseFlag = envDatabase
	}
	if envUsername := os.Getenv("POSTGRES_USER"); envUsername != "" {
		*pgUsernameFlag = envUsername
	}
	if envPassword := os.Getenv("POSTGRES_PASSWORD"); envPassword != "" {
		*pgPasswordFlag = envPassword
	}
	if envSSLMode := os.Getenv("POSTGRES_SSLMODE"); envSSLMode != "" {
		*pgSSLModeFlag = envSSLMode
	}

	cfg := admin.PgMigrateConfig{
		Host:     *pgHostFlag,
		Port:     *pgPortFlag,
		Database: *pgDatabaseFlag,
		Username: *pgUsernameFlag,
		Password: *pgPasswordFlag,
		SSLMode:  *pgSSLModeFlag,
	}

	switch {
	case *pgMigrateFlag:
		return admin.PgMigrateUp(log, cfg)
	case *pgMigrateDownFlag:
		return admin.PgMigrateDown(log, cfg)
	case *pgMigrateStatusFlag:
		return admin.PgMigrateStatus(log, cfg)
	case *resetDBFlag:
		return admin.ResetDB(log, cfg, *dryRunFlag, *yesFlag)
	}

	flag.Usage()
	return nil
}
