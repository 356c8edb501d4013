package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/joao-fontenele/threadline/internal/config"
)

const usage = "usage: migrate <up|down|version|force N>"

func main() {
	config.LoadDotEnv()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		logger.Error(usage)
		os.Exit(1)
	}

	postgresURL := config.MustGetenv(logger, "POSTGRES_URL")
	migrationsPath := config.Getenv("MIGRATIONS_PATH", "file://migrations")

	m, err := migrate.New(migrationsPath, postgresURL)
	if err != nil {
		logger.Error("failed to create migrate instance", slog.String("error", err.Error()))
		os.Exit(1)
	}

	err = run(m, args, logger)
	if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
		logger.Warn("failed to close migrate instance", slog.Any("source_error", srcErr), slog.Any("database_error", dbErr))
	}
	if err != nil {
		logger.Error("migrate failed", slog.String("command", args[0]), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(m *migrate.Migrate, args []string, logger *slog.Logger) error {
	switch args[0] {
	case "up":
		if err := m.Up(); errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no pending migrations")
		} else if err != nil {
			return err
		} else {
			logger.Info("migrations applied")
		}

	case "down":
		if err := m.Steps(-1); errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no migrations to roll back")
		} else if err != nil {
			return err
		} else {
			logger.Info("last migration rolled back")
		}

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			logger.Info("no migrations applied yet")
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("current migration version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))

	case "force":
		if len(args) < 2 {
			return errors.New(usage)
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q", args[1])
		}
		if err := m.Force(version); err != nil {
			return err
		}
		logger.Info("migration version forced", slog.Int("version", version))

	default:
		return fmt.Errorf("unknown command %q, %s", args[0], usage)
	}
	return nil
}
