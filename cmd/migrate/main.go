package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"socialhub/internal/migrations"
	"socialhub/internal/security"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

func main() {
	dbPath := flag.String("db", "data/tokens.db", "Path to the sqlite token store")
	dir := flag.String("dir", "", "Migrations directory (defaults to scripts/migrations or the embedded set)")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if *dir != "" {
		migrations.MigrationsDir = *dir
	}
	if err := run(*dbPath, logger); err != nil {
		logger.WithError(err).Fatal("Migration failed")
	}
}

func run(dbPath string, logger *logrus.Logger) error {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return fmt.Errorf("invalid database path: %w", err)
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return fmt.Errorf("database file not found: %s", dbPath)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// schema_migrations may not exist yet
	before, _ := migrations.Applied(ctx, db)
	if err := migrations.RunMigrations(ctx, db); err != nil {
		return err
	}
	after, err := migrations.Applied(ctx, db)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"db":      dbPath,
		"applied": len(after) - len(before),
		"total":   len(after),
	}).Info("Token store schema is up to date")
	return nil
}
