package main

import (
	"errors"
	"flag"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"gitlab.com/dirk.krummacker/message-relay/internal/config"
	"gitlab.com/dirk.krummacker/message-relay/internal/directory"
	"gitlab.com/dirk.krummacker/message-relay/internal/logging"
	"gitlab.com/dirk.krummacker/message-relay/internal/migrations"
)

// Usage example on the command line:
// > RELAY_DB_HOST=localhost RELAY_DB_USER=relay RELAY_DB_PASSWORD=secret go run main.go
// > RELAY_DB_HOST=localhost RELAY_DB_USER=relay RELAY_DB_PASSWORD=secret go run main.go -down=1
func main() {
	_ = godotenv.Load()

	down := flag.Int("down", 0, "the number of migrations to roll back instead of migrating up")
	configFile := flag.String("config", "", "config file path (optional)")
	flag.Parse()

	v := config.New()
	if err := config.ReadFile(v, *configFile); err != nil {
		fail(slog.Default(), err)
	}
	logger, err := logging.New(os.Stderr, logging.Config{
		Level:  v.GetString("log.level"),
		Format: v.GetString("log.format"),
	})
	if err != nil {
		fail(slog.Default(), err)
	}

	// Only the database settings are needed, so the full config is not validated.
	cfg := directory.Config{
		Host:     v.GetString("db.host"),
		User:     v.GetString("db.user"),
		Password: v.GetString("db.password"),
		Name:     v.GetString("db.name"),
	}
	if cfg.Host == "" {
		fail(logger, errNoDatabase)
	}
	db, err := directory.Open(cfg)
	if err != nil {
		fail(logger, err)
	}
	defer db.Close()

	if *down > 0 {
		err = migrations.Down(db, *down, logger)
	} else {
		err = migrations.Up(db, logger)
	}
	if err != nil {
		db.Close()
		fail(logger, err)
	}
}

var errNoDatabase = errors.New("db.host is not set")

func fail(logger *slog.Logger, err error) {
	logger.Error("migration failed", "error", err)
	os.Exit(1)
}
