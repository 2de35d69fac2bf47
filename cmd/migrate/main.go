// Command migrate applies or rolls back the booking schema.
//
//	migrate up
//	migrate down
//	migrate to 1
//	migrate version
package main

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"

	"ms-booking/internal/config"
	"ms-booking/internal/database/migrations"
	"ms-booking/internal/logger"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logger.New(logger.Options{Service: "booking-migrate", Level: logger.ParseLevel(cfg.Log.Level), Color: cfg.Log.Color})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	if len(os.Args) < 2 {
		log.Fatal("MIGRATE", "usage: migrate up|down|to <version>|version")
	}

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal("MIGRATE", fmt.Sprintf("Failed to open database: %v", err))
	}
	if err := sqldb.Ping(); err != nil {
		log.Fatal("MIGRATE", fmt.Sprintf("Failed to connect to database: %v", err))
	}

	runner := migrations.NewRunner(sqldb, log)
	defer runner.Close()

	switch os.Args[1] {
	case "up":
		err = runner.MigrateUp()
	case "down":
		err = runner.MigrateDown()
	case "to":
		if len(os.Args) < 3 {
			log.Fatal("MIGRATE", "usage: migrate to <version>")
		}
		var version uint64
		version, err = strconv.ParseUint(os.Args[2], 10, 32)
		if err == nil {
			err = runner.MigrateTo(uint(version))
		}
	case "version":
		var (
			version uint
			dirty   bool
		)
		version, dirty, err = runner.Version()
		if err == nil {
			log.Info("MIGRATE", fmt.Sprintf("schema version %d (dirty=%t)", version, dirty))
		}
	default:
		log.Fatal("MIGRATE", fmt.Sprintf("unknown command %q", os.Args[1]))
	}

	if err != nil {
		log.Error("MIGRATE", err.Error())
		runner.Close()
		os.Exit(1)
	}
	log.Info("MIGRATE", fmt.Sprintf("✅ %s complete", os.Args[1]))
}
