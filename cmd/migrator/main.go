// Command migrator applies the gateway's schema migrations from
// db/migrations. It reads the same DB_* environment variables as the
// server, so it can run in the same container.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

func main() {
	up := flag.Bool("up", false, "apply all pending migrations")
	down := flag.Bool("down", false, "roll back all migrations")
	steps := flag.Int("steps", 0, "apply +/- N migrations")
	source := flag.String("source", "file://db/migrations", "migration source URL")
	flag.Parse()

	host := os.Getenv("DB_HOST")
	if host == "" {
		host = "localhost"
	}
	port := os.Getenv("DB_PORT")
	if port == "" {
		port = "5432"
	}
	sslmode := os.Getenv("DB_SSLMODE")
	if sslmode == "" {
		sslmode = "disable"
	}
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"), host, port, os.Getenv("DB_NAME"), sslmode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("[ERROR] Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("[ERROR] Failed to ping database: %v", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatalf("[ERROR] Failed to create migrate driver: %v", err)
	}
	m, err := migrate.NewWithDatabaseInstance(*source, "postgres", driver)
	if err != nil {
		log.Fatalf("[ERROR] Failed to initialize migrate: %v", err)
	}

	start := time.Now()
	switch {
	case *up:
		log.Println("[INFO] Applying migrations...")
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("[ERROR] Migration up failed: %v", err)
		}
	case *down:
		log.Println("[INFO] Rolling back all migrations...")
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("[ERROR] Migration down failed: %v", err)
		}
	case *steps != 0:
		log.Printf("[INFO] Applying %d migration step(s)...", *steps)
		if err := m.Steps(*steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("[ERROR] Migration steps failed: %v", err)
		}
	default:
		version, dirty, err := m.Version()
		if err != nil {
			log.Println("[INFO] No migration version recorded (empty database?)")
		} else {
			log.Printf("[INFO] Current version: %d, dirty: %v", version, dirty)
		}
		log.Println("[INFO] No command specified. Use -up, -down, or -steps.")
		return
	}
	log.Printf("[INFO] Done in %v", time.Since(start))
}
