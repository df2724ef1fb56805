// Command seed-admin creates the initial administrator account so a fresh
// deployment can log in. It is idempotent: if the username already exists
// the row is left untouched.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/technosupport/ts-lpr/internal/auth"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	dbHost := envOr("DB_HOST", "localhost")
	dbPort := envOr("DB_PORT", "5432")
	dbUser := envOr("DB_USER", "postgres")
	dbPass := envOr("DB_PASSWORD", "ts1234")
	dbName := envOr("DB_NAME", "ts_lpr")

	username := envOr("ADMIN_USERNAME", "admin")
	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		log.Fatal("[ERROR] ADMIN_PASSWORD must be set")
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", dbUser, dbPass, dbHost, dbPort, dbName)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("[ERROR] open database: %v", err)
	}
	defer db.Close()

	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("[ERROR] hash password: %v", err)
	}

	res, err := db.Exec(`
		INSERT INTO users (username, password_hash, first_name, last_name, is_admin)
		VALUES ($1, $2, 'System', 'Admin', TRUE)
		ON CONFLICT (username) DO NOTHING`, username, hash)
	if err != nil {
		log.Fatalf("[ERROR] insert admin user: %v", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		fmt.Printf("User %q already exists, nothing to do.\n", username)
		return
	}
	fmt.Printf("SUCCESS: admin user %q created.\n", username)
}
