// Command initdb creates the bot's schema. Run it once against a fresh
// database; every statement is idempotent so re-running is safe.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id         BIGINT PRIMARY KEY,
		credits         INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
		free_used       INTEGER NOT NULL DEFAULT 0 CHECK (free_used >= 0),
		last_reset      DATE NOT NULL DEFAULT CURRENT_DATE,
		total_generated INTEGER NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS generations (
		id            BIGSERIAL PRIMARY KEY,
		user_id       BIGINT NOT NULL REFERENCES users(user_id),
		prompt        TEXT NOT NULL,
		status        TEXT NOT NULL,
		job_handle    TEXT,
		debit_kind    TEXT NOT NULL,
		error_message TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		submitted_at  TIMESTAMPTZ,
		completed_at  TIMESTAMPTZ,
		refunded_at   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_generations_user_id ON generations (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_generations_status ON generations (status)
		WHERE status IN ('queued', 'submitted', 'polling')`,
}

func main() {
	var timeoutFlag int
	flag.IntVar(&timeoutFlag, "timeout", 15, "per-statement timeout in seconds")
	flag.Parse()

	_ = godotenv.Load()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("open database: %w", err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutFlag)*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		exitWithError(fmt.Errorf("ping database: %w", err))
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			exitWithError(fmt.Errorf("apply schema: %w", err))
		}
	}
	fmt.Println("schema ready")
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
