package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/xuecangming/transfer-queue/internal/common/types"
)

// ConnString builds a lib/pq connection string
func ConnString(config types.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		config.Host,
		config.Port,
		config.User,
		config.Password,
		config.Name,
	)
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(config types.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", ConnString(config))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	maxConns := config.MaxConnections
	if maxConns < 1 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns((maxConns + 1) / 2)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// RunMigrations runs database migrations
func RunMigrations(db *sql.DB) error {
	migrations := []string{
		createTransferHistoryTable,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

const createTransferHistoryTable = `
CREATE TABLE IF NOT EXISTS transfer_history (
    id              BIGSERIAL PRIMARY KEY,
    operation_id    VARCHAR(64) NOT NULL,
    type            VARCHAR(16) NOT NULL,
    source_path     TEXT NOT NULL,
    target_path     TEXT,
    status          VARCHAR(16) NOT NULL,
    priority        VARCHAR(16) NOT NULL,

    total_bytes     BIGINT DEFAULT 0,
    processed_bytes BIGINT DEFAULT 0,
    total_files     INT DEFAULT 0,
    processed_files INT DEFAULT 0,

    retry_count     INT DEFAULT 0,
    error_message   TEXT,

    created_at      TIMESTAMP NOT NULL,
    finished_at     TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transfer_history_operation ON transfer_history(operation_id);
CREATE INDEX IF NOT EXISTS idx_transfer_history_finished ON transfer_history(finished_at DESC);
`
