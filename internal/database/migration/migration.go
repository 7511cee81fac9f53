package migration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

type migrationStep struct {
	Name string
	SQL  string
}

// Encrypted-at-rest columns (first_name, medical_history, classification_result,
// scan_type) are stored as opaque TEXT; their plaintext constraints are enforced
// in the domain model and the repository codec, not in the schema.
var steps = []migrationStep{
	{
		Name: "create_extension_uuid_ossp",
		SQL:  `CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	},
	{
		Name: "create_table_patients",
		SQL: `CREATE TABLE IF NOT EXISTS patients (
  id                    UUID        PRIMARY KEY DEFAULT uuid_generate_v4(),
  first_name            TEXT        NOT NULL,
  last_name             TEXT        NOT NULL,
  age                   INT         NOT NULL CHECK (age >= 0 AND age <= 150),
  phone                 TEXT        NOT NULL CHECK (phone ~ '^\d{10}$'),
  gender                TEXT        NOT NULL DEFAULT '',
  medical_history       TEXT        NOT NULL DEFAULT '',
  appointment_date      TIMESTAMPTZ,
  appointment_time      TEXT        NOT NULL DEFAULT '',
  scan_type             TEXT        NOT NULL,
  has_scan              BOOLEAN     NOT NULL DEFAULT FALSE,
  scan_filename         TEXT        NOT NULL DEFAULT '',
  scan_content_type     TEXT        NOT NULL DEFAULT '',
  scan_size             BIGINT      NOT NULL DEFAULT 0 CHECK (scan_size >= 0),
  scan_uploaded_at      TIMESTAMPTZ,
  classification_result TEXT        NOT NULL,
  confidence_score      DOUBLE PRECISION CHECK (confidence_score >= 0 AND confidence_score <= 1),
  created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_index_patients_phone",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_patients_phone ON patients (phone);`,
	},
	{
		Name: "create_index_patients_login",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_patients_login ON patients (lower(last_name), phone);`,
	},
	{
		Name: "create_index_patients_created_at",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_patients_created_at ON patients (created_at);`,
	},
}

// EnsureMigrated checks if the 'patients' table exists and runs migrations if it doesn't.
func EnsureMigrated(ctx context.Context, db *sql.DB, loc *time.Location, dbHost string) error {
	start := time.Now()

	logJSON(loc, map[string]any{
		"component": "database",
		"event":     "db_migration_check",
		"status":    "starting",
		"db_host":   dbHost,
	})

	var exists bool
	query := "SELECT to_regclass('public.patients') IS NOT NULL"
	err := db.QueryRowContext(ctx, query).Scan(&exists)
	if err != nil {
		logJSON(loc, map[string]any{
			"component":     "database",
			"event":         "db_migration_failed",
			"status":        "error",
			"error_message": fmt.Sprintf("failed to check sentinel table: %v", err),
			"db_host":       dbHost,
			"duration_ms":   time.Since(start).Milliseconds(),
		})
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		logJSON(loc, map[string]any{
			"component":   "database",
			"event":       "db_migration_skip",
			"status":      "success",
			"msg":         "schema already exists, skipping migration",
			"db_host":     dbHost,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return nil
	}

	for _, step := range steps {
		stepStart := time.Now()
		_, err := db.ExecContext(ctx, step.SQL)
		if err != nil {
			logJSON(loc, map[string]any{
				"component":        "database",
				"event":            "db_migration_failed",
				"status":           "error",
				"migration_step":   step.Name,
				"error_message":    err.Error(),
				"db_host":          dbHost,
				"duration_ms":      time.Since(start).Milliseconds(),
				"step_duration_ms": time.Since(stepStart).Milliseconds(),
			})
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		logJSON(loc, map[string]any{
			"component":        "database",
			"event":            "db_migration_step",
			"status":           "success",
			"migration_step":   step.Name,
			"db_host":          dbHost,
			"step_duration_ms": time.Since(stepStart).Milliseconds(),
		})
	}

	logJSON(loc, map[string]any{
		"component":   "database",
		"event":       "db_migration_success",
		"status":      "success",
		"db_host":     dbHost,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return nil
}

func logJSON(loc *time.Location, data map[string]any) {
	data["ts"] = time.Now().In(loc).Format(time.RFC3339Nano)
	if _, ok := data["level"]; !ok {
		if data["status"] == "error" {
			data["level"] = "error"
		} else {
			data["level"] = "info"
		}
	}

	b, err := json.Marshal(data)
	if err != nil {
		log.Printf("failed to marshal migration log: %v", err)
		return
	}
	log.SetFlags(0)
	log.Println(string(b))
}
