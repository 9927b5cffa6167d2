package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	`CREATE TABLE IF NOT EXISTS searches (
		id                UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		target_plate      TEXT NOT NULL,
		threshold         NUMERIC(4,3) NOT NULL,
		variations        JSONB NOT NULL DEFAULT '[]'::jsonb,
		status            TEXT NOT NULL DEFAULT 'RUNNING',
		total             INT NOT NULL DEFAULT 0,
		frames_read       INT NOT NULL DEFAULT 0,
		frames_evaluated  INT NOT NULL DEFAULT 0,
		error_message     TEXT,
		started_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		finished_at       TIMESTAMPTZ,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_searches_target_plate ON searches(target_plate);`,
	`CREATE INDEX IF NOT EXISTS idx_searches_started_at ON searches(started_at);`,
	`CREATE TABLE IF NOT EXISTS search_detections (
		id                BIGSERIAL PRIMARY KEY,
		search_id         UUID NOT NULL REFERENCES searches(id) ON DELETE CASCADE,
		frame             INT NOT NULL,
		box_x1            INT NOT NULL,
		box_y1            INT NOT NULL,
		box_x2            INT NOT NULL,
		box_y2            INT NOT NULL,
		raw_text          TEXT NOT NULL,
		cleaned_text      TEXT NOT NULL,
		matched_variation TEXT NOT NULL,
		similarity        NUMERIC(5,4) NOT NULL,
		confidence        NUMERIC(5,4) NOT NULL,
		frame_ref         TEXT,
		crop_ref          TEXT,
		detected_at       TIMESTAMPTZ NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_search_detections_search_id ON search_detections(search_id, frame);`,
	`CREATE INDEX IF NOT EXISTS idx_search_detections_cleaned_text ON search_detections(cleaned_text);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
