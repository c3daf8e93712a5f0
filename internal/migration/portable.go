package migration

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// portableTables is the schema for engines without golang-migrate wiring
// (sqlite for tests and local runs, mysql). Uniqueness lives inline so the
// statements stay valid on both.
var portableTables = []string{
	`CREATE TABLE IF NOT EXISTS courses (
		id BIGINT PRIMARY KEY,
		educator_id VARCHAR(64) NOT NULL,
		title VARCHAR(255) NOT NULL,
		slug VARCHAR(255) NOT NULL DEFAULT '',
		price DECIMAL(12,2) NOT NULL,
		discount DECIMAL(5,2) NOT NULL DEFAULT 0,
		currency VARCHAR(3) NOT NULL,
		published BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS learners (
		id VARCHAR(64) PRIMARY KEY,
		email VARCHAR(320) NOT NULL DEFAULT '',
		name VARCHAR(255) NOT NULL DEFAULT '',
		image_url VARCHAR(1024) NOT NULL DEFAULT '',
		role VARCHAR(32) NOT NULL DEFAULT 'learner',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME NULL
	)`,
	`CREATE TABLE IF NOT EXISTS purchases (
		id BIGINT PRIMARY KEY,
		learner_id VARCHAR(64) NOT NULL,
		course_id BIGINT NOT NULL,
		amount BIGINT NOT NULL,
		currency VARCHAR(3) NOT NULL,
		status VARCHAR(16) NOT NULL,
		provider VARCHAR(32) NOT NULL,
		correlation_token VARCHAR(255) NOT NULL,
		checkout_url VARCHAR(2048) NOT NULL DEFAULT '',
		failure_reason VARCHAR(1024) NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		completed_at DATETIME NULL,
		failed_at DATETIME NULL,
		expired_at DATETIME NULL,
		last_swept_at DATETIME NULL,
		UNIQUE (correlation_token)
	)`,
	`CREATE TABLE IF NOT EXISTS purchase_transitions (
		id BIGINT PRIMARY KEY,
		purchase_id BIGINT NOT NULL,
		from_status VARCHAR(16) NOT NULL,
		to_status VARCHAR(16) NOT NULL,
		source VARCHAR(16) NOT NULL,
		event_id VARCHAR(255) NOT NULL DEFAULT '',
		metadata TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS learner_enrollments (
		learner_id VARCHAR(64) NOT NULL,
		course_id BIGINT NOT NULL,
		purchase_id BIGINT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (learner_id, course_id)
	)`,
	`CREATE TABLE IF NOT EXISTS course_rosters (
		course_id BIGINT NOT NULL,
		learner_id VARCHAR(64) NOT NULL,
		purchase_id BIGINT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (course_id, learner_id)
	)`,
}

// sqliteIndexes mirror the postgres indexes, including the partial unique
// index on open purchases.
var sqliteIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_purchases_status_updated ON purchases (status, updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_purchases_learner_course_status ON purchases (learner_id, course_id, status)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_purchases_open_pair ON purchases (learner_id, course_id) WHERE status IN ('pending', 'completed')`,
	`CREATE INDEX IF NOT EXISTS idx_purchase_transitions_purchase ON purchase_transitions (purchase_id, created_at)`,
}

// ApplyPortableSchema creates the tables on sqlite or mysql.
func ApplyPortableSchema(ctx context.Context, db *gorm.DB) error {
	conn := db.WithContext(ctx)
	for _, stmt := range portableTables {
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if db.Dialector.Name() != "sqlite" {
		return nil
	}
	for _, stmt := range sqliteIndexes {
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply index: %w", err)
		}
	}
	return nil
}
