package database

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql"
)

// CreateGINIndexes creates full-text search GIN indexes not expressed by the
// ent schema. These enable efficient search over persisted interaction
// content from the admin trace surface.
func CreateGINIndexes(ctx context.Context, driver *sql.Driver) error {
	db := driver.DB()

	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_interactions_content_gin
		ON interactions USING gin(to_tsvector('english', COALESCE(content::text, '')))`)
	if err != nil {
		return fmt.Errorf("failed to create interactions content GIN index: %w", err)
	}

	return nil
}
