package db

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var Schema string

// ApplySchema creates the booking tables in the first schema on the
// connection's search_path. Every statement is idempotent.
func ApplySchema(ctx context.Context, q DBTX) error {
	if _, err := q.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
