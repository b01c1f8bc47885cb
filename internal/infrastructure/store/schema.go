package store

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Statements returns the DDL statements for driver in file order.
func Statements(driver string) ([]string, error) {
	b, err := schemaFS.ReadFile("schema/" + driver + ".sql")
	if err != nil {
		return nil, fmt.Errorf("no schema for driver %q: %w", driver, err)
	}
	var stmts []string
	for _, s := range strings.Split(string(b), ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts, nil
}

// Migrate creates every table idempotently.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	stmts, err := Statements(db.DriverName())
	if err != nil {
		return err
	}
	return withTx(ctx, db, nil, func(tx *sqlx.Tx) error {
		for _, s := range stmts {
			if _, err := tx.ExecContext(ctx, s); err != nil {
				return fmt.Errorf("exec %q: %w", firstLine(s), err)
			}
		}
		return nil
	})
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
