package engine

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// isUndefinedTable detects the schema-not-migrated-yet class of storage
// error. During a rolling deploy the code can land before the migration;
// the worker loop must back off hard instead of hot-looping.
func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
		return true
	}
	return strings.Contains(err.Error(), "does not exist")
}

// isDuplicateKey detects a unique-violation insert. EnsureScheduled treats
// it as losing a benign race, not an error.
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return strings.Contains(err.Error(), "duplicate key")
}
