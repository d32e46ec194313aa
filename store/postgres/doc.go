// Package postgres implements the herald stores on PostgreSQL using
// pgx/v5. The digest window contract is enforced in SQL: a partial
// unique index allows at most one delayed owner per window tuple, and
// merges are conditional jsonb appends guarded by the delayed status.
package postgres
