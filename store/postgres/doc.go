// Package postgres implements the store using pgx/v5 with raw SQL.
// Conditional state changes are single UPDATE statements guarded by the
// expected state, so concurrent replicas race safely on one row. Lock
// rows are taken with INSERT ... ON CONFLICT so an expired row is taken
// over in the same statement.
package postgres
