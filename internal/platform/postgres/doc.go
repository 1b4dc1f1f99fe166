// Package postgres implements store.TaskStore on PostgreSQL through the pgx
// database/sql driver. Migrations are embedded and applied with goose.
//
// Status changes are conditional updates on the expected current status, so
// concurrent writers never overwrite each other; the loser gets
// store.ErrStatusMismatch.
package postgres
