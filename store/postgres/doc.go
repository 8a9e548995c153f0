// Package postgres is the durable store for principals, credentials, second
// factors, password history, memberships and the audit log.
//
// It connects through the pgx stdlib driver and queries with sqlx. Schema
// changes ship as embedded SQL files applied by [Store.Migrate]. The
// audit_log table carries a trigger that rejects UPDATE and DELETE.
//
// Atomicity notes:
//   - RecordFailedAttempt increments and locks in a single UPDATE.
//   - AdvanceTOTPCounter and ConsumeBackupCode are conditional updates;
//     exactly one concurrent caller affects a row.
//   - AppendPasswordHash inserts and prunes under a transaction-scoped
//     advisory lock keyed by principal.
package postgres
