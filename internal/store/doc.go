// Package store provides SQLite-backed durable storage for the ledger,
// metrics, event log, achievements, goals and installment plans.
//
// # Tables
//
//   - ledger_entries: one row per subscription id (UNIQUE), fingerprint indexed
//   - subscription_metrics: last computed metrics per subscription
//   - events: append-only domain event log
//   - audit_log: duplicate exclusions and state transitions
//   - achievements: UNIQUE dedupe_key resolves concurrent creators
//   - installment_plans / installment_payments: UNIQUE subscription_id and
//     UNIQUE(plan_id, payment_number)
//   - sales_goals, goal_progress, lead_daily_stats: sub-job caches
//   - checkpoints: poller cursors (see internal/checkpoint)
//
// # Time
//
// Instants are stored as INTEGER unix milliseconds (UTC) so range
// comparisons are numeric. Civil dates (due dates, tolerance, day buckets)
// are TEXT in YYYY-MM-DD form, which orders lexicographically.
//
// # Transactions
//
// The database is opened with a single connection. Inside WithTx every
// statement must go through the *Tx; touching the *Store from inside the
// callback waits on the connection held by the transaction.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Schema changes are goose migrations embedded from migrations/.
package store
