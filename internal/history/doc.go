// Package history persists finished apply attempts in SQLite so operators can
// see what happened while nobody was watching the log. Only the most recent
// attempts are kept.
package history
