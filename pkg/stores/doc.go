// Package stores provides the run history layer. It includes
// SQLite-based storage with WAL mode, connection pooling, and CRUD
// operations for runs, per-slice step results, and events.
package stores
