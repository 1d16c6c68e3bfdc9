// Package sqlite provides a unified SQLite-based implementation of the storage ports.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO. It implements multiple store interfaces through a single database connection:
//
//   - DocumentStore: Document persistence
//   - ControlStore: Control persistence
//   - CellStore: One row per current cell keyed by (document, control), one row per
//     superseded cell in cell_history
//   - ExtractionStore: One cache row per (document, version)
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
// Timestamps are stored as Unix nanoseconds, 0 meaning unset.
//
// # Data Location
//
// By default, the database is stored at ~/.tally/data/tally.db
//
// # Thread Safety
//
// All operations are thread-safe. Cell writes are additionally serialised
// in-process so that state changes are compare-and-set per cell key.
package sqlite
