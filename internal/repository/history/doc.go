// Package history implements the append-only transition store.
//
// Repository is the persistence port used by the writer and the query API.
// Three backends are available: PostgreSQL through pgxpool, SQLite through
// modernc.org/sqlite and an in-process memory store. SQL schemas are managed
// with embedded goose migrations.
//
// Writer sits in front of a Repository and gives every station its own
// single-writer queue so the ingestion path never waits on the database.
package history
