// Package storage persists market snapshots, sentiment results and scraped
// news, and prunes them to the most recent K records per ticker.
//
// Drivers:
//   - sqlite: single-file database (modernc.org/sqlite, no cgo)
//   - postgres: lib/pq
//   - file: JSON Lines per collection, rewritten on prune
package storage
