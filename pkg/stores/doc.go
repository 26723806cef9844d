// Package stores provides the persistence layer for deployment state.
//
// The SQLite store keeps one row per deployment plus one row per step
// record, written together in a single transaction so a crash between
// steps can never leave the cursor and the step outcomes disagreeing.
// Resume and rollback both reload the full record from here.
package stores
