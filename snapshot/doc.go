// Package snapshot exports the resting book to a self-contained gob file.
// Snapshots are an operator and audit aid: recovery always reads the store,
// never a snapshot.
package snapshot
