// Package service is the only write entry point of a node. It owns the
// pending batch, the matching engine and the ledgers, and turns every batch
// or cancellation into exactly one synced store commit.
//
// It knows nothing about transports; jobs/ingest and cmd/clobd drive it.
package service
