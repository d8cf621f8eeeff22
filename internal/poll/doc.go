// Package poll implements the live chat poll engine: ingest deduplication,
// message classification, decaying per-category counters, the poll lifecycle
// state machine, and the always-on sentiment aggregation.
package poll
