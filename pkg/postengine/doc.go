// Package postengine provides the content ingestion and revision engine for
// user-submitted media posts: binary-format sniffing, content-addressable
// deduplication, partial-update edits under optimistic concurrency, and
// append-only audit snapshots for every committed mutation.
//
// It exposes a single Service interface that orchestrates post creation,
// update, deletion, featuring, and the derived global counters. Persistence,
// tag lifecycle, identity, outbound fetching and transaction demarcation are
// injected as interface values at construction; implementations of the
// stores (memory, Postgres) are provided under subpackages.
//
// Concurrency Model
//
// Every public operation runs as one logical transaction through the
// injected TransactionBoundary. Correctness under concurrent edits relies
// solely on the optimistic token check against Post.LastEditTime; the engine
// takes no row locks of its own.
package postengine
