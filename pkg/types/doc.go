/*
Package types defines the core data structures shared across Council.

Council coordinates per-change-set dependency graphs submitted by
workers over the message bus. This package defines the identifiers and
wire-adjacent value types that every other package builds on: opaque
128-bit ids for change sets and nodes, the reply-channel handle a
worker is addressed by, and the plain dependency graph shape a worker
submits.

# Core Types

  - Id: a 128-bit identifier (backed by a UUID) used for both change
    sets and attribute-value nodes. Equality and hashing only — it
    carries no other behavior.
  - ReplyChannel: an opaque string naming a worker's mailbox on the
    message bus.
  - Graph: a node-id -> dependency-id-list map, exactly as submitted by
    a worker. Immutable once received.

These types intentionally carry no business logic; the coordination
rules live in pkg/council.
*/
package types
