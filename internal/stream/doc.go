// Package stream implements the message store: an append-only, partitioned,
// Pebble-backed log per queue with consumer-group semantics.
//
// Consumers in a group compete for entries; each entry is delivered to
// exactly one member per group and stays hidden from the rest of the group
// until its visibility timeout elapses or it is acknowledged. Delivery is
// at-least-once: expired claims return via the redelivery index with an
// incremented delivery count. Delayed messages live in a dedicated index and
// enter the log only once due.
package stream
