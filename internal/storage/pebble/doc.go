// Package pebblestore wraps cockroachdb/pebble with the fsync policy and
// batch helpers shared by the message store and the audit log.
package pebblestore
