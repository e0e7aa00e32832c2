// Package id generates sortable 128-bit message identifiers.
//
// IDs embed a millisecond timestamp in the high 8 bytes so that the natural
// byte ordering of IDs matches enqueue order, which the store relies on for
// index keys.
package id
