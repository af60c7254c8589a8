// Package outbox stores order events until they have been published.
// It is a pebble-backed KV keyed by event sequence; each record moves
// NEW -> SENT -> ACKED, or to FAILED and back to SENT on retry. Entries
// still SENT when the outbox is opened were interrupted mid-publish and
// go back to NEW. A high water mark outlives purges so sequences are
// never reused.
//
// The outbox only feeds the broadcaster. The order registry is never
// rebuilt from it.
package outbox
