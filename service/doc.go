// Package service is the broker façade over order entry.
//
// BrokerService places, cancels and lists orders. It owns the factory
// registry, the order registry and the entity pool, and records each
// lifecycle event to an optional journal. Transports such as gRPC sit
// on top of it.
package service
