// Package memory recycles order entities. The broker allocates orders
// from a Pool and the registry gives them back when they are released,
// so the pool is also the place to check that nothing leaks.
package memory
