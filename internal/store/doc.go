// Package store declares the run repository used to keep an observability
// record of import batches. Implementations live in internal/storage; this
// package must not import database drivers.
package store
