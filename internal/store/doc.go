// Package store declares the persistence contracts for run history and page
// fingerprints. Implementations live under internal/storage; this package
// must not import database drivers or concrete clients.
package store
