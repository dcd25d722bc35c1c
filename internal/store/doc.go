// Package store defines the persistence contract shared by the crawler, the pattern bank
// and the CLI. Implementations live under internal/storage; this package must not import
// database drivers or concrete clients.
package store
