// Package store defines the persistence contract for tenders, run history and
// notification history. Implementations live in the sqlite, postgres and
// memory subpackages; this package must not import database drivers.
package store
