// Package tender defines the records, run outcomes and capability interfaces
// shared by the supervisor, the keyword matcher, the record store and the
// notification selector.
package tender
