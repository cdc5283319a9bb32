// Package archive persists readings to SQL and answers time-window queries.
//
// The schema lives in the top-level migrations package. Timestamps are
// stored as Unix seconds and returned in the store's configured location.
package archive
