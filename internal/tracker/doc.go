// Package tracker records per-file processing markers so overlapping poll
// cycles never dispatch the same recording twice.
//
// Each file has two independent keys in the state store: a pending marker set
// before its pipeline is started, and a downloaded marker set once the fetch
// step completes. A file carrying either marker is excluded from FilterNew.
// Markers are never cleared on failure; Reset is the operator path for
// reprocessing a stuck file.
package tracker
