// Package preflight provides readiness checks for the filesystem paths and
// credentials voice2action depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll before starting the engine. A failed check is
//     logged with its detail and the daemon refuses to start.
//   - The CLI "config validate" and "auth status --probe" commands run
//     individual checks to display health.
//
// Checks that only apply to one inbox mode are skipped in the other.
package preflight
