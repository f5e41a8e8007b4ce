// Package durable is a small replay-based orchestration engine backed by the
// state store.
//
// An orchestrator is plain Go coordination code that performs every effect
// through OrchestrationContext.CallActivity or StartChild. Each completed call
// is appended to the instance history and persisted before the orchestrator
// continues. When an instance resumes after a restart the orchestrator runs
// again from the top and recorded calls return their stored results without
// re-executing, so orchestrators must issue the same sequence of calls for the
// same history and must not read the clock or other ambient state.
//
// Instances are keyed by caller supplied ids; scheduling an id that already
// exists is a no-op, which makes child spawning and tick dispatch idempotent.
package durable
