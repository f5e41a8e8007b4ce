// Package pipeline defines the voice inbox orchestrations and the activities
// they call.
//
// The poll orchestrator runs once per tick: it lists the inbox, drops files
// the tracker already knows, and for each remaining file records the pending
// marker before spawning a per-file orchestrator. The per-file orchestrator
// fetches the recording, marks it downloaded, transcribes it, publishes the
// intent, and archives the source. Markers are not rolled back when a file
// fails; an operator clears them with the inbox reset command.
package pipeline
