// Command voice2action runs the voice inbox daemon and its operator tools.
//
// The daemon subcommand polls the inbox and processes recordings. The other
// subcommands talk to the daemon's HTTP API (tick) or read and repair the
// shared state store directly (auth, inbox, instances).
package main
