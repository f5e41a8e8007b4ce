// Package inbox lists, fetches, and archives voice recordings.
//
// Two providers implement the same capability set: GraphProvider talks to a
// Microsoft Graph drive using bearer tokens from the credentials package, and
// LocalProvider works on a directory. A deployment selects one by
// configuration and never mixes them within a run.
//
// Providers only apply the audio allow-list. They know nothing about
// processing state; the tracker package filters already pending or
// downloaded files one layer up.
package inbox
