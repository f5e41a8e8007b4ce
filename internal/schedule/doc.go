// Package schedule bridges at-least-once tick delivery to exactly one poll
// orchestration per tick.
//
// The Dispatcher records each handled message id under schedule_event:<id>
// and acknowledges redeliveries without starting anything. The Producer
// emits ticks on an interval, and on local inbox changes when a Watcher is
// attached, delivering them to the dispatcher in process.
package schedule
