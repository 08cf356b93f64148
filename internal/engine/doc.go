// Package engine coordinates snippet executions. For each request it
// resolves a runtime, waits for a slot in the bounded admission pool,
// provisions a workspace, supervises the runtime process and assembles the
// result. Every exit path runs the same cleanup stage, which disposes the
// workspace and releases the slot.
//
// Executions are recorded in an optional history store and their output
// lines are published to a LogBroker for live subscribers.
package engine
