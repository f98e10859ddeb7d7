// Package scheduler runs named recurring tasks aligned to wall-clock boundaries.
//
// An interval task with period I first fires at the next epoch instant that is
// an exact multiple of I and then every I after that. Cron tasks fire at the
// instants produced by their robfig/cron schedule. Every tick runs the task's
// action in its own goroutine behind a recover() boundary; failures are logged
// and counted but never stop later ticks.
//
// The scheduler does not retry and does not serialize: if an action is still
// running when its next tick is due, a second invocation starts anyway.
package scheduler
