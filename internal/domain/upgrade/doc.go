// Package upgrade defines the failure taxonomy and the outcome of an upgrade run.
//
// Every fatal failure is a *StageError: it names the workflow stage, the
// failure kind (one of the Err* sentinels), the exit status of the external
// command when there was one and the source location that raised it.
package upgrade
