// Package upgrade drives a WireGuard package upgrade on the device.
//
// Coordinator runs the workflow in order: guard, probe, resolve, select,
// fetch, configuration snapshot and detach, module unload, install,
// configuration restore and first-boot persistence. Each step runs only when
// the previous one succeeded; the first fatal error stops the run. The scratch
// directory is removed exactly once on every exit path.
//
// Run, Check and LastRun wire the coordinator to the real device collaborators
// and are the entry points used by the CLI.
package upgrade
