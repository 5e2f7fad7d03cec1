// Package procs inspects the process table to keep runs exclusive.
//
// It finds other instances of the upgrader and running package managers, so
// that a run never installs while dpkg holds its lock and never races itself.
package procs
