// Package vyatta talks to the EdgeOS configuration system.
//
// Reads of the active configuration go through cli-shell-api. Mutations run
// inside a session opened with vyatta-cfg-cmd-wrapper: begin, set/delete/load,
// commit, end. All wrapper calls come from this process, so they share the
// session keyed on the parent pid.
package vyatta
