// Package shell runs the device's external commands.
//
// Collaborators talk to the configuration system, dpkg, modprobe and ip
// through the Executor interface, so they can be tested with scripted fakes.
package shell
