// Package config defines the upgrader settings and provides helpers to
// load, validate and save them in YAML format.
//
// Every field has a device default, so a missing settings file at the
// default location is not an error.
package config
