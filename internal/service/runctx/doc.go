// Package runctx holds the resources owned by one upgrade run: the scratch
// directory and the configuration session that may be open at any moment.
//
// Close releases both exactly once, whichever path the run leaves through.
package runctx
