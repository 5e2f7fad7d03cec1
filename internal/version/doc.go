// Package version exposes build metadata of the wg-upgrade binary.
//
// Version, Commit and BuildTime are injected through ldflags; UserAgent
// renders them for HTTP requests against the release index.
package version
