// Package release holds the release index model and package-version ordering.
package release
