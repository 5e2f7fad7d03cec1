// Package resolver finds the release to install.
//
// HTTPIndex downloads the release list, Resolver compares it with the
// installed package version and decides whether an upgrade is needed.
package resolver
