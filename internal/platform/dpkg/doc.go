// Package dpkg queries and installs Debian packages.
package dpkg
