// Package kmod checks and unloads kernel modules.
package kmod
