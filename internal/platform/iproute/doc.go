// Package iproute reads and assigns interface addresses with the ip tool.
package iproute
