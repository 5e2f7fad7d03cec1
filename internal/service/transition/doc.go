// Package transition moves the WireGuard configuration across a package swap.
//
// The Manager snapshots the active configuration, keeps tunnel addresses
// alive in the kernel while the configuration tree is gone, deletes the tree
// and later loads the snapshot back. Its state only moves forward:
//
//	Idle -> Snapshotted -> Detached -> Deleted -> Restored
//
// Any failure moves it to Failed.
package transition
