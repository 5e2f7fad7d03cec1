// Package journal persists the summary of the last upgrade run.
//
// The FileRepository stores and loads the record as YAML on disk and exposes a
// Repository interface that the upgrade service depends on.
package journal
