// Package watcher drives incremental reindexing from filesystem events.
// It watches the roots of Watch-enabled sources with fsnotify, debounces
// write bursts per path before handing the file to the indexing pipeline,
// and maps removals and renames to document deletion.
//
// A PID lock file in the state directory keeps concurrent watchers off
// the same index; a lock left behind by a dead process is detected and
// taken over.
package watcher
