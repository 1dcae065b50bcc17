// Package watcher adapts fsnotify into an ordered stream of tree-level events
// for one recursively watched directory.
//
// Events are delivered on a bounded channel in the order fsnotify reported
// them; nothing is coalesced or reordered. A rename inside one directory is
// reported as a single Renamed event, every other move as Deleted plus
// Created. When the native layer loses events (queue overflow, restart) a
// Resync event tells the consumer to rescan.
package watcher
