// Package changewatch watches a filesystem object and calls back on change.
//
// A Watcher owns one reference to a shared state object; a notification being
// handled on the executor pool holds a second, temporary one. Whichever side
// drops the last reference finalizes the state: the owner by releasing the
// executor binding and waiting for a straggling handler, the handler by
// releasing its own binding without waiting. That split is what lets a
// callback call Reset on its own Watcher.
//
// Callbacks for one Watcher never overlap. After a Delete no further
// callbacks happen, even if a new object appears at the same path.
package changewatch
