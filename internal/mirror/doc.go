// Package mirror keeps an in-memory tree synchronized with a directory
// subtree on disk.
//
// A tree starts with NewRoot, which imports every qualifying entry below the
// root. Watch binds a recursive native watch to the root so the tree follows
// later changes; Refresh forces a reconciliation pass. Filters (allow, deny
// and ignore rules) and inherited values are copied from parent to child when
// a child is created and cascaded to existing descendants on request.
//
// Each Node guards its own state with its own mutex. Locks are always taken
// ancestor first. Listener callbacks and bus publication run after every
// node lock has been released, so a listener may read the tree. Delivery on
// a node is serialized: a callback must not synchronously cause another event
// on the node it is registered on, or it waits on itself.
package mirror
