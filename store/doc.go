// Package store implements the in-memory commit chain, its optimistic
// concurrency protocol, and the append-only persistence pipeline behind
// chainkv: a singly linked list of immutable change-sets, newest first,
// with CAS-linearized commits and retroactive conflict detection against
// whatever was interposed since a transaction's snapshot.
package store
