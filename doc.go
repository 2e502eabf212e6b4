// Package modelsync maintains a live, locally-materialised projection of a
// server-owned entity. It bootstraps a Model from an authoritative snapshot,
// keeps it current via a resumable realtime change feed (Stream), and lets
// the application submit optimistic mutations that are provisionally applied
// to local state and later reconciled against confirmed messages from the
// server.
//
// The transport (channel attach/detach, history pagination, message
// receipt), the snapshot fetch and the state-merge function are supplied by
// the caller through the Transport, and the Sync/Merge function types; this
// package owns only the replay, ordering, optimistic-reconciliation and
// lifecycle machinery built on top of them.
package modelsync
