// Package progress serves run progress to clients.
//
// A run is stored as three facets under Keys.RunPrefix: a meta hash written
// at run start (":meta"), a latest-snapshot hash overwritten by producers
// (":latest") and an event stream of progress deltas (":events"). Owners
// index their candidate runs in a set under Keys.OwnerPrefix.
//
// The Reconciler answers pull queries, the Pusher streams the same view to
// one connected client, and the Publisher is the producer side that writes
// all three facets.
package progress
