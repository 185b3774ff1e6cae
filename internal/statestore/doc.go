// Package statestore stores small hashes and sets in Pebble. Runs keep their
// meta and latest-snapshot as hashes and owners index their runs in sets.
//
// Layout:
//   - hash/{key}\x00{field} -> value
//   - set/{key}\x00{member} -> empty
//
// Every mutation of one key is a single atomic batch.
package statestore
