// Package id provides stream record identifiers.
//
// # Format
//
// An ID is a pair (milliseconds, sequence). The textual form is "<ms>-<seq>",
// for example "1718000000000-3". The binary form is 16 bytes big-endian
// [8 bytes ms][8 bytes seq], which keeps byte-wise ordering equal to
// chronological ordering and makes IDs usable directly as key suffixes.
//
// # Monotonicity
//
// NextAfter never returns an ID less than or equal to the previous one:
//   - if the clock regresses, it pins to the last millisecond and increments
//     the sequence;
//   - if the sequence would overflow, it moves to the next millisecond.
//
// Usage
//
//	next := id.NextAfter(last)
//	s := next.String()  // "1718000000000-0"
//	p, _ := id.Parse(s)
package id
