package id

import (
	"encoding/binary"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalid is returned by Parse for malformed IDs.
var ErrInvalid = errors.New("id: invalid stream id")

// ID is a stream record identifier: milliseconds since the Unix epoch plus a
// sequence that breaks ties within one millisecond. Its textual form is
// "<ms>-<seq>" and its binary form is 16 bytes big-endian, so byte order and
// numeric order agree.
type ID struct {
	Ms  uint64
	Seq uint64
}

// Zero is the smallest ID ("0-0").
var Zero = ID{}

// Max is the largest representable ID.
var Max = ID{Ms: math.MaxUint64, Seq: math.MaxUint64}

// NowMs returns current time in milliseconds since Unix epoch.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// String returns the "<ms>-<seq>" form.
func (i ID) String() string {
	return strconv.FormatUint(i.Ms, 10) + "-" + strconv.FormatUint(i.Seq, 10)
}

// IsZero reports whether i is "0-0".
func (i ID) IsZero() bool { return i == Zero }

// Bytes returns the 16-byte big-endian encoding.
func (i ID) Bytes() []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], i.Ms)
	binary.BigEndian.PutUint64(b[8:16], i.Seq)
	return b
}

// AppendBytes appends the 16-byte encoding to dst.
func (i ID) AppendBytes(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint64(dst, i.Ms)
	return binary.BigEndian.AppendUint64(dst, i.Seq)
}

// Compare returns -1, 0, 1.
func (i ID) Compare(other ID) int {
	switch {
	case i.Ms < other.Ms:
		return -1
	case i.Ms > other.Ms:
		return 1
	case i.Seq < other.Seq:
		return -1
	case i.Seq > other.Seq:
		return 1
	default:
		return 0
	}
}

// Less reports whether i sorts before other.
func (i ID) Less(other ID) bool { return i.Compare(other) < 0 }

// Incr returns the smallest ID strictly greater than i.
func (i ID) Incr() ID {
	if i.Seq == math.MaxUint64 {
		return ID{Ms: i.Ms + 1}
	}
	return ID{Ms: i.Ms, Seq: i.Seq + 1}
}

// Parse accepts "<ms>-<seq>" or a bare "<ms>" (sequence 0).
func Parse(s string) (ID, error) {
	msPart, seqPart, hasSeq := strings.Cut(s, "-")
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return ID{}, ErrInvalid
	}
	if !hasSeq {
		return ID{Ms: ms}, nil
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return ID{}, ErrInvalid
	}
	return ID{Ms: ms, Seq: seq}, nil
}

// FromBytes decodes a 16-byte encoding.
func FromBytes(b []byte) (ID, error) {
	if len(b) != 16 {
		return ID{}, ErrInvalid
	}
	return ID{Ms: binary.BigEndian.Uint64(b[0:8]), Seq: binary.BigEndian.Uint64(b[8:16])}, nil
}

// NextAfter returns the ID to assign to a record appended after last. It uses
// the current clock and falls back to last's millisecond with an incremented
// sequence when the clock has not moved past it.
func NextAfter(last ID) ID {
	ms := NowMs()
	if ms < 0 {
		ms = 0
	}
	if uint64(ms) > last.Ms {
		return ID{Ms: uint64(ms)}
	}
	return last.Incr()
}
