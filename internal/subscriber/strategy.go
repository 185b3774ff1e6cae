package subscriber

import streamsvc "github.com/rzbill/pulse/internal/services/streams"

type strategyKind uint8

const (
	cursorRead strategyKind = iota
	groupRead
)

// ReadStrategy selects how a subscriber reads its stream. The zero value is
// a cursor read starting at the tail.
type ReadStrategy struct {
	kind  strategyKind
	group string
	start string
}

// GroupRead reads through consumer group g; the group is created at the
// stream tail when missing.
func GroupRead(g string) ReadStrategy {
	return ReadStrategy{kind: groupRead, group: g, start: streamsvc.TailID}
}

// GroupReadFrom is GroupRead with an explicit creation start ID ("0" replays
// the retained history).
func GroupReadFrom(g, start string) ReadStrategy {
	return ReadStrategy{kind: groupRead, group: g, start: start}
}

// CursorRead follows the stream from its tail with a local cursor.
func CursorRead() ReadStrategy { return ReadStrategy{kind: cursorRead} }

// IsGroup reports whether the strategy is a consumer group read.
func (r ReadStrategy) IsGroup() bool { return r.kind == groupRead }

// Group returns the consumer group name, empty for cursor reads.
func (r ReadStrategy) Group() string { return r.group }

func (r ReadStrategy) String() string {
	if r.kind == groupRead {
		return "group:" + r.group
	}
	return "cursor"
}
