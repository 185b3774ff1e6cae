package eventlog

import (
	"github.com/rzbill/pulse/pkg/id"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - log/{stream}\x00m
// - log/{stream}\x00e{id_be16}
// - log/{stream}\x00g{group}\x00
// - log/{stream}\x00p{group}\x00{id_be16}
// - log/{stream}\x00c{group}\x00{consumer}

const (
	term         = byte(0x00)
	metaTag      = byte('m')
	entryTag     = byte('e')
	groupTag     = byte('g')
	pendingTag   = byte('p')
	consumerTag  = byte('c')
	streamPrefix = "log/"
)

func streamBase(stream string, extra int) []byte {
	k := make([]byte, 0, len(streamPrefix)+len(stream)+2+extra)
	k = append(k, streamPrefix...)
	k = append(k, stream...)
	return append(k, term)
}

// KeyStreamMeta builds the stream metadata key.
func KeyStreamMeta(stream string) []byte {
	return append(streamBase(stream, 0), metaTag)
}

// KeyEntryPrefix returns the prefix shared by all entries of a stream.
func KeyEntryPrefix(stream string) []byte {
	return append(streamBase(stream, 16), entryTag)
}

// KeyEntry builds the entry key with a big-endian ID for proper ordering.
func KeyEntry(stream string, rid id.ID) []byte {
	return rid.AppendBytes(KeyEntryPrefix(stream))
}

// KeyGroupPrefix returns the prefix shared by all group meta keys of a stream.
func KeyGroupPrefix(stream string) []byte {
	return append(streamBase(stream, 0), groupTag)
}

// KeyGroup builds the consumer group metadata key.
func KeyGroup(stream, group string) []byte {
	k := KeyGroupPrefix(stream)
	k = append(k, group...)
	return append(k, term)
}

// KeyPendingPrefix returns the prefix of a group's pending-entries list.
func KeyPendingPrefix(stream, group string) []byte {
	k := append(streamBase(stream, len(group)+17), pendingTag)
	k = append(k, group...)
	return append(k, term)
}

// KeyPending builds the pending entry key for a delivered, unacknowledged ID.
func KeyPending(stream, group string, rid id.ID) []byte {
	return rid.AppendBytes(KeyPendingPrefix(stream, group))
}

// KeyConsumerPrefix returns the prefix of a group's consumer registry.
func KeyConsumerPrefix(stream, group string) []byte {
	k := append(streamBase(stream, len(group)+1), consumerTag)
	k = append(k, group...)
	return append(k, term)
}

// KeyConsumer builds the consumer registry key.
func KeyConsumer(stream, group, consumer string) []byte {
	return append(KeyConsumerPrefix(stream, group), consumer...)
}

// idFromKey decodes the trailing 16-byte ID of an entry or pending key.
func idFromKey(k []byte) (id.ID, bool) {
	if len(k) < 16 {
		return id.ID{}, false
	}
	rid, err := id.FromBytes(k[len(k)-16:])
	return rid, err == nil
}
