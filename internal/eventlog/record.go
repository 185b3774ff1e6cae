package eventlog

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"sort"
)

// Record encoding: varint headerLen | header | payload | crc32c(header|payload)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// fieldsV1 marks payloads encoded by encodeFields.
var fieldsV1 = []byte{1}

var errCorruptFields = errors.New("eventlog: corrupt field encoding")

func EncodeRecord(header, payload []byte) []byte {
	out := make([]byte, 0, 10+len(header)+len(payload)+4)
	out = binary.AppendUvarint(out, uint64(len(header)))
	out = append(out, header...)
	out = append(out, payload...)

	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	return binary.BigEndian.AppendUint32(out, crc)
}

type Decoded struct {
	Header  []byte
	Payload []byte
}

func DecodeRecord(b []byte) (Decoded, bool) {
	if len(b) < 1+4 {
		return Decoded{}, false
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 {
		return Decoded{}, false
	}
	if n+int(hlen)+4 > len(b) {
		return Decoded{}, false
	}
	header := b[n : n+int(hlen)]
	payload := b[n+int(hlen) : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != expect {
		return Decoded{}, false
	}
	return Decoded{Header: append([]byte(nil), header...), Payload: append([]byte(nil), payload...)}, true
}

// encodeFields writes count | (klen | k | vlen | v)* with keys sorted.
func encodeFields(fields map[string]string) []byte {
	keys := make([]string, 0, len(fields))
	size := 10
	for k, v := range fields {
		keys = append(keys, k)
		size += len(k) + len(v) + 4
	}
	sort.Strings(keys)
	out := make([]byte, 0, size)
	out = binary.AppendUvarint(out, uint64(len(keys)))
	for _, k := range keys {
		v := fields[k]
		out = binary.AppendUvarint(out, uint64(len(k)))
		out = append(out, k...)
		out = binary.AppendUvarint(out, uint64(len(v)))
		out = append(out, v...)
	}
	return out
}

func decodeFields(b []byte) (map[string]string, error) {
	count, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, errCorruptFields
	}
	b = b[n:]
	// each pair needs at least two length bytes
	if count > uint64(len(b)/2) {
		return nil, errCorruptFields
	}
	fields := make(map[string]string, count)
	next := func() (string, error) {
		l, n := binary.Uvarint(b)
		if n <= 0 || uint64(len(b)-n) < l {
			return "", errCorruptFields
		}
		s := string(b[n : n+int(l)])
		b = b[n+int(l):]
		return s, nil
	}
	for i := uint64(0); i < count; i++ {
		k, err := next()
		if err != nil {
			return nil, err
		}
		v, err := next()
		if err != nil {
			return nil, err
		}
		fields[k] = v
	}
	return fields, nil
}

func encodeEntry(fields map[string]string) []byte {
	return EncodeRecord(fieldsV1, encodeFields(fields))
}

func decodeEntry(b []byte) (map[string]string, bool) {
	dec, ok := DecodeRecord(b)
	if !ok {
		return nil, false
	}
	fields, err := decodeFields(dec.Payload)
	if err != nil {
		return nil, false
	}
	return fields, true
}
