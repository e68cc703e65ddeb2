package streams

import "encoding/binary"

// Key layout, one Pebble keyspace per concern so enumeration never walks
// event rows:
//
//	m!<name>            stream record (watermark, TTL, incarnation)
//	e!<name>!<seq BE8>  committed event envelope
//	t!<name>            tombstone; deletion is terminal
//
// Stream names are validated at the API boundary and never contain '!'.

func keyMeta(name string) []byte {
	return []byte("m!" + name)
}

func keyTombstone(name string) []byte {
	return []byte("t!" + name)
}

func keyEvent(name string, seq uint64) []byte {
	k := make([]byte, 0, len(name)+11)
	k = append(k, 'e', '!')
	k = append(k, name...)
	k = append(k, '!')
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return append(k, b[:]...)
}

// keyEventBounds returns the [low, high) iterator bounds covering every
// event row of a stream.
func keyEventBounds(name string) (low, high []byte) {
	low = keyEvent(name, 0)
	high = append(keyEvent(name, ^uint64(0)), 0x00)
	return low, high
}

// seqFromEventKey extracts the big-endian sequence suffix.
func seqFromEventKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key[len(key)-8:])
}

const metaPrefix = "m!"

// metaBounds returns iterator bounds covering every stream record.
func metaBounds() (low, high []byte) {
	return []byte(metaPrefix), []byte("m\"")
}

// nameFromMetaKey strips the record prefix.
func nameFromMetaKey(key []byte) string {
	if len(key) <= len(metaPrefix) {
		return ""
	}
	return string(key[len(metaPrefix):])
}
