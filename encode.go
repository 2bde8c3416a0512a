package structs

import (
	"encoding/binary"

	"github.com/archiecobbs/pdel-go/pdelerr"
)

// encodeCountPrefixed renders data as "u32 byte count || bytes", the
// wire shape of opaque binary payloads. Arrays use an element count
// instead ("u32 length || element×n", see ArrayType.Encode).
func encodeCountPrefixed(data []byte) []byte {
	out := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(out, uint32(len(data)))
	copy(out[4:], data)
	return out
}

// decodeCountPrefixed reads "u32 count || bytes" off the front of b,
// returning the payload and the total bytes consumed.
func decodeCountPrefixed(b []byte) (payload []byte, consumed int, err error) {
	if len(b) < 4 {
		return nil, 0, pdelerr.NewParseError(0, "truncated length prefix")
	}
	n := binary.BigEndian.Uint32(b)
	if uint64(4+n) > uint64(len(b)) {
		return nil, 0, pdelerr.NewParseError(4, "length prefix %d exceeds remaining %d bytes", n, len(b)-4)
	}
	return b[4 : 4+n], int(4 + n), nil
}

// encodeString renders s as "u32 length || bytes || 0"
func encodeString(s string) []byte {
	b := []byte(s)
	out := make([]byte, 4+len(b)+1)
	binary.BigEndian.PutUint32(out, uint32(len(b)))
	copy(out[4:], b)
	out[len(out)-1] = 0
	return out
}

// decodeString reads "u32 length || bytes || 0" off the front of b.
func decodeString(b []byte) (s string, consumed int, err error) {
	if len(b) < 4 {
		return "", 0, pdelerr.NewParseError(0, "truncated string length prefix")
	}
	n := binary.BigEndian.Uint32(b)
	end := 4 + int(n)
	if end+1 > len(b) {
		return "", 0, pdelerr.NewParseError(4, "string length %d exceeds remaining %d bytes", n, len(b)-4)
	}
	return string(b[4:end]), end + 1, nil
}
