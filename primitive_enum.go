package structs

import (
	"fmt"
	"strings"

	"github.com/archiecobbs/pdel-go/pdelerr"
)

// EnumPair is one name/value mapping of an identifier-enum primitive.
type EnumPair struct {
	Name  string
	Value int64
}

// NewIdentEnumType returns the identifier-enum primitive: a string
// that ascifies/binifies against a fixed name<->int table, stored on
// the wire as its int64 value. When caseInsensitive is true, Binify
// matches names ignoring case.
func NewIdentEnumType(pairs []EnumPair, caseInsensitive bool) Type {
	byName := make(map[string]int64, len(pairs))
	byValue := make(map[int64]string, len(pairs))
	for _, p := range pairs {
		key := p.Name
		if caseInsensitive {
			key = strings.ToLower(key)
		}
		byName[key] = p.Value
		if _, ok := byValue[p.Value]; !ok {
			byValue[p.Value] = p.Name
		}
	}
	return newPrimitiveType[int64](
		func(v int64) (string, error) {
			name, ok := byValue[v]
			if !ok {
				return "", fmt.Errorf("%w: %d is not a member of this enum", pdelerr.ErrInvalidArgument, v)
			}
			return name, nil
		},
		func(s string) (int64, error) {
			key := s
			if caseInsensitive {
				key = strings.ToLower(s)
			}
			v, ok := byName[key]
			if !ok {
				return 0, fmt.Errorf("%w: %q is not a member of this enum", pdelerr.ErrNotFound, s)
			}
			return v, nil
		},
		be64,
		func(b []byte) (int64, int, error) {
			u, n, err := decodeBE64(b)
			return int64(u), n, err
		},
	)
}
