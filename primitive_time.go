package structs

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/archiecobbs/pdel-go/pdelerr"
)

// TimeForm selects one of the ascii conventions available for the
// time primitive.
type TimeForm int

const (
	// TimeGMT ascifies as RFC 1123 in UTC.
	TimeGMT TimeForm = iota
	// TimeLocal ascifies as RFC 1123 in the local zone.
	TimeLocal
	// TimeISO8601 ascifies as RFC 3339.
	TimeISO8601
	// TimeEpochAbsolute ascifies as decimal seconds since the epoch.
	TimeEpochAbsolute
	// TimeEpochRelative ascifies as signed decimal seconds relative
	// to now; Binify of "+N"/"-N" is resolved to an absolute instant
	// at parse time.
	TimeEpochRelative
)

// NewTimeType returns the time primitive for the given ascii
// convention. The underlying stored value is always an absolute
// instant; only the ascii rendering differs.
func NewTimeType(form TimeForm) Type {
	return newPrimitiveType[time.Time](
		func(v time.Time) (string, error) {
			switch form {
			case TimeGMT:
				return v.UTC().Format(time.RFC1123), nil
			case TimeLocal:
				return v.Local().Format(time.RFC1123), nil
			case TimeISO8601:
				return v.UTC().Format(time.RFC3339), nil
			case TimeEpochAbsolute:
				return strconv.FormatInt(v.Unix(), 10), nil
			case TimeEpochRelative:
				delta := int64(time.Until(v).Seconds())
				return fmt.Sprintf("%+d", delta), nil
			default:
				return "", fmt.Errorf("%w: unknown time form", pdelerr.ErrInvalidArgument)
			}
		},
		func(s string) (time.Time, error) {
			s = strings.TrimSpace(s)
			if form == TimeEpochRelative && (strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-")) {
				delta, err := strconv.ParseInt(s, 10, 64)
				if err != nil {
					return time.Time{}, fmt.Errorf("%w: %v", pdelerr.ErrParse, err)
				}
				return time.Now().Add(time.Duration(delta) * time.Second), nil
			}
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return time.Unix(n, 0).UTC(), nil
			}
			for _, layout := range []string{time.RFC3339, time.RFC1123, time.RFC1123Z, time.ANSIC} {
				if t, err := time.Parse(layout, s); err == nil {
					return t, nil
				}
			}
			return time.Time{}, fmt.Errorf("%w: %q is not a recognized time form", pdelerr.ErrParse, s)
		},
		func(v time.Time) []byte { return be64(uint64(v.Unix())) },
		func(b []byte) (time.Time, int, error) {
			u, n, err := decodeBE64(b)
			return time.Unix(int64(u), 0).UTC(), n, err
		},
	)
}
