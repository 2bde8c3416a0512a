package structs

import (
	"fmt"
	"net"
	"strings"

	"github.com/archiecobbs/pdel-go/pdelerr"
)

// IPv4 is the dotted-quad address primitive.
var IPv4 = newPrimitiveType[[4]byte](
	func(v [4]byte) (string, error) { return net.IP(v[:]).String(), nil },
	func(s string) ([4]byte, error) {
		ip := net.ParseIP(strings.TrimSpace(s))
		v4 := ip.To4()
		if v4 == nil {
			return [4]byte{}, fmt.Errorf("%w: %q is not an IPv4 address", pdelerr.ErrParse, s)
		}
		var out [4]byte
		copy(out[:], v4)
		return out, nil
	},
	func(v [4]byte) []byte { return append([]byte{}, v[:]...) },
	func(b []byte) ([4]byte, int, error) {
		if len(b) < 4 {
			return [4]byte{}, 0, pdelerr.NewParseError(0, "truncated ipv4 address")
		}
		var out [4]byte
		copy(out[:], b[:4])
		return out, 4, nil
	},
)

// IPv6 is the RFC 5952 canonical address primitive.
var IPv6 = newPrimitiveType[[16]byte](
	func(v [16]byte) (string, error) { return net.IP(v[:]).String(), nil },
	func(s string) ([16]byte, error) {
		ip := net.ParseIP(strings.TrimSpace(s))
		v6 := ip.To16()
		if v6 == nil || ip.To4() != nil {
			return [16]byte{}, fmt.Errorf("%w: %q is not an IPv6 address", pdelerr.ErrParse, s)
		}
		var out [16]byte
		copy(out[:], v6)
		return out, nil
	},
	func(v [16]byte) []byte { return append([]byte{}, v[:]...) },
	func(b []byte) ([16]byte, int, error) {
		if len(b) < 16 {
			return [16]byte{}, 0, pdelerr.NewParseError(0, "truncated ipv6 address")
		}
		var out [16]byte
		copy(out[:], b[:16])
		return out, 16, nil
	},
)

// Ether is the Ethernet hardware-address primitive; Binify accepts
// colonized or bare hex, Ascify always renders colonized.
var Ether = newPrimitiveType[[6]byte](
	func(v [6]byte) (string, error) { return net.HardwareAddr(v[:]).String(), nil },
	func(s string) ([6]byte, error) {
		s = strings.TrimSpace(s)
		hw, err := net.ParseMAC(s)
		if err != nil && !strings.Contains(s, ":") && len(s) == 12 {
			// bare hex without colons: reinsert them and retry
			var buf strings.Builder
			for i := 0; i < 12; i += 2 {
				if i > 0 {
					buf.WriteByte(':')
				}
				buf.WriteString(s[i : i+2])
			}
			hw, err = net.ParseMAC(buf.String())
		}
		if err != nil || len(hw) != 6 {
			return [6]byte{}, fmt.Errorf("%w: %q is not an ethernet address", pdelerr.ErrParse, s)
		}
		var out [6]byte
		copy(out[:], hw)
		return out, nil
	},
	func(v [6]byte) []byte { return append([]byte{}, v[:]...) },
	func(b []byte) ([6]byte, int, error) {
		if len(b) < 6 {
			return [6]byte{}, 0, pdelerr.NewParseError(0, "truncated ethernet address")
		}
		var out [6]byte
		copy(out[:], b[:6])
		return out, 6, nil
	},
)
