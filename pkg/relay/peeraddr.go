package relay

import (
	"fmt"
	"strings"
)

// FormatPeerAddr renders a raw peer address as text. A 4-byte buffer is
// formatted as an IPv4 dotted quad. A 16-byte buffer in IPv4-mapped form
// (ten zero bytes then 0xff 0xff) collapses to the dotted quad of its last
// four bytes; any other 16-byte buffer is formatted as eight colon-separated
// groups of four lowercase hex digits, without zero compression, so the same
// address always renders identically. Anything else yields "".
func FormatPeerAddr(addr []byte) string {
	switch len(addr) {
	case 4:
		return fmt.Sprintf("%d.%d.%d.%d", addr[0], addr[1], addr[2], addr[3])
	case 16:
		mapped := true
		for _, c := range addr[:10] {
			if c != 0 {
				mapped = false
				break
			}
		}
		if mapped && addr[10] == 0xff && addr[11] == 0xff {
			return fmt.Sprintf("%d.%d.%d.%d", addr[12], addr[13], addr[14], addr[15])
		}
		var sb strings.Builder
		sb.Grow(39)
		for i := 0; i < 16; i += 2 {
			if i > 0 {
				sb.WriteByte(':')
			}
			fmt.Fprintf(&sb, "%02x%02x", addr[i], addr[i+1])
		}
		return sb.String()
	}
	return ""
}
