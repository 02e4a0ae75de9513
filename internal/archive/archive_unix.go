//go:build linux || darwin

package archive

import (
	"os"
	"syscall"
)

// platformOwnership extracts uid/gid from the platform-specific stat_t
// embedded in a FileInfo's Sys(). Returns ok=false when unavailable.
func platformOwnership(info os.FileInfo) (uid, gid int, ok bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return int(st.Uid), int(st.Gid), true
}
