//go:build linux || darwin

package metadata

import (
	"os"
	"syscall"
)

func statOwnership(info os.FileInfo) (uid, gid int, ok bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return int(st.Uid), int(st.Gid), true
}
