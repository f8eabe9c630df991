//go:build darwin || freebsd

package target

import (
	"golang.org/x/sys/unix"
)

func statfs(path string) (ProbeResult, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return ProbeResult{}, err
	}
	bsize := int64(st.Bsize)
	return ProbeResult{
		Capacity: int64(st.Blocks) * bsize,
		Free:     int64(st.Bavail) * bsize,
		FSType:   unix.ByteSliceToString(st.Fstypename[:]),
	}, nil
}

func deviceID(path string) (uint64, bool) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, false
	}
	return uint64(st.Dev), true
}
