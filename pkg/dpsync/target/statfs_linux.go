//go:build linux

package target

import (
	"golang.org/x/sys/unix"
)

// Filesystem magic numbers from statfs(2).
var fsMagic = map[uint32]string{
	0xEF53:     "ext4",
	0x4d44:     "vfat",
	0x2011BAB0: "exfat",
	0x5346544e: "ntfs",
	0x65735546: "fuse",
	0x9123683E: "btrfs",
	0x58465342: "xfs",
	0xF2F52010: "f2fs",
	0x01021994: "tmpfs",
	0x6969:     "nfs",
	0xFF534D42: "cifs",
	0x794c7630: "overlay",
	0x2FC12FC1: "zfs",
}

func statfs(path string) (ProbeResult, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return ProbeResult{}, err
	}
	bsize := int64(st.Bsize)
	return ProbeResult{
		Capacity: int64(st.Blocks) * bsize,
		Free:     int64(st.Bavail) * bsize,
		FSType:   fsMagic[uint32(st.Type)],
	}, nil
}

func deviceID(path string) (uint64, bool) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, false
	}
	return uint64(st.Dev), true
}
