//go:build !linux && !darwin && !freebsd

package target

import "os"

// statfs reports no capacity on platforms without statfs; the free-space
// check is skipped when MinFree is unset.
func statfs(path string) (ProbeResult, error) {
	if _, err := os.Stat(path); err != nil {
		return ProbeResult{}, err
	}
	return ProbeResult{}, nil
}

func deviceID(string) (uint64, bool) { return 0, false }
