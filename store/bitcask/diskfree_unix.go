//go:build linux || darwin

package bitcask

import "golang.org/x/sys/unix"

func init() {
	diskFree = statfsAvailBytes
}

// statfsAvailBytes reports the bytes a non-privileged caller could
// still write to the filesystem holding dir, backing the avail_space
// field of the `stats` report.
func statfsAvailBytes(dir string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}
