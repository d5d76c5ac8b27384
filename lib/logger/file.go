package logger

import (
	"fmt"
	"os"
	"path"
)

func checkNotExist(path string) bool {
	_, err := os.Stat(path)
	return os.IsNotExist(err)
}

func checkPermission(path string) bool {
	_, err := os.Stat(path)
	return os.IsPermission(err)
}

func isNotExistMkDir(src string) error {
	if checkNotExist(src) {
		return mkDir(src)
	}
	return nil
}

func mkDir(src string) error {
	return os.MkdirAll(src, os.ModePerm)
}

// mustOpen opens (creating if needed) the log file at dir/name, appending.
func mustOpen(fileName, dir string) (*os.File, error) {
	if checkPermission(dir) {
		return nil, fmt.Errorf("permission denied: %s", dir)
	}
	if err := isNotExistMkDir(dir); err != nil {
		return nil, fmt.Errorf("creating log directory: %s", err)
	}
	f, err := os.OpenFile(
		path.Join(dir, fileName),
		os.O_CREATE|os.O_APPEND|os.O_RDWR,
		0644,
	)
	if err != nil {
		return nil, err
	}
	return f, nil
}
