package keystore

import (
	"errors"
	"os"
)

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

// fileLoader returns a Config.Loader backed by a plain local file.
func fileLoader(path string) func() ([]byte, error) {
	return func() ([]byte, error) {
		return os.ReadFile(path)
	}
}

// fileSaver returns a Config.Saver backed by a plain local file, writing via
// a temp-file-plus-rename so a crash mid-write never leaves a truncated
// store behind.
func fileSaver(path string) func([]byte) error {
	return func(data []byte) error {
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o600); err != nil {
			return err
		}
		return os.Rename(tmp, path)
	}
}
