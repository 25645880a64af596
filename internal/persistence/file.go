package persistence

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"
)

const writeBufferSize = 256 * 1024

// SaveToFile writes a file atomically: writeFunc fills a temp file in the
// same directory, which is synced and renamed over filename. A failed save
// leaves any previous file in place.
func SaveToFile(filename string, writeFunc func(io.Writer) error) (err error) {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(filename)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	_ = tmp.Chmod(0o644)

	buf := bufio.NewWriterSize(tmp, writeBufferSize)
	if err := writeFunc(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, filename); err != nil {
		return err
	}

	// fsync the directory so the rename survives a crash (best effort)
	if d, derr := os.Open(dir); derr == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// WriteBytes atomically replaces filename with data
func WriteBytes(filename string, data []byte) error {
	return SaveToFile(filename, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// OpenIfExists opens filename for reading. A missing file returns (nil, nil).
func OpenIfExists(filename string) (*os.File, error) {
	f, err := os.Open(filename)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return f, err
}
