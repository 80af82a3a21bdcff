// Package output writes reconciled crags and regions to disk as NDJSON and GeoJSON.
// Every file is written to a temporary sibling and renamed into place, so readers
// never observe a partial file.
package output

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JakeFAU/crag-crawler/internal/harvest"
)

const (
	dirPerm  = 0o750
	filePerm = 0o640
)

// writeAtomic streams content through fill into path.
func writeAtomic(path string, fill func(w *bufio.Writer) error) (err error) {
	if path == "" {
		return &harvest.WriteError{Path: path, Op: "validate", Err: fmt.Errorf("empty output path")}
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return &harvest.WriteError{Path: path, Op: "mkdir", Err: err}
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return &harvest.WriteError{Path: path, Op: "create", Err: err}
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	buf := bufio.NewWriter(tmp)
	if err = fill(buf); err != nil {
		return &harvest.WriteError{Path: path, Op: "encode", Err: err}
	}
	if err = buf.Flush(); err != nil {
		return &harvest.WriteError{Path: path, Op: "flush", Err: err}
	}
	if err = tmp.Sync(); err != nil {
		return &harvest.WriteError{Path: path, Op: "sync", Err: err}
	}
	if err = tmp.Chmod(filePerm); err != nil {
		return &harvest.WriteError{Path: path, Op: "chmod", Err: err}
	}
	if err = tmp.Close(); err != nil {
		return &harvest.WriteError{Path: path, Op: "close", Err: err}
	}
	if err = os.Rename(tmpName, path); err != nil {
		return &harvest.WriteError{Path: path, Op: "rename", Err: err}
	}
	return nil
}
