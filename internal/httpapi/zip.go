package httpapi

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// zipDir streams every regular file under root into a zip archive written
// to w, with archive paths relative to root.
func zipDir(w io.Writer, root string) error {
	zw := zip.NewWriter(w)
	defer zw.Close()

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("httpapi: relative path for %s: %w", path, err)
		}

		entry, err := zw.Create(rel)
		if err != nil {
			return fmt.Errorf("httpapi: zip entry for %s: %w", rel, err)
		}
		src, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("httpapi: open %s: %w", path, err)
		}
		defer src.Close()

		if _, err := io.Copy(entry, src); err != nil {
			return fmt.Errorf("httpapi: write %s: %w", rel, err)
		}
		return nil
	})
}
