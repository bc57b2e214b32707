// Package scan enumerates a project folder's image files, excluding the
// system's own metadata subdirectory.
package scan

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// MetadataDirName is the subdirectory scan never descends into — where
// cluster-sorter keeps its own persisted state when run without an
// external database.
const MetadataDirName = ".cluster-sorter"

// Handle is one discovered image: a project-relative path and a way to
// load its bytes. Satisfies the Scanner output contract (§6) and converts
// directly into a producer.ImageHandle.
type Handle struct {
	Path string
	Open func() ([]byte, error)
}

// Scan walks root recursively and returns a Handle for every file whose
// content matches a recognized image format, sorted by path for
// determinism. The MetadataDirName subdirectory is skipped entirely.
func Scan(root string) ([]Handle, error) {
	var handles []Handle

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == MetadataDirName {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		ok, err := isImageFile(path)
		if err != nil || !ok {
			return nil
		}

		capturedPath := path
		handles = append(handles, Handle{
			Path: rel,
			Open: func() ([]byte, error) { return os.ReadFile(capturedPath) },
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(handles, func(i, j int) bool { return handles[i].Path < handles[j].Path })
	return handles, nil
}

// isImageFile reads the leading bytes of path and checks them against
// known image magic numbers, grounded on the corpus's detectMIMEType.
func isImageFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	header := make([]byte, 12)
	n, err := f.Read(header)
	if err != nil && n == 0 {
		return false, nil
	}
	header = header[:n]

	return detectMIMEType(header) != "", nil
}

// detectMIMEType identifies a handful of common raster image formats from
// magic bytes. Returns "" for anything unrecognized.
func detectMIMEType(data []byte) string {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	case len(data) >= 8 && data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47:
		return "image/png"
	case len(data) >= 6 && data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38:
		return "image/gif"
	case len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50:
		return "image/webp"
	default:
		return ""
	}
}
